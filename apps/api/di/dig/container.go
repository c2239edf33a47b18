package dig_container

import (
	"context"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/assistant"
	"github.com/trezcool/fieldops/core/attachment"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
	emailsvc "github.com/trezcool/fieldops/services/email"
	logsvc "github.com/trezcool/fieldops/services/logger"
	"github.com/trezcool/fieldops/services/realtime"
	smssvc "github.com/trezcool/fieldops/services/sms"
	"github.com/trezcool/fieldops/storage/cache"
	"github.com/trezcool/fieldops/storage/database"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
	sqlxrepos "github.com/trezcool/fieldops/storage/database/sqlx"
	"github.com/trezcool/fieldops/storage/objects"
)

// EngineMemory keeps every repository in memory; nothing survives a restart.
const EngineMemory = "memory"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Repositories holds the repositories of the configured database engine.
	Repositories struct {
		dig.Out

		Tenants       tenant.Repository
		Users         user.Repository
		Personnel     personnel.Repository
		Clients       client.Repository
		WorkOrders    workorder.Repository
		Reminders     schedule.Repository
		Notifications notification.Repository
		Attachments   attachment.Repository
	}

	ServerParams struct {
		dig.In

		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		TenantSvc       tenant.Service
		UserSvc         user.Service
		PersonnelSvc    personnel.Service
		ClientSvc       client.Service
		WorkOrderSvc    workorder.Service
		ReminderSvc     schedule.Service
		NotificationSvc notification.Service
		AttachmentSvc   attachment.Service
		AssistantSvc    assistant.Service
	}
)

// NewLogger returns the logger of component, e.g. "API", "WORKER", "DB".
func NewLogger(component string, conf *core.Config) *logsvc.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewStdLogger(component), conf)
}

// NewDB creates, opens and migrates the postgres database. It returns nil with the memory engine.
func NewDB(conf *core.Config, dbLogger core.Logger) (*sqlx.DB, error) {
	if conf.Database.Engine == EngineMemory {
		dbLogger.Warn("using the in-memory database: data is lost on restart")
		return nil, nil
	}

	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB, dbLogger); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrating database")
	}
	return db, nil
}

// NewRepositories returns the postgres repositories, or in-memory ones when db is nil.
func NewRepositories(db *sqlx.DB) Repositories {
	if db == nil {
		mem := inmemdb.Open()
		return Repositories{
			Tenants:       inmemdb.NewTenantRepository(mem),
			Users:         inmemdb.NewUserRepository(mem),
			Personnel:     inmemdb.NewPersonnelRepository(mem),
			Clients:       inmemdb.NewClientRepository(mem),
			WorkOrders:    inmemdb.NewWorkOrderRepository(mem),
			Reminders:     inmemdb.NewReminderRepository(mem),
			Notifications: inmemdb.NewNotificationRepository(mem),
			Attachments:   inmemdb.NewAttachmentRepository(mem),
		}
	}
	return Repositories{
		Tenants:       sqlxrepos.NewTenantRepository(db),
		Users:         sqlxrepos.NewUserRepository(db),
		Personnel:     sqlxrepos.NewPersonnelRepository(db),
		Clients:       sqlxrepos.NewClientRepository(db),
		WorkOrders:    sqlxrepos.NewWorkOrderRepository(db),
		Reminders:     sqlxrepos.NewReminderRepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Attachments:   sqlxrepos.NewAttachmentRepository(db),
	}
}

// NewRedis connects to redis; nil when no address is configured.
func NewRedis(conf *core.Config) (*redis.Client, error) {
	return cache.Open(context.Background(), conf.Redis)
}

// NewLocker returns the redis locker shared by every process, or a process-local one without redis.
func NewLocker(rdb *redis.Client, logger core.Logger) tenant.Locker {
	if rdb == nil {
		return tenant.NewMemoryLocker()
	}
	return cache.NewLocker(rdb, 0, logger)
}

// NewHub returns the redis pub/sub hub, or a process-local one without redis.
func NewHub(rdb *redis.Client, logger core.Logger) notification.Hub {
	if rdb == nil {
		return realtime.NewHub(logger)
	}
	return cache.NewHub(rdb, logger)
}

func NewObjectStore(conf *core.Config) (core.ObjectStore, error) {
	return objects.New(context.Background(), conf)
}

func NewEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logsvc.NewStdLogger("EMAIL"), logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func NewSMSService(conf *core.Config) (core.SMSService, error) {
	return smssvc.New(conf, logsvc.NewStdLogger("SMS"))
}

// NewValidator returns a validator knowing every custom tag and its translation.
func NewValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	tenant.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate
}

func NewTenantService(repo tenant.Repository, locker tenant.Locker, users user.Repository, store core.ObjectStore, logger core.Logger) tenant.Service {
	return tenant.NewService(repo, locker, users, store, logger)
}

// NewNotificationService also lets the tenant service warn tenant admins about their usage.
func NewNotificationService(
	repo notification.Repository,
	hub notification.Hub,
	tenants tenant.Service,
	users user.Service,
	mailSvc core.EmailService,
	smsSvc core.SMSService,
	logger core.Logger,
) notification.Service {
	svc := notification.NewService(repo, hub, tenants, mailSvc, smsSvc, logger)
	svc.SetAdminLister(users)
	return svc
}

func NewClientService(repo client.Repository, workOrders workorder.Repository) client.Service {
	return client.NewService(repo, workOrders)
}

func NewWorkOrderService(
	repo workorder.Repository,
	tenants tenant.Service,
	personnelSvc personnel.Service,
	clients client.Service,
	reminders schedule.Service,
	notifs notification.Service,
	logger core.Logger,
) workorder.Service {
	return workorder.NewService(repo, tenants, personnelSvc, clients, reminders, notifs, logger)
}

func NewAttachmentService(repo attachment.Repository, store core.ObjectStore, tenants tenant.Service, workOrders workorder.Service, logger core.Logger) attachment.Service {
	return attachment.NewService(repo, store, tenants, workOrders, logger)
}

func NewDispatcher(repo schedule.Repository, notifs notification.Service, conf *core.Config, logger core.Logger) *schedule.Dispatcher {
	return schedule.NewDispatcher(repo, notifs, conf, logger)
}

func NewServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		TenantSvc:       p.TenantSvc,
		UserSvc:         p.UserSvc,
		PersonnelSvc:    p.PersonnelSvc,
		ClientSvc:       p.ClientSvc,
		WorkOrderSvc:    p.WorkOrderSvc,
		ReminderSvc:     p.ReminderSvc,
		NotificationSvc: p.NotificationSvc,
		AttachmentSvc:   p.AttachmentSvc,
		AssistantSvc:    p.AssistantSvc,
	})
}

// New returns a new dependency injection dig.Container; component names the process in the logs.
func New(component string) *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(func(conf *core.Config) (*logsvc.Logger, core.Logger) {
		logger := NewLogger(component, conf)
		return logger, logger
	}))
	must(c.Provide(func(conf *core.Config) core.Logger {
		return NewLogger("DB", conf)
	}, dig.Name("dbLogger")))
	must(c.Provide(func(conf *core.Config, p DBLoggerParam) (*sqlx.DB, error) {
		return NewDB(conf, p.Logger)
	}))
	must(c.Provide(NewRepositories))
	must(c.Provide(NewRedis))
	must(c.Provide(NewLocker))
	must(c.Provide(NewHub))
	must(c.Provide(NewObjectStore))
	must(c.Provide(NewEmailService))
	must(c.Provide(NewSMSService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(NewValidator))

	must(c.Provide(NewTenantService))
	must(c.Provide(user.NewService))
	must(c.Provide(NewNotificationService))
	must(c.Provide(personnel.NewService))
	must(c.Provide(NewClientService))
	must(c.Provide(schedule.NewService))
	must(c.Provide(NewWorkOrderService))
	must(c.Provide(NewAttachmentService))
	must(c.Provide(assistant.NewService))

	must(c.Provide(NewDispatcher))
	must(c.Provide(schedule.NewUsageResetter))
	must(c.Provide(NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
