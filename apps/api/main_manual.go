package main

import (
	"fmt"

	dig_container "github.com/trezcool/fieldops/apps/api/di/dig"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/assistant"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/user"
)

// startManual wires the same providers as the dig container, by hand.
func startManual() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := dig_container.NewLogger("API", conf)
	defer logger.Close()
	dbLogger := dig_container.NewLogger("DB", conf)

	// set up storage
	db, err := dig_container.NewDB(conf, dbLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	if db != nil {
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
	}
	repos := dig_container.NewRepositories(db)

	rdb, err := dig_container.NewRedis(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	store, err := dig_container.NewObjectStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up object storage: %v", err), err)
	}

	// set up services
	mailSvc := dig_container.NewEmailService(conf, logger)
	smsSvc, err := dig_container.NewSMSService(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up sms: %v", err), err)
	}

	translator := core.NewTranslator()
	validate := dig_container.NewValidator(translator)

	tenantSvc := dig_container.NewTenantService(repos.Tenants, dig_container.NewLocker(rdb, logger), repos.Users, store, logger)
	usrSvc := user.NewService(repos.Users, tenantSvc, mailSvc, conf, logger)
	notifSvc := dig_container.NewNotificationService(repos.Notifications, dig_container.NewHub(rdb, logger), tenantSvc, usrSvc, mailSvc, smsSvc, logger)
	personnelSvc := personnel.NewService(repos.Personnel)
	clientSvc := dig_container.NewClientService(repos.Clients, repos.WorkOrders)
	reminderSvc := schedule.NewService(repos.Reminders, conf)
	workOrderSvc := dig_container.NewWorkOrderService(repos.WorkOrders, tenantSvc, personnelSvc, clientSvc, reminderSvc, notifSvc, logger)

	server := dig_container.NewServer(dig_container.ServerParams{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		TenantSvc:       tenantSvc,
		UserSvc:         usrSvc,
		PersonnelSvc:    personnelSvc,
		ClientSvc:       clientSvc,
		WorkOrderSvc:    workOrderSvc,
		ReminderSvc:     reminderSvc,
		NotificationSvc: notifSvc,
		AttachmentSvc:   dig_container.NewAttachmentService(repos.Attachments, store, tenantSvc, workOrderSvc, logger),
		AssistantSvc:    assistant.NewService(tenantSvc, personnelSvc, clientSvc, workOrderSvc, validate, logger),
	})

	run(app{
		conf:       conf,
		logger:     logger,
		server:     server,
		dispatcher: dig_container.NewDispatcher(repos.Reminders, notifSvc, conf, logger),
		resetter:   schedule.NewUsageResetter(tenantSvc, conf, logger),
	})
}
