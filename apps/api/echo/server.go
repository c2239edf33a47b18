package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

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
)

type ServerDeps struct {
	Conf           *core.Config
	Logger         core.Logger
	Validate       *validator.Validate
	Translator     ut.Translator
	DisableReqLogs bool

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

type Server struct {
	deps        ServerDeps
	app         *echo.Echo
	limiter     *ipLimiter
	errors      chan error
	shutdown    chan os.Signal
	stopJanitor context.CancelFunc
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		limiter:  newIPLimiter(deps.Conf.Server.RateLimitRPS, deps.Conf.Server.RateLimitBurst),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.BodyLimit("30M"))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	routes := routeMiddleware{
		auth: chain(
			middleware.JWTWithConfig(jwtConfig(conf, "header:"+echo.HeaderAuthorization)),
			tenantMiddleware(s.deps.TenantSvc),
		),
		streamAuth: chain(
			middleware.JWTWithConfig(jwtConfig(conf, "query:token")),
			tenantMiddleware(s.deps.TenantSvc),
		),
		limit: rateLimitMiddleware(s.limiter),
	}

	registerUserAPI(v1, routes, s.deps)
	registerTenantAPI(v1, routes, s.deps)
	registerPersonnelAPI(v1, routes, s.deps)
	registerClientAPI(v1, routes, s.deps)
	registerWorkOrderAPI(v1, routes, s.deps)
	registerTaskAPI(v1, routes, s.deps)
	registerAttachmentAPI(v1, routes, s.deps)
	registerNotificationAPI(v1, routes, s.deps)
	registerAssistantAPI(v1, routes, s.deps)
}

// routeMiddleware is shared by every API group.
type routeMiddleware struct {
	auth       echo.MiddlewareFunc // bearer token, active tenant
	streamAuth echo.MiddlewareFunc // token in the query string, for websockets
	limit      echo.MiddlewareFunc // per IP rate limit
}

func chain(mws ...echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Start listens until the server is shut down; a failure to serve is reported on Errors.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	go s.limiter.runJanitor(ctx)

	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to FieldOps API!")
}
