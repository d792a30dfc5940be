package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool

		Logger        core.Logger
		UserSvc       user.Service
		CourseSvc     course.Service
		AttendanceSvc attendance.Service
		QuizSvc       quiz.Service
		MessagingSvc  messaging.Service
		SettingsSvc   *core.SettingsService
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, syscall.SIGINT, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.opts.UserSvc)
	registerCourseAPI(v1, jwt, s.opts.CourseSvc, s.opts.UserSvc)
	registerAttendanceAPI(v1, jwt, s.opts.AttendanceSvc, s.opts.UserSvc)
	registerQuizAPI(v1, jwt, s.opts.QuizSvc, s.opts.UserSvc)
	registerMessagingAPI(v1, jwt, s.opts.MessagingSvc, s.opts.UserSvc)
	registerReportAPI(v1, jwt, s.opts.AttendanceSvc, s.opts.CourseSvc, s.opts.UserSvc, s.opts.SettingsSvc)
	registerSettingsAPI(v1, jwt, s.opts.SettingsSvc)
}

// signalShutdown is handed to the error handler so integrity errors can
// trigger a graceful stop.
func (s *server) signalShutdown() {
	s.shutdown <- syscall.SIGTERM
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Shule API!")
}
