package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		DisableReqLogs bool

		UserSvc       user.Service
		SchoolSvc     *school.Service
		TeacherSvc    *teacher.Service
		StudentSvc    *student.Service
		ActivitySvc   *activity.Service
		CounselingSvc *counseling.Service
		AnalyticsSvc  *analytics.Service

		// Files serves the uploaded files under /uploads, when they are kept on disk.
		// Requests reach it only after an access check on the owning record.
		Files http.Handler
	}

	Server interface {
		http.Handler
		Start()
		Shutdown(ctx context.Context) error
		Close() error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
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
	s.app.Use(middleware.BodyLimit(bodyLimit(conf)))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	auth := newAuthenticator(conf, s.deps.UserSvc, s.deps.TeacherSvc)
	authed := []echo.MiddlewareFunc{auth.jwt(), auth.actorMiddleware}
	if s.deps.Files != nil {
		registerUploads(s.app, authed, s.deps.Files, s.deps.ActivitySvc, s.deps.CounselingSvc)
	}
	limit := newIPRateLimiter(conf.Server.AuthRateLimit, conf.Server.AuthRateBurst).middleware

	registerUserAPI(v1, auth, limit, authed, s.deps.UserSvc)
	registerSchoolAPI(v1, authed, s.deps.SchoolSvc, s.deps.TeacherSvc)
	registerTeacherAPI(v1, limit, authed, s.deps.TeacherSvc)
	dash := dashboards{students: s.deps.StudentSvc, analytics: s.deps.AnalyticsSvc}
	registerStudentAPI(v1, authed, s.deps.StudentSvc, s.deps.AnalyticsSvc)
	registerActivityAPI(v1, authed, s.deps.ActivitySvc, dash)
	registerCounselingAPI(v1, authed, s.deps.CounselingSvc, dash)
	registerAnalyticsAPI(v1, authed, s.deps.AnalyticsSvc)
}

// bodyLimit leaves room for the multipart envelope around the largest upload.
func bodyLimit(conf *core.Config) string {
	max := conf.Storage.MaxUploadSize
	if max <= 0 {
		max = 5 << 20
	}
	return strconv.FormatInt(max>>20+2, 10) + "M"
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to PHQ Care API!")
}
