package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"

	echoapi "github.com/trezcool/phqcare/apps/api/echo"
	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
	emailsvc "github.com/trezcool/phqcare/services/email"
	filesvc "github.com/trezcool/phqcare/services/filestore"
	logsvc "github.com/trezcool/phqcare/services/logger"
	rediscache "github.com/trezcool/phqcare/storage/cache"
	"github.com/trezcool/phqcare/storage/database"
	pgrepos "github.com/trezcool/phqcare/storage/database/postgres"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	dbLogger := logsvc.NewRollbarLogger(zl.Named("db"), conf)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up cache; analytics are computed on every request without one
	var cache analytics.Cache
	if conf.Redis.Addr != "" {
		client := rediscache.NewClient(conf)
		defer client.Close()
		rc := rediscache.New(client, "phqcare:")
		if err = rc.Ping(context.Background()); err != nil {
			logger.Warn(fmt.Sprintf("redis unreachable at %s", conf.Redis.Addr), err)
		}
		cache = rc
	}

	// set up file store
	var (
		files        core.FileStore
		filesHandler http.Handler
	)
	switch strings.ToLower(conf.Storage.Driver) {
	case "", "disk":
		disk := filesvc.NewDisk(afero.NewOsFs(), conf.Storage.DiskRoot, conf.Storage.PublicBaseURL)
		files, filesHandler = disk, disk.Handler()
	default:
		if files, err = filesvc.New(conf); err != nil {
			logger.Fatal(fmt.Sprintf("setting up file store: %v", err), err)
		}
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	if conf.Server.DebugAddress != "" {
		go func() {
			if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(newServerDeps(conf, logger, db, mailSvc, files, filesHandler, cache))

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newServerDeps(
	conf *core.Config,
	logger core.Logger,
	db *sqlx.DB,
	mailSvc core.EmailService,
	files core.FileStore,
	filesHandler http.Handler,
	cache analytics.Cache,
) echoapi.ServerDeps {
	return echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       user.NewService(pgrepos.NewUserRepository(db), mailSvc, conf),
		SchoolSvc:     school.NewService(pgrepos.NewSchoolRepository(db)),
		TeacherSvc:    teacher.NewService(pgrepos.NewTeacherRepository(db), conf),
		StudentSvc:    student.NewService(pgrepos.NewStudentRepository(db)),
		ActivitySvc:   activity.NewService(pgrepos.NewActivityRepository(db), files, conf),
		CounselingSvc: counseling.NewService(pgrepos.NewCounselingRepository(db), files, conf),
		AnalyticsSvc:  analytics.NewService(pgrepos.NewAnalyticsRepository(db), cache, conf, logger),
		Files:         filesHandler,
	}
}
