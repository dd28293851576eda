package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/student"
	logsvc "github.com/trezcool/phqcare/services/logger"
	"github.com/trezcool/phqcare/storage/database"
	pgrepos "github.com/trezcool/phqcare/storage/database/postgres"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrRepo:    pgrepos.NewUserRepository(db),
		studentSvc: student.NewService(pgrepos.NewStudentRepository(db)),
		out:        os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Sync()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}
