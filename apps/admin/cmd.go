package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	studentSvc *student.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                                    - run a goose command on the database")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL                                - reset user's password")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL [-role ROLE] [-school ID]            - create or update a user")
	fmt.Fprintln(cli.out, "  importphq -school ID -year YEAR -round ROUND -file PATH   - import a PHQ-9 spreadsheet")
}

// promptPassword reads a password from the terminal without echo.
func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRole := addUserCmd.String("role", string(core.RoleSystemAdmin), "One of system_admin, school_admin, class_teacher.")
	addUserSchool := addUserCmd.String("school", "", "The user's school ID.")

	importCmd := flag.NewFlagSet("importphq", flag.ContinueOnError)
	importSchool := importCmd.String("school", "", "The school ID.")
	importYear := importCmd.Int("year", 0, "The academic year (Buddhist era).")
	importRound := importCmd.Int("round", 0, "The screening round (1-4).")
	importFile := importCmd.String("file", "", "Path to the .xlsx file.")

	for _, fs := range []*flag.FlagSet{resetPasswordCmd, addUserCmd, importCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserEmail, pwd, core.Role(*addUserRole), *addUserSchool)

	case "importphq":
		if err := importCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *importSchool == "" || *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importPHQ(*importSchool, *importYear, *importRound, *importFile)

	default:
		cli.printUsage()
		return errHelp
	}
}
