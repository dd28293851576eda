package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/user"
	"github.com/trezcool/phqcare/services/phqimport"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

func setup(t *testing.T) (*commandLine, *inmemdb.DB, *bytes.Buffer) {
	// set up DB & repos
	db := inmemdb.Open()
	var out bytes.Buffer

	// start CLI
	return &commandLine{
		usrRepo:    inmemdb.NewUserRepository(db),
		studentSvc: student.NewService(inmemdb.NewStudentRepository(db)),
		out:        &out,
	}, db, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkRunErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err == nil || err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "referral_notes", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkRunErr(t, tt, cli.run(args))
		})
	}
}

func mockPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = orig })
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, db, _ := setup(t)
	usr := testutil.CreateUser(t, db, "head@a.test", core.RoleSchoolAdmin, "", false)
	const newPassword = "Zq7!rTn4wB"

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", usr.Email}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@a.test"}, extra: newPassword, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, extra: newPassword},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockPassword(t, pwd)

			err := cli.run(args)
			checkRunErr(t, tt, err)
			if err == nil {
				refreshed, err := cli.usrRepo.GetUserByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(newPassword))
			}
		})
	}

	t.Run("weak password", func(t *testing.T) {
		mockPassword(t, "password")
		err := cli.run([]string{"admin", "resetpassword", "-email", usr.Email})
		assert.True(t, core.IsValidation(err), "got %v", err)
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli, db, out := setup(t)
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1")
	mockPassword(t, testutil.Password)

	tests := []cliTest{
		{name: "no email", args: []string{"adduser"}, wantErr: errHelp},
		{name: "invalid role", args: []string{"adduser", "-email", "x@a.test", "-role", "janitor"}, wantErrStr: `invalid role "janitor"`},
		{name: "school admin without a school", args: []string{"adduser", "-email", "x@a.test", "-role", "school_admin"}, wantErrStr: "a school_admin needs a school"},
		{name: "system admin", args: []string{"adduser", "-email", "Admin@PHQ.test"}},
		{name: "school admin", args: []string{"adduser", "-email", "head@a.test", "-role", "school_admin", "-school", sch.ID}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkRunErr(t, tt, cli.run(args))
		})
	}

	ctx := context.Background()
	admin, err := cli.usrRepo.GetUserByEmail(ctx, "admin@phq.test")
	require.NoError(t, err)
	assert.Equal(t, core.RoleSystemAdmin, admin.Role)
	assert.True(t, admin.IsActive)
	assert.NoError(t, admin.CheckPassword(testutil.Password))

	head, err := cli.usrRepo.GetUserByEmail(ctx, "head@a.test")
	require.NoError(t, err)
	assert.Equal(t, sch.ID, head.SchoolID)

	t.Run("existing user is updated", func(t *testing.T) {
		admin.IsActive = false
		_, err := cli.usrRepo.UpdateUser(ctx, admin)
		require.NoError(t, err)

		require.NoError(t, cli.run([]string{"admin", "adduser", "-email", "admin@phq.test"}))
		got, err := cli.usrRepo.GetUserByEmail(ctx, "admin@phq.test")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, got.ID)
		assert.True(t, got.IsActive)
		assert.Contains(t, out.String(), "updated admin@phq.test")
	})
}

func writeWorkbook(t *testing.T, fs afero.Fs, path string, rows [][]interface{}) {
	t.Helper()
	f, err := phqimport.Template()
	require.NoError(t, err)
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, afero.WriteReader(fs, path, io.Reader(buf)))
}

func Test_commandLine_importPHQ(t *testing.T) {
	cli, db, out := setup(t)
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1", "ม.1/2")

	orig := importFs
	t.Cleanup(func() { importFs = orig })
	importFs = afero.NewMemMapFs()
	writeWorkbook(t, importFs, "/phq.xlsx", [][]interface{}{
		{"001", "ด.ช.", "สมชาย", "ใจดี", "ม.1/1", 3, 3, 3, 3, 3, 3, 2, 0, 0, "", ""},
		{"002", "ด.ญ.", "สมหญิง", "ใจดี", "ม.1/2", 0, 0, 0, 0, 0, 0, 0, 0, 0, "", ""},
		{"003", "ด.ช.", "มานะ", "ขยัน", "ม.9/9", 0, 0, 0, 0, 0, 0, 0, 0, 0, "", ""},
	})

	tests := []cliTest{
		{name: "no args", args: []string{"importphq"}, wantErr: errHelp},
		{name: "no file", args: []string{"importphq", "-school", sch.ID}, wantErr: errHelp},
		{name: "invalid round", args: []string{"importphq", "-school", sch.ID, "-year", "2567", "-round", "9", "-file", "/phq.xlsx"}, extra: true},
		{name: "unknown school", args: []string{"importphq", "-school", "nope", "-year", "2567", "-round", "1", "-file", "/phq.xlsx"}, extra: true},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if tt.extra != nil {
				assert.Error(t, err)
				return
			}
			checkRunErr(t, tt, err)
		})
	}

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "importphq", "-school", sch.ID, "-year", "2567", "-round", "1", "-file", "/phq.xlsx"}))
	assert.Contains(t, out.String(), "imported 2 (created 2, updated 0)")
	assert.Contains(t, out.String(), "row 4: ")

	st, err := inmemdb.NewStudentRepository(db).GetStudentByCode(context.Background(), sch.ID, "001")
	require.NoError(t, err)
	assert.Equal(t, "ม.1/1", st.Class)
}
