package database

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
)

func q(s string) string { return "^" + regexp.QuoteMeta(s) + "$" }

func TestCreateAppUser(t *testing.T) {
	conf := &core.Config{Database: core.DatabaseConfig{User: `phq"care`, Password: "it's secret"}}
	checkUser := q(`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`)

	t.Run("creates a quoted user", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(checkUser).WithArgs(`phq"care`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(q(`CREATE USER "phq""care" CREATEDB ENCRYPTED PASSWORD 'it''s secret'`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, createAppUser(db, conf))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing user is kept", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(checkUser).WithArgs(`phq"care`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, createAppUser(db, conf))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no app user configured", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, createAppUser(db, &core.Config{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateDB(t *testing.T) {
	conf := &core.Config{Database: core.DatabaseConfig{Name: "phq-care"}}
	checkDB := q(`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(checkDB).WithArgs("phq-care").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(q(`CREATE DATABASE "phq-care"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, createDB(db, conf))

	mock.ExpectQuery(checkDB).WithArgs("phq-care").
		WillReturnError(errors.New("connection refused"))
	err = createDB(db, conf)
	assert.EqualError(t, err, "checking DB: connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}
