// Package pgrepos implements the domain repositories on PostgreSQL with sqlx.
package pgrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/storage/database"
)

// pq error code of unique_violation
const uniqueViolation = "23505"

// Store runs its queries on the DB, or on the transaction it is bound to.
// Every domain repository is a Store.
type Store struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ext() sqlx.ExtContext {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// runInTx runs `fn` on a Store bound to a new transaction. A nested call joins the outer transaction.
func (s *Store) runInTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&Store{db: s.db, tx: tx})
	})
}

// dbError maps driver errors to domain errors: no rows to `notFound`,
// unique violations to core.ErrDuplicate.
func dbError(err error, notFound error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return core.ErrDuplicate
	}
	return errors.Wrap(err, msg)
}

func (s *Store) get(ctx context.Context, dst interface{}, notFound error, q string, args ...interface{}) error {
	return dbError(sqlx.GetContext(ctx, s.ext(), dst, q, args...), notFound, "querying row")
}

func (s *Store) selectAll(ctx context.Context, dst interface{}, q string, args ...interface{}) error {
	return dbError(sqlx.SelectContext(ctx, s.ext(), dst, q, args...), nil, "querying rows")
}

func (s *Store) exec(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	res, err := s.ext().ExecContext(ctx, q, args...)
	return res, dbError(err, nil, "executing statement")
}

func (s *Store) namedExec(ctx context.Context, q string, arg interface{}) error {
	_, err := sqlx.NamedExecContext(ctx, s.ext(), q, arg)
	return dbError(err, nil, "executing statement")
}

// execOne executes a statement that must affect exactly one row; `notFound` is returned otherwise.
func (s *Store) execOne(ctx context.Context, notFound error, q string, args ...interface{}) error {
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (s *Store) namedExecOne(ctx context.Context, notFound error, q string, arg interface{}) error {
	res, err := sqlx.NamedExecContext(ctx, s.ext(), q, arg)
	if err != nil {
		return dbError(err, nil, "executing statement")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
