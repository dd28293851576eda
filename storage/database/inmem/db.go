// Package inmemdb is an in-memory implementation of every repository.
//
// Transactions are serialized: RunInTx holds the store lock, runs on a copy of
// the tables and swaps the copy in only when the transaction succeeds.
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
)

type (
	DB struct {
		mu     sync.Mutex
		tables *tables
	}

	tables struct {
		users       map[string]user.User
		resetTokens map[string]user.PasswordResetToken // by hash
		schools     map[string]school.School
		classes     map[string]school.Class
		roster      map[string]school.RosterEntry
		teachers    map[string]teacher.Teacher // by user ID
		invites     map[string]teacher.Invite
		students    map[string]student.Student
		results     map[string]student.Result
		referrals   map[string]student.Referral
		progress    map[string]activity.Progress
		uploads     map[string]activity.Upload
		sessions    map[string]counseling.Session
		visits      map[string]counseling.HomeVisit
		photos      map[string]counseling.Photo
	}

	// Store runs queries on the DB, or on a transaction's tables.
	Store struct {
		db *DB
		tx *tables
	}
)

func Open() *DB {
	return &DB{tables: newTables()}
}

func newTables() *tables {
	return &tables{
		users:       make(map[string]user.User),
		resetTokens: make(map[string]user.PasswordResetToken),
		schools:     make(map[string]school.School),
		classes:     make(map[string]school.Class),
		roster:      make(map[string]school.RosterEntry),
		teachers:    make(map[string]teacher.Teacher),
		invites:     make(map[string]teacher.Invite),
		students:    make(map[string]student.Student),
		results:     make(map[string]student.Result),
		referrals:   make(map[string]student.Referral),
		progress:    make(map[string]activity.Progress),
		uploads:     make(map[string]activity.Upload),
		sessions:    make(map[string]counseling.Session),
		visits:      make(map[string]counseling.HomeVisit),
		photos:      make(map[string]counseling.Photo),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *tables) clone() *tables {
	return &tables{
		users:       cloneMap(t.users),
		resetTokens: cloneMap(t.resetTokens),
		schools:     cloneMap(t.schools),
		classes:     cloneMap(t.classes),
		roster:      cloneMap(t.roster),
		teachers:    cloneMap(t.teachers),
		invites:     cloneMap(t.invites),
		students:    cloneMap(t.students),
		results:     cloneMap(t.results),
		referrals:   cloneMap(t.referrals),
		progress:    cloneMap(t.progress),
		uploads:     cloneMap(t.uploads),
		sessions:    cloneMap(t.sessions),
		visits:      cloneMap(t.visits),
		photos:      cloneMap(t.photos),
	}
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = newTables()
}

// exec runs `fn` on the transaction's tables, or on the DB's under its lock.
func (s *Store) exec(fn func(t *tables) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.tables)
}

// runInTx runs `fn` on a copy of the tables, kept only if `fn` succeeds.
// A nested transaction joins the outer one.
func (s *Store) runInTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.tables.clone()
	if err := fn(&Store{db: s.db, tx: snapshot}); err != nil {
		return err
	}
	s.db.tables = snapshot
	return nil
}
