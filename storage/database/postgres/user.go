package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/user"
)

type userRepository struct {
	*Store
}

var _ user.Repository = userRepository{}

func NewUserRepository(db *sqlx.DB) user.Repository {
	return userRepository{NewStore(db)}
}

func (repo userRepository) RunInTx(ctx context.Context, fn func(repo user.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(userRepository{tx}) })
}

const userColumns = `id, email, password_hash, role, school_id, is_primary, is_active, created_at, updated_at, last_login`

type userRow struct {
	ID           string      `db:"id"`
	Email        string      `db:"email"`
	PasswordHash []byte      `db:"password_hash"`
	Role         string      `db:"role"`
	SchoolID     null.String `db:"school_id"`
	IsPrimary    bool        `db:"is_primary"`
	IsActive     bool        `db:"is_active"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Email:        usr.Email,
		PasswordHash: usr.PasswordHash,
		Role:         string(usr.Role),
		SchoolID:     null.NewString(usr.SchoolID, usr.SchoolID != ""),
		IsPrimary:    usr.IsPrimary,
		IsActive:     usr.IsActive,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) user() user.User {
	usr := user.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         core.Role(r.Role),
		SchoolID:     r.SchoolID.String,
		IsPrimary:    r.IsPrimary,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	return usr
}

func (s *Store) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := s.namedExec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :email, :password_hash, :role, :school_id, :is_primary, :is_active, :created_at, :updated_at, :last_login)`,
		toUserRow(usr))
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := s.get(ctx, &row, user.ErrNotFound, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, err
	}
	return row.user(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := s.get(ctx, &row, user.ErrNotFound, `SELECT `+userColumns+` FROM users WHERE email = $1`, email); err != nil {
		return user.User{}, err
	}
	return row.user(), nil
}

var userOrderings = map[string]string{
	"email":      "email",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}

func (s *Store) FilterUsers(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Search != "" {
		where = append(where, "email ILIKE "+arg("%"+filter.Search+"%"))
	}
	if filter.Role != "" {
		where = append(where, "role = "+arg(string(filter.Role)))
	}
	if filter.SchoolID != "" {
		where = append(where, "school_id = "+arg(filter.SchoolID))
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = "+arg(*filter.IsActive))
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, userOrderings, "created_at ASC")

	var rows []userRow
	if err := s.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	users := make([]user.User, len(rows))
	for i, row := range rows {
		users[i] = row.user()
	}
	return users, nil
}

// orderBy renders the allowed orderings, ending with the id as a tie-breaker.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	cleaned := core.CleanOrderings(ordering, allowed)
	if len(cleaned) == 0 {
		return fallback + ", id ASC"
	}
	parts := make([]string, 0, len(cleaned)+1)
	for _, ord := range cleaned {
		parts = append(parts, ord.String())
	}
	return strings.Join(append(parts, "id ASC"), ", ")
}

func (s *Store) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := s.namedExecOne(ctx, user.ErrNotFound, `
		UPDATE users SET
			email = :email, password_hash = :password_hash, role = :role, school_id = :school_id,
			is_primary = :is_primary, is_active = :is_active, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`,
		toUserRow(usr))
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

// DeleteUser also deletes the teacher profile, by cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.execOne(ctx, user.ErrNotFound, `DELETE FROM users WHERE id = $1`, id)
}

type resetTokenRow struct {
	TokenHash string    `db:"token_hash"`
	Email     string    `db:"email"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) SaveResetToken(ctx context.Context, tok user.PasswordResetToken) error {
	return s.runInTx(ctx, func(tx *Store) error {
		if _, err := tx.exec(ctx, `DELETE FROM password_reset_tokens WHERE email = $1`, tok.Email); err != nil {
			return err
		}
		return tx.namedExec(ctx, `
			INSERT INTO password_reset_tokens (token_hash, email, expires_at, created_at)
			VALUES (:token_hash, :email, :expires_at, :created_at)`,
			resetTokenRow{TokenHash: tok.TokenHash, Email: tok.Email, ExpiresAt: tok.ExpiresAt.UTC(), CreatedAt: tok.CreatedAt.UTC()})
	})
}

// GetResetToken locks the token row until the transaction ends.
func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (user.PasswordResetToken, error) {
	var row resetTokenRow
	err := s.get(ctx, &row, user.ErrResetTokenNotFound,
		`SELECT token_hash, email, expires_at, created_at FROM password_reset_tokens WHERE token_hash = $1 FOR UPDATE`, tokenHash)
	if err != nil {
		return user.PasswordResetToken{}, err
	}
	return user.PasswordResetToken{
		Email:     row.Email,
		TokenHash: row.TokenHash,
		ExpiresAt: row.ExpiresAt.UTC(),
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// DeleteResetToken fails with user.ErrResetTokenNotFound when another
// transaction consumed the token first.
func (s *Store) DeleteResetToken(ctx context.Context, tokenHash string) error {
	return s.execOne(ctx, user.ErrResetTokenNotFound, `DELETE FROM password_reset_tokens WHERE token_hash = $1`, tokenHash)
}
