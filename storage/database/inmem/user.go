package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/user"
)

type userRepository struct {
	*Store
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return userRepository{NewStore(db)}
}

func (repo userRepository) RunInTx(ctx context.Context, fn func(repo user.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(userRepository{tx}) })
}

func (s *Store) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.users[usr.ID]; ok {
			return core.ErrDuplicate
		}
		for _, u := range t.users {
			if u.Email == usr.Email {
				return core.ErrDuplicate
			}
		}
		t.users[usr.ID] = usr
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (user.User, error) {
	var usr user.User
	err := s.exec(func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return user.ErrNotFound
		}
		usr = u
		return nil
	})
	return usr, err
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	var usr user.User
	err := s.exec(func(t *tables) error {
		for _, u := range t.users {
			if u.Email == email {
				usr = u
				return nil
			}
		}
		return user.ErrNotFound
	})
	return usr, err
}

func (s *Store) FilterUsers(_ context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	var users []user.User
	search := strings.ToLower(filter.Search)
	err := s.exec(func(t *tables) error {
		users = make([]user.User, 0, len(t.users))
		for _, u := range t.users {
			if search != "" && !strings.Contains(strings.ToLower(u.Email), search) {
				continue
			}
			if filter.Role != "" && u.Role != filter.Role {
				continue
			}
			if filter.SchoolID != "" && u.SchoolID != filter.SchoolID {
				continue
			}
			if filter.IsActive != nil && u.IsActive != *filter.IsActive {
				continue
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareUsers(users[i], users[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func compareUsers(a, b user.User, col string) int {
	switch col {
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "role":
		return strings.Compare(string(a.Role), string(b.Role))
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "last_login":
		return a.LastLogin.Compare(b.LastLogin)
	}
	return 0
}

func (s *Store) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.users[usr.ID]; !ok {
			return user.ErrNotFound
		}
		for _, u := range t.users {
			if u.ID != usr.ID && u.Email == usr.Email {
				return core.ErrDuplicate
			}
		}
		t.users[usr.ID] = usr
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.users[id]; !ok {
			return user.ErrNotFound
		}
		delete(t.users, id)
		delete(t.teachers, id)
		return nil
	})
}

func (s *Store) SaveResetToken(_ context.Context, tok user.PasswordResetToken) error {
	return s.exec(func(t *tables) error {
		for hash, old := range t.resetTokens {
			if old.Email == tok.Email {
				delete(t.resetTokens, hash)
			}
		}
		t.resetTokens[tok.TokenHash] = tok
		return nil
	})
}

func (s *Store) GetResetToken(_ context.Context, tokenHash string) (user.PasswordResetToken, error) {
	var tok user.PasswordResetToken
	err := s.exec(func(t *tables) error {
		found, ok := t.resetTokens[tokenHash]
		if !ok {
			return user.ErrResetTokenNotFound
		}
		tok = found
		return nil
	})
	return tok, err
}

func (s *Store) DeleteResetToken(_ context.Context, tokenHash string) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.resetTokens[tokenHash]; !ok {
			return user.ErrResetTokenNotFound
		}
		delete(t.resetTokens, tokenHash)
		return nil
	})
}
