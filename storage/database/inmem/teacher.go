package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/teacher"
)

type teacherRepository struct {
	*Store
}

var _ teacher.Repository = (*teacherRepository)(nil) // interface compliance check

func NewTeacherRepository(db *DB) teacher.Repository {
	return teacherRepository{NewStore(db)}
}

func (repo teacherRepository) RunInTx(ctx context.Context, fn func(repo teacher.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(teacherRepository{tx}) })
}

func (s *Store) CreateTeacher(_ context.Context, tch teacher.Teacher) (teacher.Teacher, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.users[tch.UserID]; !ok {
			return teacher.ErrNotFound
		}
		if _, ok := t.teachers[tch.UserID]; ok {
			return core.ErrDuplicate
		}
		t.teachers[tch.UserID] = tch
		return nil
	})
	if err != nil {
		return teacher.Teacher{}, err
	}
	return tch, nil
}

func (s *Store) GetTeacher(_ context.Context, userID string) (teacher.Teacher, error) {
	var tch teacher.Teacher
	err := s.exec(func(t *tables) error {
		found, ok := t.teachers[userID]
		if !ok {
			return teacher.ErrNotFound
		}
		tch = found
		return nil
	})
	return tch, err
}

func (s *Store) UpdateTeacher(_ context.Context, tch teacher.Teacher) (teacher.Teacher, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.teachers[tch.UserID]; !ok {
			return teacher.ErrNotFound
		}
		t.teachers[tch.UserID] = tch
		return nil
	})
	if err != nil {
		return teacher.Teacher{}, err
	}
	return tch, nil
}

func (s *Store) ListTeachers(_ context.Context, schoolID string) ([]teacher.Profile, error) {
	profiles := make([]teacher.Profile, 0)
	err := s.exec(func(t *tables) error {
		for _, tch := range t.teachers {
			usr, ok := t.users[tch.UserID]
			if !ok || usr.SchoolID != schoolID {
				continue
			}
			profiles = append(profiles, teacher.Profile{
				Teacher:   tch,
				Email:     usr.Email,
				Role:      usr.Role,
				SchoolID:  usr.SchoolID,
				IsPrimary: usr.IsPrimary,
			})
		}
		return nil
	})
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].FirstName != profiles[j].FirstName {
			return profiles[i].FirstName < profiles[j].FirstName
		}
		return profiles[i].LastName < profiles[j].LastName
	})
	return profiles, err
}

func (s *Store) CreateInvite(_ context.Context, inv teacher.Invite) (teacher.Invite, error) {
	err := s.exec(func(t *tables) error {
		for _, other := range t.invites {
			if other.Token == inv.Token {
				return core.ErrDuplicate
			}
		}
		t.invites[inv.ID] = inv
		return nil
	})
	if err != nil {
		return teacher.Invite{}, err
	}
	return inv, nil
}

func (s *Store) GetInviteByToken(_ context.Context, token string) (teacher.Invite, error) {
	var inv teacher.Invite
	err := s.exec(func(t *tables) error {
		for _, found := range t.invites {
			if found.Token == token {
				inv = found
				return nil
			}
		}
		return teacher.ErrInviteNotFound
	})
	return inv, err
}

func (s *Store) MarkInviteAccepted(_ context.Context, inviteID, userID string, at time.Time) error {
	return s.exec(func(t *tables) error {
		inv, ok := t.invites[inviteID]
		if !ok {
			return teacher.ErrInviteNotFound
		}
		if inv.Accepted() {
			return teacher.ErrInviteAccepted
		}
		inv.AcceptedAt = &at
		inv.AcceptedUserID = userID
		t.invites[inviteID] = inv
		return nil
	})
}
