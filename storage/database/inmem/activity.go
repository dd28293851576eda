package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/activity"
)

type activityRepository struct {
	*Store
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db *DB) activity.Repository {
	return activityRepository{NewStore(db)}
}

func (repo activityRepository) RunInTx(ctx context.Context, fn func(repo activity.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(activityRepository{tx}) })
}

// withUploads fills the progress row's uploads, oldest first.
func (t *tables) withUploads(p activity.Progress) activity.Progress {
	p.Uploads = make([]activity.Upload, 0)
	for _, u := range t.uploads {
		if u.ProgressID == p.ID {
			p.Uploads = append(p.Uploads, u)
		}
	}
	sort.Slice(p.Uploads, func(i, j int) bool { return p.Uploads[i].UploadedAt.Before(p.Uploads[j].UploadedAt) })
	return p
}

func (s *Store) GetProgress(_ context.Context, id string) (activity.Progress, error) {
	var p activity.Progress
	err := s.exec(func(t *tables) error {
		found, ok := t.progress[id]
		if !ok {
			return activity.ErrNotFound
		}
		p = t.withUploads(found)
		return nil
	})
	return p, err
}

// LockProgress is GetProgress: transactions already hold the store lock.
func (s *Store) LockProgress(ctx context.Context, id string) (activity.Progress, error) {
	return s.GetProgress(ctx, id)
}

func (s *Store) ListProgress(_ context.Context, resultID string) ([]activity.Progress, error) {
	rows := make([]activity.Progress, 0)
	err := s.exec(func(t *tables) error {
		for _, p := range t.progress {
			if p.ResultID == resultID {
				rows = append(rows, t.withUploads(p))
			}
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].ActivityNumber < rows[j].ActivityNumber })
	return rows, err
}

func (s *Store) UpdateProgress(_ context.Context, p activity.Progress) (activity.Progress, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.progress[p.ID]; !ok {
			return activity.ErrNotFound
		}
		p.Uploads = nil
		t.progress[p.ID] = p
		p = t.withUploads(p)
		return nil
	})
	if err != nil {
		return activity.Progress{}, err
	}
	return p, nil
}

func (s *Store) CreateUpload(_ context.Context, u activity.Upload) (activity.Upload, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.progress[u.ProgressID]; !ok {
			return activity.ErrNotFound
		}
		if _, ok := t.uploads[u.ID]; ok {
			return core.ErrDuplicate
		}
		t.uploads[u.ID] = u
		return nil
	})
	if err != nil {
		return activity.Upload{}, err
	}
	return u, nil
}

func (s *Store) CountUploads(_ context.Context, progressID string) (int, error) {
	n := 0
	err := s.exec(func(t *tables) error {
		for _, u := range t.uploads {
			if u.ProgressID == progressID {
				n++
			}
		}
		return nil
	})
	return n, err
}
