package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/student"
)

type counselingRepository struct {
	*Store
}

var _ counseling.Repository = (*counselingRepository)(nil) // interface compliance check

func NewCounselingRepository(db *DB) counseling.Repository {
	return counselingRepository{NewStore(db)}
}

func (repo counselingRepository) RunInTx(ctx context.Context, fn func(repo counseling.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(counselingRepository{tx}) })
}

// LockStudent only checks the student exists: transactions already hold the store lock.
func (s *Store) LockStudent(_ context.Context, id string) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.students[id]; !ok {
			return student.ErrNotFound
		}
		return nil
	})
}

func (s *Store) MaxSessionNumber(_ context.Context, studentID string) (int, error) {
	max := 0
	err := s.exec(func(t *tables) error {
		for _, sess := range t.sessions {
			if sess.StudentID == studentID && sess.SessionNumber > max {
				max = sess.SessionNumber
			}
		}
		return nil
	})
	return max, err
}

func (s *Store) CreateSession(_ context.Context, sess counseling.Session) (counseling.Session, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.students[sess.StudentID]; !ok {
			return student.ErrNotFound
		}
		for _, other := range t.sessions {
			if other.StudentID == sess.StudentID && other.SessionNumber == sess.SessionNumber {
				return core.ErrDuplicate
			}
		}
		t.sessions[sess.ID] = sess
		return nil
	})
	if err != nil {
		return counseling.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (counseling.Session, error) {
	var sess counseling.Session
	err := s.exec(func(t *tables) error {
		found, ok := t.sessions[id]
		if !ok {
			return counseling.ErrNotFound
		}
		sess = found
		return nil
	})
	return sess, err
}

func (s *Store) UpdateSession(_ context.Context, sess counseling.Session) (counseling.Session, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.sessions[sess.ID]; !ok {
			return counseling.ErrNotFound
		}
		t.sessions[sess.ID] = sess
		return nil
	})
	if err != nil {
		return counseling.Session{}, err
	}
	return sess, nil
}

func (s *Store) ListSessions(_ context.Context, studentID string) ([]counseling.Session, error) {
	sessions := make([]counseling.Session, 0)
	err := s.exec(func(t *tables) error {
		for _, sess := range t.sessions {
			if sess.StudentID == studentID {
				sessions = append(sessions, sess)
			}
		}
		return nil
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionNumber < sessions[j].SessionNumber })
	return sessions, err
}

func (s *Store) MaxVisitNumber(_ context.Context, studentID string) (int, error) {
	max := 0
	err := s.exec(func(t *tables) error {
		for _, v := range t.visits {
			if v.StudentID == studentID && v.VisitNumber > max {
				max = v.VisitNumber
			}
		}
		return nil
	})
	return max, err
}

func (s *Store) CreateHomeVisit(_ context.Context, v counseling.HomeVisit) (counseling.HomeVisit, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.students[v.StudentID]; !ok {
			return student.ErrNotFound
		}
		for _, other := range t.visits {
			if other.StudentID == v.StudentID && other.VisitNumber == v.VisitNumber {
				return core.ErrDuplicate
			}
		}
		stored := v
		stored.Photos = nil
		t.visits[v.ID] = stored
		v = t.withPhotos(stored)
		return nil
	})
	if err != nil {
		return counseling.HomeVisit{}, err
	}
	return v, nil
}

// withPhotos fills the visit's photos, oldest first.
func (t *tables) withPhotos(v counseling.HomeVisit) counseling.HomeVisit {
	v.Photos = make([]counseling.Photo, 0)
	for _, ph := range t.photos {
		if ph.VisitID == v.ID {
			v.Photos = append(v.Photos, ph)
		}
	}
	sort.Slice(v.Photos, func(i, j int) bool { return v.Photos[i].UploadedAt.Before(v.Photos[j].UploadedAt) })
	return v
}

func (s *Store) GetHomeVisit(_ context.Context, id string) (counseling.HomeVisit, error) {
	var v counseling.HomeVisit
	err := s.exec(func(t *tables) error {
		found, ok := t.visits[id]
		if !ok {
			return counseling.ErrVisitNotFound
		}
		v = t.withPhotos(found)
		return nil
	})
	return v, err
}

func (s *Store) ListHomeVisits(_ context.Context, studentID string) ([]counseling.HomeVisit, error) {
	visits := make([]counseling.HomeVisit, 0)
	err := s.exec(func(t *tables) error {
		for _, v := range t.visits {
			if v.StudentID == studentID {
				visits = append(visits, t.withPhotos(v))
			}
		}
		return nil
	})
	sort.Slice(visits, func(i, j int) bool { return visits[i].VisitNumber < visits[j].VisitNumber })
	return visits, err
}

func (s *Store) CountPhotos(_ context.Context, visitID string) (int, error) {
	n := 0
	err := s.exec(func(t *tables) error {
		for _, ph := range t.photos {
			if ph.VisitID == visitID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) CreatePhoto(_ context.Context, ph counseling.Photo) (counseling.Photo, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.visits[ph.VisitID]; !ok {
			return counseling.ErrVisitNotFound
		}
		t.photos[ph.ID] = ph
		return nil
	})
	if err != nil {
		return counseling.Photo{}, err
	}
	return ph, nil
}
