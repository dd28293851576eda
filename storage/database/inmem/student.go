package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/student"
)

type studentRepository struct {
	*Store
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return studentRepository{NewStore(db)}
}

func (repo studentRepository) RunInTx(ctx context.Context, fn func(repo student.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(studentRepository{tx}) })
}

// resultsOf returns the student's results, latest first.
func (t *tables) resultsOf(studentID string) []student.Result {
	results := make([]student.Result, 0)
	for _, r := range t.results {
		if r.StudentID == studentID {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.AcademicYear != b.AcademicYear {
			return a.AcademicYear > b.AcademicYear
		}
		if a.Round != b.Round {
			return a.Round > b.Round
		}
		return a.ImportedAt.After(b.ImportedAt)
	})
	return results
}

func (t *tables) activeReferral(studentID string) (student.Referral, bool) {
	for _, r := range t.referrals {
		if r.StudentID == studentID && r.Active() {
			return r, true
		}
	}
	return student.Referral{}, false
}

// loadStudent fills the student's active referral and latest risk.
func (t *tables) loadStudent(s student.Student) student.Student {
	s.Referral = nil
	s.LatestRisk = ""
	if ref, ok := t.activeReferral(s.ID); ok {
		s.Referral = &ref
	}
	if results := t.resultsOf(s.ID); len(results) > 0 {
		s.LatestRisk = results[0].RiskLevel
	}
	return s
}

func sortStudents(students []student.Student) {
	sort.Slice(students, func(i, j int) bool {
		if students[i].Class != students[j].Class {
			return students[i].Class < students[j].Class
		}
		return students[i].StudentCode < students[j].StudentCode
	})
}

func (s *Store) GetStudent(_ context.Context, id string) (student.Student, error) {
	var st student.Student
	err := s.exec(func(t *tables) error {
		found, ok := t.students[id]
		if !ok {
			return student.ErrNotFound
		}
		st = t.loadStudent(found)
		return nil
	})
	return st, err
}

func (s *Store) GetStudentByCode(_ context.Context, schoolID, code string) (student.Student, error) {
	var st student.Student
	err := s.exec(func(t *tables) error {
		for _, found := range t.students {
			if found.SchoolID == schoolID && found.StudentCode == code {
				st = t.loadStudent(found)
				return nil
			}
		}
		return student.ErrNotFound
	})
	return st, err
}

func (s *Store) CreateStudent(_ context.Context, st student.Student) (student.Student, error) {
	err := s.exec(func(t *tables) error {
		for _, other := range t.students {
			if other.SchoolID == st.SchoolID && other.StudentCode == st.StudentCode {
				return core.ErrDuplicate
			}
		}
		st.Referral, st.LatestRisk = nil, ""
		t.students[st.ID] = st
		return nil
	})
	if err != nil {
		return student.Student{}, err
	}
	return st, nil
}

func (s *Store) UpdateStudent(_ context.Context, st student.Student) (student.Student, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.students[st.ID]; !ok {
			return student.ErrNotFound
		}
		stored := st
		stored.Referral, stored.LatestRisk = nil, ""
		t.students[st.ID] = stored
		st = t.loadStudent(stored)
		return nil
	})
	if err != nil {
		return student.Student{}, err
	}
	return st, nil
}

func (s *Store) DeleteStudent(_ context.Context, id string) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.students[id]; !ok {
			return student.ErrNotFound
		}
		delete(t.students, id)
		for rid, r := range t.results {
			if r.StudentID == id {
				delete(t.results, rid)
			}
		}
		for pid, p := range t.progress {
			if p.StudentID == id {
				delete(t.progress, pid)
				for uid, u := range t.uploads {
					if u.ProgressID == pid {
						delete(t.uploads, uid)
					}
				}
			}
		}
		for rid, r := range t.referrals {
			if r.StudentID == id {
				delete(t.referrals, rid)
			}
		}
		for sid, sess := range t.sessions {
			if sess.StudentID == id {
				delete(t.sessions, sid)
			}
		}
		for vid, v := range t.visits {
			if v.StudentID == id {
				delete(t.visits, vid)
				for phid, ph := range t.photos {
					if ph.VisitID == vid {
						delete(t.photos, phid)
					}
				}
			}
		}
		return nil
	})
}

func (s *Store) FilterStudents(_ context.Context, filter student.QueryFilter) ([]student.Student, error) {
	students := make([]student.Student, 0)
	search := strings.ToLower(filter.Search)
	err := s.exec(func(t *tables) error {
		for _, st := range t.students {
			if filter.SchoolID != "" && st.SchoolID != filter.SchoolID {
				continue
			}
			if filter.Class != "" && st.Class != filter.Class {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(st.StudentCode), search) &&
				!strings.Contains(strings.ToLower(st.FirstName), search) &&
				!strings.Contains(strings.ToLower(st.LastName), search) {
				continue
			}
			st = t.loadStudent(st)
			if filter.RiskLevel != "" && st.LatestRisk != filter.RiskLevel {
				continue
			}
			students = append(students, st)
		}
		return nil
	})
	sortStudents(students)
	return students, err
}

func (s *Store) ListReferredTo(_ context.Context, userID string) ([]student.Student, error) {
	students := make([]student.Student, 0)
	err := s.exec(func(t *tables) error {
		for _, ref := range t.referrals {
			if ref.ToUserID != userID || !ref.Active() {
				continue
			}
			if st, ok := t.students[ref.StudentID]; ok {
				students = append(students, t.loadStudent(st))
			}
		}
		return nil
	})
	sortStudents(students)
	return students, err
}

func (s *Store) CreateResult(_ context.Context, r student.Result) (student.Result, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.students[r.StudentID]; !ok {
			return student.ErrNotFound
		}
		for _, other := range t.results {
			if other.StudentID == r.StudentID && other.AcademicYear == r.AcademicYear && other.Round == r.Round {
				return core.ErrDuplicate
			}
		}
		t.results[r.ID] = r
		return nil
	})
	if err != nil {
		return student.Result{}, err
	}
	return r, nil
}

func (s *Store) GetResult(_ context.Context, id string) (student.Result, error) {
	var r student.Result
	err := s.exec(func(t *tables) error {
		found, ok := t.results[id]
		if !ok {
			return student.ErrResultNotFound
		}
		r = found
		return nil
	})
	return r, err
}

func (s *Store) GetResultByRound(_ context.Context, studentID string, academicYear, round int) (student.Result, error) {
	var r student.Result
	err := s.exec(func(t *tables) error {
		for _, found := range t.results {
			if found.StudentID == studentID && found.AcademicYear == academicYear && found.Round == round {
				r = found
				return nil
			}
		}
		return student.ErrResultNotFound
	})
	return r, err
}

func (s *Store) ListResults(_ context.Context, studentID string) ([]student.Result, error) {
	var results []student.Result
	err := s.exec(func(t *tables) error {
		results = t.resultsOf(studentID)
		return nil
	})
	return results, err
}

func (s *Store) UpdateResult(_ context.Context, r student.Result) (student.Result, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.results[r.ID]; !ok {
			return student.ErrResultNotFound
		}
		t.results[r.ID] = r
		return nil
	})
	if err != nil {
		return student.Result{}, err
	}
	return r, nil
}

func (s *Store) SeedProgress(_ context.Context, studentID, resultID string, plan []int, at time.Time) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.results[resultID]; !ok {
			return student.ErrResultNotFound
		}
		for _, p := range activity.NewProgress(uuid.NewString, studentID, resultID, plan, at) {
			p.Uploads = nil
			t.progress[p.ID] = p
		}
		return nil
	})
}

func (s *Store) CreateReferral(_ context.Context, r student.Referral) (student.Referral, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.activeReferral(r.StudentID); ok {
			return core.ErrDuplicate
		}
		t.referrals[r.ID] = r
		return nil
	})
	if err != nil {
		return student.Referral{}, err
	}
	return r, nil
}

func (s *Store) GetActiveReferral(_ context.Context, studentID string) (student.Referral, error) {
	var ref student.Referral
	err := s.exec(func(t *tables) error {
		found, ok := t.activeReferral(studentID)
		if !ok {
			return student.ErrReferralNotFound
		}
		ref = found
		return nil
	})
	return ref, err
}

func (s *Store) RevokeReferral(_ context.Context, id string, at time.Time) error {
	return s.exec(func(t *tables) error {
		ref, ok := t.referrals[id]
		if !ok || !ref.Active() {
			return student.ErrReferralNotFound
		}
		ref.RevokedAt = &at
		t.referrals[id] = ref
		return nil
	})
}
