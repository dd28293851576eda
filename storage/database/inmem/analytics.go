package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/student"
)

var _ analytics.Repository = (*Store)(nil) // interface compliance check

func NewAnalyticsRepository(db *DB) analytics.Repository {
	return NewStore(db)
}

func (t *tables) inScope(scope analytics.Scope, st student.Student) bool {
	if st.SchoolID != scope.SchoolID {
		return false
	}
	if scope.TeacherID == "" {
		return true
	}
	if ref, ok := t.activeReferral(st.ID); ok {
		return ref.ToUserID == scope.TeacherID
	}
	return st.Class == scope.Class
}

func (t *tables) studentsOf(scope analytics.Scope) []string {
	var ids []string
	for _, st := range t.students {
		if t.inScope(scope, st) {
			ids = append(ids, st.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) StudentRisks(_ context.Context, scope analytics.Scope) ([]analytics.StudentRisk, error) {
	rows := make([]analytics.StudentRisk, 0)
	err := s.exec(func(t *tables) error {
		for _, id := range t.studentsOf(scope) {
			st := t.loadStudent(t.students[id])
			rows = append(rows, analytics.StudentRisk{StudentID: st.ID, Class: st.Class, Risk: st.LatestRisk})
		}
		return nil
	})
	return rows, err
}

func (s *Store) ActivityStatusCounts(_ context.Context, scope analytics.Scope) (map[activity.Status]int, error) {
	counts := make(map[activity.Status]int)
	err := s.exec(func(t *tables) error {
		for _, id := range t.studentsOf(scope) {
			results := t.resultsOf(id)
			if len(results) == 0 {
				continue
			}
			for _, p := range t.progress {
				if p.ResultID == results[0].ID {
					counts[p.Status]++
				}
			}
		}
		return nil
	})
	return counts, err
}

func (s *Store) SessionCount(_ context.Context, scope analytics.Scope) (int, error) {
	n := 0
	err := s.exec(func(t *tables) error {
		ids := make(map[string]bool)
		for _, id := range t.studentsOf(scope) {
			ids[id] = true
		}
		for _, sess := range t.sessions {
			if ids[sess.StudentID] {
				n++
			}
		}
		return nil
	})
	return n, err
}
