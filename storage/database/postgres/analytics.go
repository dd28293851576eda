package pgrepos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/student"
)

var _ analytics.Repository = (*Store)(nil)

func NewAnalyticsRepository(db *sqlx.DB) analytics.Repository {
	return NewStore(db)
}

// inScope matches the students `s` of analytics.Scope ($1 school, $2 class, $3 teacher).
const inScope = `s.school_id = $1 AND (
		$3::text = ''
		OR (s.class = $2 AND NOT EXISTS (
			SELECT 1 FROM referrals rf WHERE rf.student_id = s.id AND rf.revoked_at IS NULL))
		OR EXISTS (
			SELECT 1 FROM referrals rf WHERE rf.student_id = s.id AND rf.revoked_at IS NULL AND rf.to_user_id::text = $3))`

// latestResults selects the latest result of each student in scope.
const latestResults = `
	SELECT DISTINCT ON (r.student_id) r.id, r.student_id, r.risk_level
	FROM phq_results r JOIN students s ON s.id = r.student_id
	WHERE ` + inScope + `
	ORDER BY r.student_id, r.academic_year DESC, r.round DESC, r.imported_at DESC`

func scopeArgs(scope analytics.Scope) []interface{} {
	return []interface{}{scope.SchoolID, scope.Class, scope.TeacherID}
}

func (s *Store) StudentRisks(ctx context.Context, scope analytics.Scope) ([]analytics.StudentRisk, error) {
	var rows []struct {
		StudentID string `db:"student_id"`
		Class     string `db:"class"`
		Risk      string `db:"risk"`
	}
	err := s.selectAll(ctx, &rows, `
		SELECT s.id AS student_id, s.class, COALESCE(lr.risk_level, '') AS risk
		FROM students s LEFT JOIN (`+latestResults+`) lr ON lr.student_id = s.id
		WHERE `+inScope+`
		ORDER BY s.class, s.student_code`,
		scopeArgs(scope)...)
	if err != nil {
		return nil, err
	}
	risks := make([]analytics.StudentRisk, len(rows))
	for i, row := range rows {
		risks[i] = analytics.StudentRisk{StudentID: row.StudentID, Class: row.Class, Risk: student.RiskLevel(row.Risk)}
	}
	return risks, nil
}

func (s *Store) ActivityStatusCounts(ctx context.Context, scope analytics.Scope) (map[activity.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := s.selectAll(ctx, &rows, `
		SELECT p.status, COUNT(*) AS n
		FROM activity_progress p JOIN (`+latestResults+`) lr ON lr.id = p.phq_result_id
		GROUP BY p.status`,
		scopeArgs(scope)...)
	if err != nil {
		return nil, err
	}
	counts := make(map[activity.Status]int, len(rows))
	for _, row := range rows {
		counts[activity.Status(row.Status)] = row.N
	}
	return counts, nil
}

func (s *Store) SessionCount(ctx context.Context, scope analytics.Scope) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `
		SELECT COUNT(*) FROM counseling_sessions cs JOIN students s ON s.id = cs.student_id
		WHERE `+inScope,
		scopeArgs(scope)...)
	return n, err
}
