package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/student"
)

type studentRepository struct {
	*Store
}

var _ student.Repository = studentRepository{}

func NewStudentRepository(db *sqlx.DB) student.Repository {
	return studentRepository{NewStore(db)}
}

func (repo studentRepository) RunInTx(ctx context.Context, fn func(repo student.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(studentRepository{tx}) })
}

// studentQuery selects the students with their latest risk level and active referral.
const studentQuery = `
	SELECT * FROM (
		SELECT s.id, s.school_id, s.student_code, s.prefix, s.first_name, s.last_name, s.class, s.created_at, s.updated_at,
			COALESCE((
				SELECT r.risk_level FROM phq_results r WHERE r.student_id = s.id
				ORDER BY r.academic_year DESC, r.round DESC, r.imported_at DESC LIMIT 1
			), '') AS latest_risk,
			ref.id AS ref_id, ref.from_user_id AS ref_from_user_id, ref.to_user_id AS ref_to_user_id,
			ref.reason AS ref_reason, ref.created_at AS ref_created_at
		FROM students s
		LEFT JOIN referrals ref ON ref.student_id = s.id AND ref.revoked_at IS NULL
	) st`

const studentOrder = ` ORDER BY class, student_code`

type studentRow struct {
	ID          string    `db:"id"`
	SchoolID    string    `db:"school_id"`
	StudentCode string    `db:"student_code"`
	Prefix      string    `db:"prefix"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	Class       string    `db:"class"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	LatestRisk    string      `db:"latest_risk"`
	RefID         null.String `db:"ref_id"`
	RefFromUserID null.String `db:"ref_from_user_id"`
	RefToUserID   null.String `db:"ref_to_user_id"`
	RefReason     null.String `db:"ref_reason"`
	RefCreatedAt  null.Time   `db:"ref_created_at"`
}

func (r studentRow) student() student.Student {
	st := student.Student{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		StudentCode: r.StudentCode,
		Prefix:      r.Prefix,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Class:       r.Class,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		LatestRisk:  student.RiskLevel(r.LatestRisk),
	}
	if r.RefID.Valid {
		st.Referral = &student.Referral{
			ID:         r.RefID.String,
			StudentID:  r.ID,
			FromUserID: r.RefFromUserID.String,
			ToUserID:   r.RefToUserID.String,
			Reason:     r.RefReason.String,
			CreatedAt:  r.RefCreatedAt.Time.UTC(),
		}
	}
	return st
}

func (s *Store) queryStudents(ctx context.Context, where string, args ...interface{}) ([]student.Student, error) {
	var rows []studentRow
	q := studentQuery
	if where != "" {
		q += " WHERE " + where
	}
	if err := s.selectAll(ctx, &rows, q+studentOrder, args...); err != nil {
		return nil, err
	}
	students := make([]student.Student, len(rows))
	for i, row := range rows {
		students[i] = row.student()
	}
	return students, nil
}

func (s *Store) getStudent(ctx context.Context, where string, args ...interface{}) (student.Student, error) {
	var row studentRow
	if err := s.get(ctx, &row, student.ErrNotFound, studentQuery+" WHERE "+where, args...); err != nil {
		return student.Student{}, err
	}
	return row.student(), nil
}

func (s *Store) GetStudent(ctx context.Context, id string) (student.Student, error) {
	return s.getStudent(ctx, "id = $1", id)
}

func (s *Store) GetStudentByCode(ctx context.Context, schoolID, code string) (student.Student, error) {
	return s.getStudent(ctx, "school_id = $1 AND student_code = $2", schoolID, code)
}

func (s *Store) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	_, err := s.exec(ctx, `
		INSERT INTO students (id, school_id, student_code, prefix, first_name, last_name, class, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, st.SchoolID, st.StudentCode, st.Prefix, st.FirstName, st.LastName, st.Class, st.CreatedAt.UTC(), st.UpdatedAt.UTC())
	if err != nil {
		return student.Student{}, err
	}
	st.Referral, st.LatestRisk = nil, ""
	return st, nil
}

func (s *Store) UpdateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	err := s.execOne(ctx, student.ErrNotFound, `
		UPDATE students SET prefix = $2, first_name = $3, last_name = $4, class = $5, updated_at = $6
		WHERE id = $1`,
		st.ID, st.Prefix, st.FirstName, st.LastName, st.Class, st.UpdatedAt.UTC())
	if err != nil {
		return student.Student{}, err
	}
	return s.GetStudent(ctx, st.ID)
}

func (s *Store) DeleteStudent(ctx context.Context, id string) error {
	return s.execOne(ctx, student.ErrNotFound, `DELETE FROM students WHERE id = $1`, id)
}

func (s *Store) FilterStudents(ctx context.Context, filter student.QueryFilter) ([]student.Student, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.SchoolID != "" {
		where = append(where, "school_id = "+arg(filter.SchoolID))
	}
	if filter.Class != "" {
		where = append(where, "class = "+arg(filter.Class))
	}
	if filter.RiskLevel != "" {
		where = append(where, "latest_risk = "+arg(string(filter.RiskLevel)))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, fmt.Sprintf("(student_code ILIKE %[1]s OR first_name ILIKE %[1]s OR last_name ILIKE %[1]s)", p))
	}
	return s.queryStudents(ctx, strings.Join(where, " AND "), args...)
}

func (s *Store) ListReferredTo(ctx context.Context, userID string) ([]student.Student, error) {
	return s.queryStudents(ctx, "ref_to_user_id = $1", userID)
}

const resultColumns = `id, student_id, academic_year, round, q1, q2, q3, q4, q5, q6, q7, q8, q9, q9a, q9b,
	total_score, risk_level, imported_at, updated_at`

type resultRow struct {
	ID           string    `db:"id"`
	StudentID    string    `db:"student_id"`
	AcademicYear int       `db:"academic_year"`
	Round        int       `db:"round"`
	Q1           int       `db:"q1"`
	Q2           int       `db:"q2"`
	Q3           int       `db:"q3"`
	Q4           int       `db:"q4"`
	Q5           int       `db:"q5"`
	Q6           int       `db:"q6"`
	Q7           int       `db:"q7"`
	Q8           int       `db:"q8"`
	Q9           int       `db:"q9"`
	Q9a          bool      `db:"q9a"`
	Q9b          bool      `db:"q9b"`
	TotalScore   int       `db:"total_score"`
	RiskLevel    string    `db:"risk_level"`
	ImportedAt   time.Time `db:"imported_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func toResultRow(r student.Result) resultRow {
	sc := r.Scores
	return resultRow{
		ID: r.ID, StudentID: r.StudentID, AcademicYear: r.AcademicYear, Round: r.Round,
		Q1: sc.Q1, Q2: sc.Q2, Q3: sc.Q3, Q4: sc.Q4, Q5: sc.Q5, Q6: sc.Q6, Q7: sc.Q7, Q8: sc.Q8, Q9: sc.Q9,
		Q9a: sc.Q9a, Q9b: sc.Q9b,
		TotalScore: r.TotalScore, RiskLevel: string(r.RiskLevel),
		ImportedAt: r.ImportedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r resultRow) result() student.Result {
	return student.Result{
		ID:           r.ID,
		StudentID:    r.StudentID,
		AcademicYear: r.AcademicYear,
		Round:        r.Round,
		Scores: student.Scores{
			Q1: r.Q1, Q2: r.Q2, Q3: r.Q3, Q4: r.Q4, Q5: r.Q5, Q6: r.Q6, Q7: r.Q7, Q8: r.Q8, Q9: r.Q9,
			Q9a: r.Q9a, Q9b: r.Q9b,
		},
		TotalScore: r.TotalScore,
		RiskLevel:  student.RiskLevel(r.RiskLevel),
		ImportedAt: r.ImportedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateResult(ctx context.Context, r student.Result) (student.Result, error) {
	err := s.namedExec(ctx, `
		INSERT INTO phq_results (`+resultColumns+`)
		VALUES (:id, :student_id, :academic_year, :round, :q1, :q2, :q3, :q4, :q5, :q6, :q7, :q8, :q9, :q9a, :q9b,
			:total_score, :risk_level, :imported_at, :updated_at)`,
		toResultRow(r))
	if err != nil {
		return student.Result{}, err
	}
	return r, nil
}

func (s *Store) GetResult(ctx context.Context, id string) (student.Result, error) {
	var row resultRow
	if err := s.get(ctx, &row, student.ErrResultNotFound, `SELECT `+resultColumns+` FROM phq_results WHERE id = $1`, id); err != nil {
		return student.Result{}, err
	}
	return row.result(), nil
}

func (s *Store) GetResultByRound(ctx context.Context, studentID string, academicYear, round int) (student.Result, error) {
	var row resultRow
	err := s.get(ctx, &row, student.ErrResultNotFound,
		`SELECT `+resultColumns+` FROM phq_results WHERE student_id = $1 AND academic_year = $2 AND round = $3`,
		studentID, academicYear, round)
	if err != nil {
		return student.Result{}, err
	}
	return row.result(), nil
}

func (s *Store) ListResults(ctx context.Context, studentID string) ([]student.Result, error) {
	var rows []resultRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+resultColumns+` FROM phq_results WHERE student_id = $1
		ORDER BY academic_year DESC, round DESC, imported_at DESC`,
		studentID)
	if err != nil {
		return nil, err
	}
	results := make([]student.Result, len(rows))
	for i, row := range rows {
		results[i] = row.result()
	}
	return results, nil
}

func (s *Store) UpdateResult(ctx context.Context, r student.Result) (student.Result, error) {
	err := s.namedExecOne(ctx, student.ErrResultNotFound, `
		UPDATE phq_results SET
			q1 = :q1, q2 = :q2, q3 = :q3, q4 = :q4, q5 = :q5, q6 = :q6, q7 = :q7, q8 = :q8, q9 = :q9,
			q9a = :q9a, q9b = :q9b, total_score = :total_score, risk_level = :risk_level, updated_at = :updated_at
		WHERE id = :id`,
		toResultRow(r))
	if err != nil {
		return student.Result{}, err
	}
	return r, nil
}

func (s *Store) SeedProgress(ctx context.Context, studentID, resultID string, plan []int, at time.Time) error {
	return s.runInTx(ctx, func(tx *Store) error {
		for _, p := range activity.NewProgress(uuid.NewString, studentID, resultID, plan, at) {
			if err := tx.namedExec(ctx, `
				INSERT INTO activity_progress (`+progressColumns+`)
				VALUES (:id, :student_id, :phq_result_id, :activity_number, :status, :teacher_id, :teacher_notes,
					:scheduled_date, :internal_problems, :external_problems, :problem_type, :assessed_at, :completed_at,
					:created_at, :updated_at)`,
				toProgressRow(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

const referralColumns = `id, student_id, from_user_id, to_user_id, reason, created_at, revoked_at`

type referralRow struct {
	ID         string    `db:"id"`
	StudentID  string    `db:"student_id"`
	FromUserID string    `db:"from_user_id"`
	ToUserID   string    `db:"to_user_id"`
	Reason     string    `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
	RevokedAt  null.Time `db:"revoked_at"`
}

func (s *Store) CreateReferral(ctx context.Context, r student.Referral) (student.Referral, error) {
	err := s.namedExec(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES (:id, :student_id, :from_user_id, :to_user_id, :reason, :created_at, :revoked_at)`,
		referralRow{
			ID:         r.ID,
			StudentID:  r.StudentID,
			FromUserID: r.FromUserID,
			ToUserID:   r.ToUserID,
			Reason:     r.Reason,
			CreatedAt:  r.CreatedAt.UTC(),
			RevokedAt:  nullTime(r.RevokedAt),
		})
	if err != nil {
		return student.Referral{}, err
	}
	return r, nil
}

func (s *Store) GetActiveReferral(ctx context.Context, studentID string) (student.Referral, error) {
	var row referralRow
	err := s.get(ctx, &row, student.ErrReferralNotFound,
		`SELECT `+referralColumns+` FROM referrals WHERE student_id = $1 AND revoked_at IS NULL`, studentID)
	if err != nil {
		return student.Referral{}, err
	}
	return student.Referral{
		ID:         row.ID,
		StudentID:  row.StudentID,
		FromUserID: row.FromUserID,
		ToUserID:   row.ToUserID,
		Reason:     row.Reason,
		CreatedAt:  row.CreatedAt.UTC(),
		RevokedAt:  timePtr(row.RevokedAt),
	}, nil
}

func (s *Store) RevokeReferral(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, student.ErrReferralNotFound,
		`UPDATE referrals SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at.UTC())
}
