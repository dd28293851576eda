package pgrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/teacher"
)

type teacherRepository struct {
	*Store
}

var _ teacher.Repository = teacherRepository{}

func NewTeacherRepository(db *sqlx.DB) teacher.Repository {
	return teacherRepository{NewStore(db)}
}

func (repo teacherRepository) RunInTx(ctx context.Context, fn func(repo teacher.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(teacherRepository{tx}) })
}

const teacherColumns = `t.user_id, t.first_name, t.last_name, t.age, t.advisory_class, t.school_role, t.project_role,
	t.academic_year, t.created_at, t.updated_at`

type teacherRow struct {
	UserID        string    `db:"user_id"`
	FirstName     string    `db:"first_name"`
	LastName      string    `db:"last_name"`
	Age           null.Int  `db:"age"`
	AdvisoryClass string    `db:"advisory_class"`
	SchoolRole    string    `db:"school_role"`
	ProjectRole   string    `db:"project_role"`
	AcademicYear  null.Int  `db:"academic_year"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func toTeacherRow(t teacher.Teacher) teacherRow {
	return teacherRow{
		UserID:        t.UserID,
		FirstName:     t.FirstName,
		LastName:      t.LastName,
		Age:           null.NewInt(t.Age, t.Age != 0),
		AdvisoryClass: t.AdvisoryClass,
		SchoolRole:    t.SchoolRole,
		ProjectRole:   t.ProjectRole,
		AcademicYear:  null.NewInt(t.AcademicYear, t.AcademicYear != 0),
		CreatedAt:     t.CreatedAt.UTC(),
		UpdatedAt:     t.UpdatedAt.UTC(),
	}
}

func (r teacherRow) teacher() teacher.Teacher {
	return teacher.Teacher{
		UserID:        r.UserID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Age:           r.Age.Int,
		AdvisoryClass: r.AdvisoryClass,
		SchoolRole:    r.SchoolRole,
		ProjectRole:   r.ProjectRole,
		AcademicYear:  r.AcademicYear.Int,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateTeacher(ctx context.Context, tch teacher.Teacher) (teacher.Teacher, error) {
	err := s.namedExec(ctx, `
		INSERT INTO teachers (user_id, first_name, last_name, age, advisory_class, school_role, project_role,
			academic_year, created_at, updated_at)
		VALUES (:user_id, :first_name, :last_name, :age, :advisory_class, :school_role, :project_role,
			:academic_year, :created_at, :updated_at)`,
		toTeacherRow(tch))
	if err != nil {
		return teacher.Teacher{}, err
	}
	return tch, nil
}

func (s *Store) GetTeacher(ctx context.Context, userID string) (teacher.Teacher, error) {
	var row teacherRow
	if err := s.get(ctx, &row, teacher.ErrNotFound, `SELECT `+teacherColumns+` FROM teachers t WHERE t.user_id = $1`, userID); err != nil {
		return teacher.Teacher{}, err
	}
	return row.teacher(), nil
}

func (s *Store) UpdateTeacher(ctx context.Context, tch teacher.Teacher) (teacher.Teacher, error) {
	err := s.namedExecOne(ctx, teacher.ErrNotFound, `
		UPDATE teachers SET
			first_name = :first_name, last_name = :last_name, age = :age, advisory_class = :advisory_class,
			school_role = :school_role, project_role = :project_role, academic_year = :academic_year,
			updated_at = :updated_at
		WHERE user_id = :user_id`,
		toTeacherRow(tch))
	if err != nil {
		return teacher.Teacher{}, err
	}
	return tch, nil
}

type profileRow struct {
	teacherRow
	Email     string      `db:"email"`
	Role      string      `db:"role"`
	SchoolID  null.String `db:"school_id"`
	IsPrimary bool        `db:"is_primary"`
}

func (s *Store) ListTeachers(ctx context.Context, schoolID string) ([]teacher.Profile, error) {
	var rows []profileRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+teacherColumns+`, u.email, u.role, u.school_id, u.is_primary
		FROM teachers t JOIN users u ON u.id = t.user_id
		WHERE u.school_id = $1
		ORDER BY t.first_name, t.last_name`,
		schoolID)
	if err != nil {
		return nil, err
	}
	profiles := make([]teacher.Profile, len(rows))
	for i, row := range rows {
		profiles[i] = teacher.Profile{
			Teacher:   row.teacher(),
			Email:     row.Email,
			Role:      core.Role(row.Role),
			SchoolID:  row.SchoolID.String,
			IsPrimary: row.IsPrimary,
		}
	}
	return profiles, nil
}

const inviteColumns = `id, roster_id, school_id, token, expires_at, accepted_at, accepted_user_id, created_by, created_at`

type inviteRow struct {
	ID             string      `db:"id"`
	RosterID       string      `db:"roster_id"`
	SchoolID       string      `db:"school_id"`
	Token          string      `db:"token"`
	ExpiresAt      time.Time   `db:"expires_at"`
	AcceptedAt     null.Time   `db:"accepted_at"`
	AcceptedUserID null.String `db:"accepted_user_id"`
	CreatedBy      string      `db:"created_by"`
	CreatedAt      time.Time   `db:"created_at"`
}

func (r inviteRow) invite() teacher.Invite {
	return teacher.Invite{
		ID:             r.ID,
		RosterID:       r.RosterID,
		SchoolID:       r.SchoolID,
		Token:          r.Token,
		ExpiresAt:      r.ExpiresAt.UTC(),
		AcceptedAt:     timePtr(r.AcceptedAt),
		AcceptedUserID: r.AcceptedUserID.String,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (s *Store) CreateInvite(ctx context.Context, inv teacher.Invite) (teacher.Invite, error) {
	err := s.namedExec(ctx, `
		INSERT INTO teacher_invites (`+inviteColumns+`)
		VALUES (:id, :roster_id, :school_id, :token, :expires_at, :accepted_at, :accepted_user_id, :created_by, :created_at)`,
		inviteRow{
			ID:             inv.ID,
			RosterID:       inv.RosterID,
			SchoolID:       inv.SchoolID,
			Token:          inv.Token,
			ExpiresAt:      inv.ExpiresAt.UTC(),
			AcceptedAt:     nullTime(inv.AcceptedAt),
			AcceptedUserID: null.NewString(inv.AcceptedUserID, inv.AcceptedUserID != ""),
			CreatedBy:      inv.CreatedBy,
			CreatedAt:      inv.CreatedAt.UTC(),
		})
	if err != nil {
		return teacher.Invite{}, err
	}
	return inv, nil
}

func (s *Store) GetInviteByToken(ctx context.Context, token string) (teacher.Invite, error) {
	var row inviteRow
	if err := s.get(ctx, &row, teacher.ErrInviteNotFound, `SELECT `+inviteColumns+` FROM teacher_invites WHERE token = $1`, token); err != nil {
		return teacher.Invite{}, err
	}
	return row.invite(), nil
}

func (s *Store) MarkInviteAccepted(ctx context.Context, inviteID, userID string, at time.Time) error {
	err := s.execOne(ctx, teacher.ErrInviteAccepted,
		`UPDATE teacher_invites SET accepted_at = $2, accepted_user_id = $3 WHERE id = $1 AND accepted_at IS NULL`,
		inviteID, at.UTC(), userID)
	if err != teacher.ErrInviteAccepted {
		return err
	}
	var exists bool
	if err := s.get(ctx, &exists, nil, `SELECT EXISTS (SELECT 1 FROM teacher_invites WHERE id = $1)`, inviteID); err != nil {
		return err
	}
	if !exists {
		return teacher.ErrInviteNotFound
	}
	return teacher.ErrInviteAccepted
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
