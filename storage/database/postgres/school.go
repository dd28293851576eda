package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/school"
)

type schoolRepository struct {
	*Store
}

var _ school.Repository = schoolRepository{}

func NewSchoolRepository(db *sqlx.DB) school.Repository {
	return schoolRepository{NewStore(db)}
}

func (repo schoolRepository) RunInTx(ctx context.Context, fn func(repo school.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(schoolRepository{tx}) })
}

type schoolRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Province  string    `db:"province"`
	CreatedAt time.Time `db:"created_at"`
}

func (r schoolRow) school() school.School {
	return school.School{ID: r.ID, Name: r.Name, Province: r.Province, CreatedAt: r.CreatedAt.UTC()}
}

func (s *Store) CreateSchool(ctx context.Context, sch school.School) (school.School, error) {
	err := s.namedExec(ctx, `INSERT INTO schools (id, name, province, created_at) VALUES (:id, :name, :province, :created_at)`,
		schoolRow{ID: sch.ID, Name: sch.Name, Province: sch.Province, CreatedAt: sch.CreatedAt.UTC()})
	if err != nil {
		return school.School{}, err
	}
	return sch, nil
}

func (s *Store) GetSchoolByID(ctx context.Context, id string) (school.School, error) {
	var row schoolRow
	if err := s.get(ctx, &row, school.ErrNotFound, `SELECT id, name, province, created_at FROM schools WHERE id = $1`, id); err != nil {
		return school.School{}, err
	}
	return row.school(), nil
}

func (s *Store) GetSchoolByNameProvince(ctx context.Context, name, province string) (school.School, error) {
	var row schoolRow
	err := s.get(ctx, &row, school.ErrNotFound,
		`SELECT id, name, province, created_at FROM schools WHERE name = $1 AND province = $2`, name, province)
	if err != nil {
		return school.School{}, err
	}
	return row.school(), nil
}

func (s *Store) FilterSchools(ctx context.Context, filter school.QueryFilter) ([]school.School, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.Province != "" {
		args = append(args, filter.Province)
		where = append(where, fmt.Sprintf("province = $%d", len(args)))
	}
	q := `SELECT id, name, province, created_at FROM schools`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY name, province"

	var rows []schoolRow
	if err := s.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	schools := make([]school.School, len(rows))
	for i, row := range rows {
		schools[i] = row.school()
	}
	return schools, nil
}

func (s *Store) CreateClass(ctx context.Context, cls school.Class) (school.Class, error) {
	if _, err := s.exec(ctx, `INSERT INTO school_classes (id, school_id, name) VALUES ($1, $2, $3)`, cls.ID, cls.SchoolID, cls.Name); err != nil {
		return school.Class{}, err
	}
	return cls, nil
}

func (s *Store) GetClass(ctx context.Context, schoolID, name string) (school.Class, error) {
	var cls school.Class
	err := s.get(ctx, &cls, school.ErrClassNotFound,
		`SELECT id, school_id AS schoolid, name FROM school_classes WHERE school_id = $1 AND name = $2`, schoolID, name)
	return cls, err
}

func (s *Store) ListClasses(ctx context.Context, schoolID string) ([]school.Class, error) {
	classes := make([]school.Class, 0)
	err := s.selectAll(ctx, &classes,
		`SELECT id, school_id AS schoolid, name FROM school_classes WHERE school_id = $1 ORDER BY name`, schoolID)
	return classes, err
}

func (s *Store) DeleteClass(ctx context.Context, schoolID, name string) error {
	return s.execOne(ctx, school.ErrClassNotFound, `DELETE FROM school_classes WHERE school_id = $1 AND name = $2`, schoolID, name)
}

func (s *Store) CountStudentsInClass(ctx context.Context, schoolID, name string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM students WHERE school_id = $1 AND class = $2`, schoolID, name)
	return n, err
}

const rosterColumns = `id, school_id, first_name, last_name, age, role, advisory_class, school_role, project_role, email, created_at`

type rosterRow struct {
	ID            string      `db:"id"`
	SchoolID      string      `db:"school_id"`
	FirstName     string      `db:"first_name"`
	LastName      string      `db:"last_name"`
	Age           null.Int    `db:"age"`
	Role          string      `db:"role"`
	AdvisoryClass string      `db:"advisory_class"`
	SchoolRole    string      `db:"school_role"`
	ProjectRole   string      `db:"project_role"`
	Email         null.String `db:"email"`
	CreatedAt     time.Time   `db:"created_at"`
}

func toRosterRow(e school.RosterEntry) rosterRow {
	return rosterRow{
		ID:            e.ID,
		SchoolID:      e.SchoolID,
		FirstName:     e.FirstName,
		LastName:      e.LastName,
		Age:           null.NewInt(e.Age, e.Age != 0),
		Role:          string(e.Role),
		AdvisoryClass: e.AdvisoryClass,
		SchoolRole:    e.SchoolRole,
		ProjectRole:   e.ProjectRole,
		Email:         null.NewString(e.Email, e.Email != ""),
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

func (r rosterRow) entry() school.RosterEntry {
	return school.RosterEntry{
		ID:            r.ID,
		SchoolID:      r.SchoolID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Age:           r.Age.Int,
		Role:          core.Role(r.Role),
		AdvisoryClass: r.AdvisoryClass,
		SchoolRole:    r.SchoolRole,
		ProjectRole:   r.ProjectRole,
		Email:         r.Email.String,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (s *Store) CreateRosterEntry(ctx context.Context, entry school.RosterEntry) (school.RosterEntry, error) {
	err := s.namedExec(ctx, `
		INSERT INTO teacher_roster (`+rosterColumns+`)
		VALUES (:id, :school_id, :first_name, :last_name, :age, :role, :advisory_class, :school_role, :project_role, :email, :created_at)`,
		toRosterRow(entry))
	if err != nil {
		return school.RosterEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetRosterEntry(ctx context.Context, id string) (school.RosterEntry, error) {
	var row rosterRow
	if err := s.get(ctx, &row, school.ErrRosterEntryNotFound, `SELECT `+rosterColumns+` FROM teacher_roster WHERE id = $1`, id); err != nil {
		return school.RosterEntry{}, err
	}
	return row.entry(), nil
}

func (s *Store) GetRosterEntryByEmail(ctx context.Context, schoolID, email string) (school.RosterEntry, error) {
	var row rosterRow
	err := s.get(ctx, &row, school.ErrRosterEntryNotFound,
		`SELECT `+rosterColumns+` FROM teacher_roster WHERE school_id = $1 AND email = $2`, schoolID, email)
	if err != nil {
		return school.RosterEntry{}, err
	}
	return row.entry(), nil
}

func (s *Store) ListRoster(ctx context.Context, schoolID string) ([]school.RosterEntry, error) {
	var rows []rosterRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+rosterColumns+` FROM teacher_roster WHERE school_id = $1 ORDER BY first_name, last_name, id`, schoolID)
	if err != nil {
		return nil, err
	}
	entries := make([]school.RosterEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.entry()
	}
	return entries, nil
}

func (s *Store) UpdateRosterEntry(ctx context.Context, entry school.RosterEntry) (school.RosterEntry, error) {
	err := s.namedExecOne(ctx, school.ErrRosterEntryNotFound, `
		UPDATE teacher_roster SET
			first_name = :first_name, last_name = :last_name, age = :age, role = :role,
			advisory_class = :advisory_class, school_role = :school_role, project_role = :project_role, email = :email
		WHERE id = :id`,
		toRosterRow(entry))
	if err != nil {
		return school.RosterEntry{}, err
	}
	return entry, nil
}

// DeleteRosterEntry also deletes the entry's invites, by cascade.
func (s *Store) DeleteRosterEntry(ctx context.Context, id string) error {
	return s.execOne(ctx, school.ErrRosterEntryNotFound, `DELETE FROM teacher_roster WHERE id = $1`, id)
}
