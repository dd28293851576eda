package pgrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/phqcare/core/activity"
)

type activityRepository struct {
	*Store
}

var _ activity.Repository = activityRepository{}

func NewActivityRepository(db *sqlx.DB) activity.Repository {
	return activityRepository{NewStore(db)}
}

func (repo activityRepository) RunInTx(ctx context.Context, fn func(repo activity.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(activityRepository{tx}) })
}

const progressColumns = `id, student_id, phq_result_id, activity_number, status, teacher_id, teacher_notes,
	scheduled_date, internal_problems, external_problems, problem_type, assessed_at, completed_at,
	created_at, updated_at`

type progressRow struct {
	ID               string      `db:"id"`
	StudentID        string      `db:"student_id"`
	ResultID         string      `db:"phq_result_id"`
	ActivityNumber   int         `db:"activity_number"`
	Status           string      `db:"status"`
	TeacherID        null.String `db:"teacher_id"`
	TeacherNotes     string      `db:"teacher_notes"`
	ScheduledDate    null.Time   `db:"scheduled_date"`
	InternalProblems null.String `db:"internal_problems"`
	ExternalProblems null.String `db:"external_problems"`
	ProblemType      null.String `db:"problem_type"`
	AssessedAt       null.Time   `db:"assessed_at"`
	CompletedAt      null.Time   `db:"completed_at"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func toProgressRow(p activity.Progress) progressRow {
	assessed := p.AssessedAt != nil
	return progressRow{
		ID:               p.ID,
		StudentID:        p.StudentID,
		ResultID:         p.ResultID,
		ActivityNumber:   p.ActivityNumber,
		Status:           string(p.Status),
		TeacherID:        null.NewString(p.TeacherID, p.TeacherID != ""),
		TeacherNotes:     p.TeacherNotes,
		ScheduledDate:    nullTime(p.ScheduledDate),
		InternalProblems: null.NewString(p.InternalProblems, assessed),
		ExternalProblems: null.NewString(p.ExternalProblems, assessed),
		ProblemType:      null.NewString(p.ProblemType, assessed),
		AssessedAt:       nullTime(p.AssessedAt),
		CompletedAt:      nullTime(p.CompletedAt),
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (r progressRow) progress() activity.Progress {
	return activity.Progress{
		ID:               r.ID,
		StudentID:        r.StudentID,
		ResultID:         r.ResultID,
		ActivityNumber:   r.ActivityNumber,
		Status:           activity.Status(r.Status),
		TeacherID:        r.TeacherID.String,
		TeacherNotes:     r.TeacherNotes,
		ScheduledDate:    timePtr(r.ScheduledDate),
		InternalProblems: r.InternalProblems.String,
		ExternalProblems: r.ExternalProblems.String,
		ProblemType:      r.ProblemType.String,
		AssessedAt:       timePtr(r.AssessedAt),
		CompletedAt:      timePtr(r.CompletedAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		Uploads:          []activity.Upload{},
	}
}

type uploadRow struct {
	ID         string    `db:"id"`
	ProgressID string    `db:"activity_progress_id"`
	FileName   string    `db:"file_name"`
	FileURL    string    `db:"file_url"`
	FileType   string    `db:"file_type"`
	FileSize   int64     `db:"file_size"`
	UploadedBy string    `db:"uploaded_by"`
	UploadedAt time.Time `db:"uploaded_at"`
}

// withUploads loads the uploads of the progress rows, oldest first.
func (s *Store) withUploads(ctx context.Context, rows []progressRow) ([]activity.Progress, error) {
	progress := make([]activity.Progress, len(rows))
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		progress[i] = row.progress()
		ids[i] = row.ID
		index[row.ID] = i
	}
	if len(ids) == 0 {
		return progress, nil
	}

	var uploads []uploadRow
	err := s.selectAll(ctx, &uploads, `
		SELECT id, activity_progress_id, file_name, file_url, file_type, file_size, uploaded_by, uploaded_at
		FROM worksheet_uploads WHERE activity_progress_id = ANY($1)
		ORDER BY uploaded_at, id`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		i := index[u.ProgressID]
		progress[i].Uploads = append(progress[i].Uploads, activity.Upload{
			ID:         u.ID,
			ProgressID: u.ProgressID,
			FileName:   u.FileName,
			FileURL:    u.FileURL,
			FileType:   u.FileType,
			FileSize:   u.FileSize,
			UploadedBy: u.UploadedBy,
			UploadedAt: u.UploadedAt.UTC(),
		})
	}
	return progress, nil
}

func (s *Store) getProgress(ctx context.Context, q, id string) (activity.Progress, error) {
	var row progressRow
	if err := s.get(ctx, &row, activity.ErrNotFound, q, id); err != nil {
		return activity.Progress{}, err
	}
	progress, err := s.withUploads(ctx, []progressRow{row})
	if err != nil {
		return activity.Progress{}, err
	}
	return progress[0], nil
}

func (s *Store) GetProgress(ctx context.Context, id string) (activity.Progress, error) {
	return s.getProgress(ctx, `SELECT `+progressColumns+` FROM activity_progress WHERE id = $1`, id)
}

func (s *Store) LockProgress(ctx context.Context, id string) (activity.Progress, error) {
	return s.getProgress(ctx, `SELECT `+progressColumns+` FROM activity_progress WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) ListProgress(ctx context.Context, resultID string) ([]activity.Progress, error) {
	var rows []progressRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+progressColumns+` FROM activity_progress WHERE phq_result_id = $1 ORDER BY activity_number`, resultID)
	if err != nil {
		return nil, err
	}
	return s.withUploads(ctx, rows)
}

func (s *Store) UpdateProgress(ctx context.Context, p activity.Progress) (activity.Progress, error) {
	err := s.namedExecOne(ctx, activity.ErrNotFound, `
		UPDATE activity_progress SET
			status = :status, teacher_id = :teacher_id, teacher_notes = :teacher_notes, scheduled_date = :scheduled_date,
			internal_problems = :internal_problems, external_problems = :external_problems, problem_type = :problem_type,
			assessed_at = :assessed_at, completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id`,
		toProgressRow(p))
	if err != nil {
		return activity.Progress{}, err
	}
	return s.GetProgress(ctx, p.ID)
}

func (s *Store) CreateUpload(ctx context.Context, u activity.Upload) (activity.Upload, error) {
	err := s.namedExec(ctx, `
		INSERT INTO worksheet_uploads (id, activity_progress_id, file_name, file_url, file_type, file_size, uploaded_by, uploaded_at)
		VALUES (:id, :activity_progress_id, :file_name, :file_url, :file_type, :file_size, :uploaded_by, :uploaded_at)`,
		uploadRow{
			ID:         u.ID,
			ProgressID: u.ProgressID,
			FileName:   u.FileName,
			FileURL:    u.FileURL,
			FileType:   u.FileType,
			FileSize:   u.FileSize,
			UploadedBy: u.UploadedBy,
			UploadedAt: u.UploadedAt.UTC(),
		})
	if err != nil {
		return activity.Upload{}, err
	}
	return u, nil
}

func (s *Store) CountUploads(ctx context.Context, progressID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM worksheet_uploads WHERE activity_progress_id = $1`, progressID)
	return n, err
}
