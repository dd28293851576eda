package pgrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/student"
)

type counselingRepository struct {
	*Store
}

var _ counseling.Repository = counselingRepository{}

func NewCounselingRepository(db *sqlx.DB) counseling.Repository {
	return counselingRepository{NewStore(db)}
}

func (repo counselingRepository) RunInTx(ctx context.Context, fn func(repo counseling.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(counselingRepository{tx}) })
}

func (s *Store) LockStudent(ctx context.Context, id string) error {
	var locked string
	return s.get(ctx, &locked, student.ErrNotFound, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) MaxSessionNumber(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COALESCE(MAX(session_number), 0) FROM counseling_sessions WHERE student_id = $1`, studentID)
	return n, err
}

const sessionColumns = `id, student_id, session_number, session_date, counselor_id, topic, notes, outcome, created_at, updated_at`

type sessionRow struct {
	ID            string    `db:"id"`
	StudentID     string    `db:"student_id"`
	SessionNumber int       `db:"session_number"`
	SessionDate   time.Time `db:"session_date"`
	CounselorID   string    `db:"counselor_id"`
	Topic         string    `db:"topic"`
	Notes         string    `db:"notes"`
	Outcome       string    `db:"outcome"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func toSessionRow(sess counseling.Session) sessionRow {
	return sessionRow{
		ID:            sess.ID,
		StudentID:     sess.StudentID,
		SessionNumber: sess.SessionNumber,
		SessionDate:   sess.SessionDate.UTC(),
		CounselorID:   sess.CounselorID,
		Topic:         sess.Topic,
		Notes:         sess.Notes,
		Outcome:       sess.Outcome,
		CreatedAt:     sess.CreatedAt.UTC(),
		UpdatedAt:     sess.UpdatedAt.UTC(),
	}
}

func (r sessionRow) session() counseling.Session {
	return counseling.Session{
		ID:            r.ID,
		StudentID:     r.StudentID,
		SessionNumber: r.SessionNumber,
		SessionDate:   r.SessionDate.UTC(),
		CounselorID:   r.CounselorID,
		Topic:         r.Topic,
		Notes:         r.Notes,
		Outcome:       r.Outcome,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess counseling.Session) (counseling.Session, error) {
	err := s.namedExec(ctx, `
		INSERT INTO counseling_sessions (`+sessionColumns+`)
		VALUES (:id, :student_id, :session_number, :session_date, :counselor_id, :topic, :notes, :outcome, :created_at, :updated_at)`,
		toSessionRow(sess))
	if err != nil {
		return counseling.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (counseling.Session, error) {
	var row sessionRow
	if err := s.get(ctx, &row, counseling.ErrNotFound, `SELECT `+sessionColumns+` FROM counseling_sessions WHERE id = $1`, id); err != nil {
		return counseling.Session{}, err
	}
	return row.session(), nil
}

func (s *Store) UpdateSession(ctx context.Context, sess counseling.Session) (counseling.Session, error) {
	err := s.namedExecOne(ctx, counseling.ErrNotFound, `
		UPDATE counseling_sessions SET
			session_date = :session_date, topic = :topic, notes = :notes, outcome = :outcome, updated_at = :updated_at
		WHERE id = :id`,
		toSessionRow(sess))
	if err != nil {
		return counseling.Session{}, err
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, studentID string) ([]counseling.Session, error) {
	var rows []sessionRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+sessionColumns+` FROM counseling_sessions WHERE student_id = $1 ORDER BY session_number`, studentID)
	if err != nil {
		return nil, err
	}
	sessions := make([]counseling.Session, len(rows))
	for i, row := range rows {
		sessions[i] = row.session()
	}
	return sessions, nil
}

func (s *Store) MaxVisitNumber(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COALESCE(MAX(visit_number), 0) FROM home_visits WHERE student_id = $1`, studentID)
	return n, err
}

const visitColumns = `id, student_id, visit_number, visit_date, teacher_id, notes, created_at`

type visitRow struct {
	ID          string    `db:"id"`
	StudentID   string    `db:"student_id"`
	VisitNumber int       `db:"visit_number"`
	VisitDate   time.Time `db:"visit_date"`
	TeacherID   string    `db:"teacher_id"`
	Notes       string    `db:"notes"`
	CreatedAt   time.Time `db:"created_at"`
}

type photoRow struct {
	ID         string    `db:"id"`
	VisitID    string    `db:"home_visit_id"`
	FileName   string    `db:"file_name"`
	FileURL    string    `db:"file_url"`
	FileSize   int64     `db:"file_size"`
	UploadedAt time.Time `db:"uploaded_at"`
}

// withPhotos loads the photos of the visits, oldest first.
func (s *Store) withPhotos(ctx context.Context, rows []visitRow) ([]counseling.HomeVisit, error) {
	visits := make([]counseling.HomeVisit, len(rows))
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		visits[i] = counseling.HomeVisit{
			ID:          r.ID,
			StudentID:   r.StudentID,
			VisitNumber: r.VisitNumber,
			VisitDate:   r.VisitDate.UTC(),
			TeacherID:   r.TeacherID,
			Notes:       r.Notes,
			CreatedAt:   r.CreatedAt.UTC(),
			Photos:      []counseling.Photo{},
		}
		ids[i] = r.ID
		index[r.ID] = i
	}
	if len(ids) == 0 {
		return visits, nil
	}

	var photos []photoRow
	err := s.selectAll(ctx, &photos, `
		SELECT id, home_visit_id, file_name, file_url, file_size, uploaded_at
		FROM home_visit_photos WHERE home_visit_id = ANY($1)
		ORDER BY uploaded_at, id`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, ph := range photos {
		i := index[ph.VisitID]
		visits[i].Photos = append(visits[i].Photos, counseling.Photo{
			ID:         ph.ID,
			VisitID:    ph.VisitID,
			FileName:   ph.FileName,
			FileURL:    ph.FileURL,
			FileSize:   ph.FileSize,
			UploadedAt: ph.UploadedAt.UTC(),
		})
	}
	return visits, nil
}

func (s *Store) CreateHomeVisit(ctx context.Context, v counseling.HomeVisit) (counseling.HomeVisit, error) {
	err := s.namedExec(ctx, `
		INSERT INTO home_visits (`+visitColumns+`)
		VALUES (:id, :student_id, :visit_number, :visit_date, :teacher_id, :notes, :created_at)`,
		visitRow{
			ID:          v.ID,
			StudentID:   v.StudentID,
			VisitNumber: v.VisitNumber,
			VisitDate:   v.VisitDate.UTC(),
			TeacherID:   v.TeacherID,
			Notes:       v.Notes,
			CreatedAt:   v.CreatedAt.UTC(),
		})
	if err != nil {
		return counseling.HomeVisit{}, err
	}
	v.Photos = []counseling.Photo{}
	return v, nil
}

func (s *Store) GetHomeVisit(ctx context.Context, id string) (counseling.HomeVisit, error) {
	var row visitRow
	if err := s.get(ctx, &row, counseling.ErrVisitNotFound, `SELECT `+visitColumns+` FROM home_visits WHERE id = $1`, id); err != nil {
		return counseling.HomeVisit{}, err
	}
	visits, err := s.withPhotos(ctx, []visitRow{row})
	if err != nil {
		return counseling.HomeVisit{}, err
	}
	return visits[0], nil
}

func (s *Store) ListHomeVisits(ctx context.Context, studentID string) ([]counseling.HomeVisit, error) {
	var rows []visitRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+visitColumns+` FROM home_visits WHERE student_id = $1 ORDER BY visit_number`, studentID)
	if err != nil {
		return nil, err
	}
	return s.withPhotos(ctx, rows)
}

func (s *Store) CountPhotos(ctx context.Context, visitID string) (int, error) {
	var n int
	err := s.get(ctx, &n, nil, `SELECT COUNT(*) FROM home_visit_photos WHERE home_visit_id = $1`, visitID)
	return n, err
}

func (s *Store) CreatePhoto(ctx context.Context, ph counseling.Photo) (counseling.Photo, error) {
	err := s.namedExec(ctx, `
		INSERT INTO home_visit_photos (id, home_visit_id, file_name, file_url, file_size, uploaded_at)
		VALUES (:id, :home_visit_id, :file_name, :file_url, :file_size, :uploaded_at)`,
		photoRow{
			ID:         ph.ID,
			VisitID:    ph.VisitID,
			FileName:   ph.FileName,
			FileURL:    ph.FileURL,
			FileSize:   ph.FileSize,
			UploadedAt: ph.UploadedAt.UTC(),
		})
	if err != nil {
		return counseling.Photo{}, err
	}
	return ph, nil
}
