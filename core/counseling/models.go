package counseling

import (
	"time"

	"github.com/trezcool/phqcare/core"
)

// MaxPhotosPerVisit is the number of photos a home visit can hold.
const MaxPhotosPerVisit = 5

type Session struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	SessionNumber int       `json:"session_number"`
	SessionDate   time.Time `json:"session_date"`
	CounselorID   string    `json:"counselor_id"`
	Topic         string    `json:"topic"`
	Notes         string    `json:"notes"`
	Outcome       string    `json:"outcome"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type NewSession struct {
	SessionDate time.Time `json:"session_date" validate:"required"`
	Topic       string    `json:"topic" validate:"required,max=255"`
	Notes       string    `json:"notes" validate:"max=5000"`
	Outcome     string    `json:"outcome" validate:"max=2000"`
}

func (ns *NewSession) Validate() error {
	ns.Topic = core.CleanString(ns.Topic)
	ns.Notes = core.CleanString(ns.Notes)
	ns.Outcome = core.CleanString(ns.Outcome)
	return core.Validate.Struct(ns)
}

type UpdateSession struct {
	SessionDate *time.Time `json:"session_date"`
	Topic       string     `json:"topic" validate:"max=255"`
	Notes       *string    `json:"notes" validate:"omitempty,max=5000"`
	Outcome     *string    `json:"outcome" validate:"omitempty,max=2000"`
}

func (us *UpdateSession) Validate() error {
	us.Topic = core.CleanString(us.Topic)
	return core.Validate.Struct(us)
}

func (us UpdateSession) apply(s Session) Session {
	if us.SessionDate != nil {
		s.SessionDate = us.SessionDate.UTC()
	}
	if us.Topic != "" {
		s.Topic = us.Topic
	}
	if us.Notes != nil {
		s.Notes = core.CleanString(*us.Notes)
	}
	if us.Outcome != nil {
		s.Outcome = core.CleanString(*us.Outcome)
	}
	return s
}

type HomeVisit struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	VisitNumber int       `json:"visit_number"`
	VisitDate   time.Time `json:"visit_date"`
	TeacherID   string    `json:"teacher_id"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
	Photos      []Photo   `json:"photos"`
}

type Photo struct {
	ID         string    `json:"id"`
	VisitID    string    `json:"home_visit_id"`
	FileName   string    `json:"file_name"`
	FileURL    string    `json:"file_url"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type NewHomeVisit struct {
	VisitDate time.Time `json:"visit_date" validate:"required"`
	Notes     string    `json:"notes" validate:"max=5000"`
}

func (nv *NewHomeVisit) Validate() error {
	nv.Notes = core.CleanString(nv.Notes)
	return core.Validate.Struct(nv)
}
