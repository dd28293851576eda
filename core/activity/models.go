package activity

import (
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
)

// Status of an activity progress row.
//
//	locked -> in_progress -> pending_assessment -> completed   (activity 1)
//	locked -> in_progress -> completed                         (activities 2-5)
type Status string

const (
	StatusLocked            Status = "locked"
	StatusInProgress        Status = "in_progress"
	StatusPendingAssessment Status = "pending_assessment"
	StatusCompleted         Status = "completed"
)

var Statuses = []Status{StatusLocked, StatusInProgress, StatusPendingAssessment, StatusCompleted}

// AssessedActivity is the activity that needs a teacher assessment to complete.
const AssessedActivity = 1

var (
	// state errors; no data is changed when they are returned
	ErrLocked            = core.NewStateError("ไม่สามารถบันทึกได้ กิจกรรมนี้ยังถูกล็อกอยู่")
	ErrCompleted         = core.NewStateError("กิจกรรมนี้เสร็จสิ้นแล้ว")
	ErrAssessLocked      = core.NewStateError("ไม่สามารถประเมินได้ กิจกรรมนี้ยังถูกล็อกอยู่")
	ErrAssessInProgress  = core.NewStateError("กรุณาอัปโหลดใบงานให้ครบก่อนประเมิน")
	ErrAssessCompleted   = core.NewStateError("กิจกรรมนี้ได้รับการประเมินแล้ว")
	ErrAssessNotRequired = core.NewStateError("กิจกรรมนี้ไม่ต้องประเมิน")
)

// RequiredUploads is the number of worksheets that completes an activity's upload step.
func RequiredUploads(activityNumber int) int {
	if activityNumber == 5 {
		return 1
	}
	return 2
}

// CheckUpload returns a state error when worksheets cannot be uploaded in `status`.
func CheckUpload(status Status) error {
	switch status {
	case StatusInProgress, StatusPendingAssessment:
		return nil
	case StatusLocked:
		return ErrLocked
	case StatusCompleted:
		return ErrCompleted
	default:
		return errors.Errorf("activity: unknown status %q", status)
	}
}

// AfterUpload returns the status of an activity holding `uploads` worksheets.
func AfterUpload(activityNumber int, status Status, uploads int) Status {
	if status != StatusInProgress || uploads < RequiredUploads(activityNumber) {
		return status
	}
	if activityNumber == AssessedActivity {
		return StatusPendingAssessment
	}
	return StatusCompleted
}

// CheckAssessment returns a state error unless the activity awaits its assessment.
func CheckAssessment(activityNumber int, status Status) error {
	if activityNumber != AssessedActivity {
		return ErrAssessNotRequired
	}
	switch status {
	case StatusPendingAssessment:
		return nil
	case StatusLocked:
		return ErrAssessLocked
	case StatusInProgress:
		return ErrAssessInProgress
	case StatusCompleted:
		return ErrAssessCompleted
	default:
		return errors.Errorf("activity: unknown status %q", status)
	}
}

// NextToUnlock returns the activity following `current` in the student's plan.
// ok is false when `current` is the last one or the next is already unlocked.
func NextToUnlock(rows []Progress, current int) (Progress, bool) {
	var next *Progress
	for i := range rows {
		if rows[i].ActivityNumber > current && (next == nil || rows[i].ActivityNumber < next.ActivityNumber) {
			next = &rows[i]
		}
	}
	if next == nil || next.Status != StatusLocked {
		return Progress{}, false
	}
	return *next, true
}

type Progress struct {
	ID               string     `json:"id"`
	StudentID        string     `json:"student_id"`
	ResultID         string     `json:"phq_result_id"`
	ActivityNumber   int        `json:"activity_number"`
	Status           Status     `json:"status"`
	TeacherID        string     `json:"teacher_id,omitempty"`
	TeacherNotes     string     `json:"teacher_notes"`
	ScheduledDate    *time.Time `json:"scheduled_date,omitempty"`
	InternalProblems string     `json:"internal_problems,omitempty"`
	ExternalProblems string     `json:"external_problems,omitempty"`
	ProblemType      string     `json:"problem_type,omitempty"`
	AssessedAt       *time.Time `json:"assessed_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Uploads          []Upload   `json:"uploads"`
}

// complete marks the activity completed at `at`.
func (p *Progress) complete(at time.Time) {
	p.Status = StatusCompleted
	p.CompletedAt = &at
	p.UpdatedAt = at
}

// NewProgress returns the progress rows seeded for a PHQ result:
// the first activity of `plan` in progress, the others locked.
func NewProgress(id func() string, studentID, resultID string, plan []int, at time.Time) []Progress {
	rows := make([]Progress, 0, len(plan))
	for i, n := range plan {
		status := StatusLocked
		if i == 0 {
			status = StatusInProgress
		}
		rows = append(rows, Progress{
			ID:             id(),
			StudentID:      studentID,
			ResultID:       resultID,
			ActivityNumber: n,
			Status:         status,
			CreatedAt:      at,
			UpdatedAt:      at,
			Uploads:        []Upload{},
		})
	}
	return rows
}

// Upload is a worksheet uploaded for an activity.
type Upload struct {
	ID         string    `json:"id"`
	ProgressID string    `json:"activity_progress_id"`
	FileName   string    `json:"file_name"`
	FileURL    string    `json:"file_url"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UploadResult is returned to the uploader.
type UploadResult struct {
	Success  bool     `json:"success"`
	FileURL  string   `json:"fileUrl"`
	FileName string   `json:"fileName"`
	Progress Progress `json:"progress"`
}

type Assessment struct {
	InternalProblems string `json:"internal_problems" validate:"max=2000"`
	ExternalProblems string `json:"external_problems" validate:"max=2000"`
	ProblemType      string `json:"problem_type" validate:"required,max=100"`
}

func (a *Assessment) Validate() error {
	a.InternalProblems = core.CleanString(a.InternalProblems)
	a.ExternalProblems = core.CleanString(a.ExternalProblems)
	a.ProblemType = core.CleanString(a.ProblemType)
	return core.Validate.Struct(a)
}

type Schedule struct {
	Date time.Time `json:"scheduled_date" validate:"required"`
}

type Notes struct {
	Notes string `json:"teacher_notes" validate:"max=5000"`
}
