package student

import (
	"time"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
)

type Student struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	StudentCode string    `json:"student_code"`
	Prefix      string    `json:"prefix"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Class       string    `json:"class"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// loaded with the student
	Referral   *Referral `json:"referral,omitempty"` // active referral
	LatestRisk RiskLevel `json:"latest_risk,omitempty"`
}

func (s Student) FullName() string {
	return s.Prefix + s.FirstName + " " + s.LastName
}

// Subject returns what the access predicate needs to know about the student.
func (s Student) Subject() access.Subject {
	sub := access.Subject{SchoolID: s.SchoolID, Class: s.Class}
	if s.Referral != nil {
		sub.Referral = &access.Referral{FromUserID: s.Referral.FromUserID, ToUserID: s.Referral.ToUserID}
	}
	return sub
}

type Referral struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	FromUserID string     `json:"from_user_id"`
	ToUserID   string     `json:"to_user_id"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (r Referral) Active() bool { return r.RevokedAt == nil }

// Result is one PHQ-9 screening of a student.
type Result struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	AcademicYear int       `json:"academic_year"`
	Round        int       `json:"round"`
	Scores       Scores    `json:"scores"`
	TotalScore   int       `json:"total_score"`
	RiskLevel    RiskLevel `json:"risk_level"`
	ImportedAt   time.Time `json:"imported_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// score sets the total and the risk level from the scores.
func (r *Result) score() {
	r.TotalScore = r.Scores.Total()
	r.RiskLevel = r.Scores.Risk()
}

// ImportRow is one student line of a PHQ-9 spreadsheet.
type ImportRow struct {
	StudentCode string `json:"student_code" validate:"required,max=50"`
	Prefix      string `json:"prefix" validate:"max=20"`
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	Class       string `json:"class" validate:"required"`
	Scores
}

func (ir *ImportRow) Validate() error {
	ir.StudentCode = core.CleanString(ir.StudentCode)
	ir.Prefix = core.CleanString(ir.Prefix)
	ir.FirstName = core.CleanString(ir.FirstName)
	ir.LastName = core.CleanString(ir.LastName)
	ir.Class = core.CleanString(ir.Class)
	return core.Validate.Struct(ir)
}

type ImportBatch struct {
	AcademicYear int         `json:"academic_year" validate:"required,min=2500,max=2700"`
	Round        int         `json:"round" validate:"required,min=1,max=4"`
	Rows         []ImportRow `json:"rows" validate:"required,min=1"`
}

// RowError reports an import row that was skipped. Row is 1-based.
type RowError struct {
	Row         int    `json:"row"`
	StudentCode string `json:"student_code,omitempty"`
	Message     string `json:"message"`
}

type ImportSummary struct {
	Imported int               `json:"imported"`
	Created  int               `json:"created"`
	Updated  int               `json:"updated"`
	ByRisk   map[RiskLevel]int `json:"by_risk"`
	Errors   []RowError        `json:"errors"`
}

type UpdateStudent struct {
	Prefix    string `json:"prefix" validate:"max=20"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Class     string `json:"class"`
}

func (us *UpdateStudent) Validate() error {
	us.Prefix = core.CleanString(us.Prefix)
	us.FirstName = core.CleanString(us.FirstName)
	us.LastName = core.CleanString(us.LastName)
	us.Class = core.CleanString(us.Class)
	return core.Validate.Struct(us)
}

type NewReferral struct {
	ToUserID string `json:"to_user_id" validate:"required"`
	Reason   string `json:"reason" validate:"max=1000"`
}

func (nr *NewReferral) Validate() error {
	nr.Reason = core.CleanString(nr.Reason)
	return core.Validate.Struct(nr)
}

type QueryFilter struct {
	SchoolID  string    `query:"school_id"`
	Class     string    `query:"class"`
	RiskLevel RiskLevel `query:"risk_level"`
	Search    string    `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.SchoolID = core.CleanString(qf.SchoolID)
	qf.Class = core.CleanString(qf.Class)
	qf.Search = core.CleanString(qf.Search)
}
