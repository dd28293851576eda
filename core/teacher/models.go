package teacher

import (
	"time"

	"github.com/trezcool/phqcare/core"
)

// Teacher is the profile of a user, one per user.
type Teacher struct {
	UserID        string    `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Age           int       `json:"age"`
	AdvisoryClass string    `json:"advisory_class"`
	SchoolRole    string    `json:"school_role"`
	ProjectRole   string    `json:"project_role"`
	AcademicYear  int       `json:"academic_year"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (t Teacher) FullName() string {
	return t.FirstName + " " + t.LastName
}

// Profile is a teacher with the account fields the UI shows alongside.
type Profile struct {
	Teacher
	Email     string    `json:"email"`
	Role      core.Role `json:"role"`
	SchoolID  string    `json:"school_id"`
	IsPrimary bool      `json:"is_primary"`
}

type Invite struct {
	ID             string     `json:"id"`
	RosterID       string     `json:"roster_id"`
	SchoolID       string     `json:"school_id"`
	Token          string     `json:"token"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedUserID string     `json:"accepted_user_id,omitempty"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (inv Invite) Expired(now time.Time) bool {
	return !now.Before(inv.ExpiresAt)
}

func (inv Invite) Accepted() bool {
	return inv.AcceptedAt != nil
}

// InviteLink is returned to the admin who creates an invite.
type InviteLink struct {
	Invite
	Link string `json:"link"`
}

// InviteInfo pre-fills the invite acceptance form.
type InviteInfo struct {
	SchoolName    string    `json:"school_name"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email,omitempty"`
	Role          core.Role `json:"role"`
	AdvisoryClass string    `json:"advisory_class"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// NewProfile is submitted once, during onboarding.
type NewProfile struct {
	FirstName    string `json:"first_name" validate:"required,max=100"`
	LastName     string `json:"last_name" validate:"required,max=100"`
	Age          int    `json:"age" validate:"omitempty,min=18,max=100"`
	SchoolName   string `json:"school_name" validate:"required,max=255"`
	Province     string `json:"province" validate:"required,max=100"`
	SchoolRole   string `json:"school_role" validate:"max=100"`
	ProjectRole  string `json:"project_role" validate:"omitempty,oneof=lead care coordinate"`
	AcademicYear int    `json:"academic_year" validate:"omitempty,min=2500,max=2700"`
}

func (np *NewProfile) Validate() error {
	np.FirstName = core.CleanString(np.FirstName)
	np.LastName = core.CleanString(np.LastName)
	np.SchoolName = core.CleanString(np.SchoolName)
	np.Province = core.CleanString(np.Province)
	np.SchoolRole = core.CleanString(np.SchoolRole)
	return core.Validate.Struct(np)
}

type UpdateProfile struct {
	FirstName    string `json:"first_name" validate:"max=100"`
	LastName     string `json:"last_name" validate:"max=100"`
	Age          *int   `json:"age" validate:"omitempty,min=18,max=100"`
	SchoolRole   string `json:"school_role" validate:"max=100"`
	ProjectRole  string `json:"project_role" validate:"omitempty,oneof=lead care coordinate"`
	AcademicYear *int   `json:"academic_year" validate:"omitempty,min=2500,max=2700"`
}

func (up *UpdateProfile) Validate() error {
	up.FirstName = core.CleanString(up.FirstName)
	up.LastName = core.CleanString(up.LastName)
	up.SchoolRole = core.CleanString(up.SchoolRole)
	return core.Validate.Struct(up)
}

// apply copies the set fields of `up` onto `t`.
func (up UpdateProfile) apply(t Teacher) Teacher {
	if up.FirstName != "" {
		t.FirstName = up.FirstName
	}
	if up.LastName != "" {
		t.LastName = up.LastName
	}
	if up.Age != nil {
		t.Age = *up.Age
	}
	if up.SchoolRole != "" {
		t.SchoolRole = up.SchoolRole
	}
	if up.ProjectRole != "" {
		t.ProjectRole = up.ProjectRole
	}
	if up.AcademicYear != nil {
		t.AcademicYear = *up.AcademicYear
	}
	return t
}

type SetAdvisoryClass struct {
	AdvisoryClass string `json:"advisory_class" validate:"required"`
}

func (sc *SetAdvisoryClass) Validate() error {
	sc.AdvisoryClass = core.CleanString(sc.AdvisoryClass)
	return core.Validate.Struct(sc)
}

type AcceptInvite struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (ai *AcceptInvite) Validate() error {
	ai.Email = core.CleanString(ai.Email, true /* lower */)
	return core.Validate.Struct(ai)
}
