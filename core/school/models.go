package school

import (
	"time"

	"github.com/trezcool/phqcare/core"
)

type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Province  string    `json:"province"`
	CreatedAt time.Time `json:"created_at"`
}

type Class struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`
	Name     string `json:"name"`
}

// Project roles of a teacher in the care program.
const (
	ProjectRoleLead       = "lead"
	ProjectRoleCare       = "care"
	ProjectRoleCoordinate = "coordinate"
)

// RosterEntry is a teacher listed by a school admin before they have an account.
type RosterEntry struct {
	ID            string    `json:"id"`
	SchoolID      string    `json:"school_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Age           int       `json:"age"`
	Role          core.Role `json:"role"`
	AdvisoryClass string    `json:"advisory_class"`
	SchoolRole    string    `json:"school_role"`
	ProjectRole   string    `json:"project_role"`
	Email         string    `json:"email,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type NewSchool struct {
	Name     string `json:"name" validate:"required,max=255"`
	Province string `json:"province" validate:"required,max=100"`
}

func (ns *NewSchool) Validate() error {
	ns.Name = core.CleanString(ns.Name)
	ns.Province = core.CleanString(ns.Province)
	return core.Validate.Struct(ns)
}

type NewClass struct {
	Name string `json:"name" validate:"required,max=50"`
}

func (nc *NewClass) Validate() error {
	nc.Name = core.CleanString(nc.Name)
	if nc.Name == core.AllClasses {
		return core.NewValidationError(ErrReservedClassName, core.FieldError{Field: "name", Error: ErrReservedClassName.Error()})
	}
	return core.Validate.Struct(nc)
}

// NewRosterEntry is also used to update an entry.
type NewRosterEntry struct {
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	Age           int    `json:"age" validate:"omitempty,min=18,max=100"`
	AdvisoryClass string `json:"advisory_class" validate:"required"`
	SchoolRole    string `json:"school_role" validate:"max=100"`
	ProjectRole   string `json:"project_role" validate:"omitempty,oneof=lead care coordinate"`
	Email         string `json:"email" validate:"omitempty,email"`
}

func (nr *NewRosterEntry) Validate() error {
	nr.FirstName = core.CleanString(nr.FirstName)
	nr.LastName = core.CleanString(nr.LastName)
	nr.AdvisoryClass = core.CleanString(nr.AdvisoryClass)
	nr.SchoolRole = core.CleanString(nr.SchoolRole)
	nr.Email = core.CleanString(nr.Email, true /* lower */)
	return core.Validate.Struct(nr)
}

type QueryFilter struct {
	Search   string `query:"search"`
	Province string `query:"province"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Province = core.CleanString(qf.Province)
}
