// Package access decides which actor may see or mutate which data.
//
// Every function takes the actor explicitly; nothing here reads session state.
package access

import (
	"github.com/trezcool/phqcare/core"
)

// Session is the authenticated user as carried by the auth token.
type Session struct {
	UserID        string
	Role          core.Role
	SchoolID      string
	IsPrimary     bool
	AdvisoryClass string
}

// Actor is one of SystemAdmin, SchoolAdmin or ClassTeacher.
type Actor interface {
	ID() string
	isActor()
}

type (
	SystemAdmin struct {
		UserID string
	}

	SchoolAdmin struct {
		UserID    string
		SchoolID  string // empty until the admin creates or joins a school
		IsPrimary bool
	}

	ClassTeacher struct {
		UserID        string
		SchoolID      string
		AdvisoryClass string
	}
)

func (a SystemAdmin) ID() string  { return a.UserID }
func (a SchoolAdmin) ID() string  { return a.UserID }
func (a ClassTeacher) ID() string { return a.UserID }

func (SystemAdmin) isActor()  {}
func (SchoolAdmin) isActor()  {}
func (ClassTeacher) isActor() {}

// NewActor builds the Actor for a session.
func NewActor(s Session) (Actor, error) {
	if s.UserID == "" {
		return nil, core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	switch s.Role {
	case core.RoleSystemAdmin:
		return SystemAdmin{UserID: s.UserID}, nil
	case core.RoleSchoolAdmin:
		return SchoolAdmin{UserID: s.UserID, SchoolID: s.SchoolID, IsPrimary: s.IsPrimary}, nil
	case core.RoleClassTeacher:
		return ClassTeacher{UserID: s.UserID, SchoolID: s.SchoolID, AdvisoryClass: s.AdvisoryClass}, nil
	default:
		return nil, core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
}

// SchoolOf returns the actor's school ID ("" for system admins).
func SchoolOf(a Actor) string {
	switch a := a.(type) {
	case SchoolAdmin:
		return a.SchoolID
	case ClassTeacher:
		return a.SchoolID
	default:
		return ""
	}
}

// Referral is a student's active referral.
type Referral struct {
	FromUserID string
	ToUserID   string
}

// Subject is what the predicate needs to know about a student.
type Subject struct {
	SchoolID string
	Class    string
	Referral *Referral // active referral, if any
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision              { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// CanAccessStudent applies, in order:
//  1. system admins may access any student;
//  2. everyone else must belong to the student's school;
//  3. class teachers may access students of their advisory class that are not referred,
//     and students referred to them whatever their class;
//  4. school admins may access every student of their school.
func CanAccessStudent(a Actor, s Subject) Decision {
	switch a := a.(type) {
	case SystemAdmin:
		return allow()
	case SchoolAdmin:
		if a.SchoolID == "" || a.SchoolID != s.SchoolID {
			return deny(core.ReasonDifferentSchool)
		}
		return allow()
	case ClassTeacher:
		if a.SchoolID == "" || a.SchoolID != s.SchoolID {
			return deny(core.ReasonDifferentSchool)
		}
		if s.Referral != nil {
			if s.Referral.ToUserID == a.UserID {
				return allow()
			}
			return deny(core.ReasonDifferentClass)
		}
		if s.Class == a.AdvisoryClass {
			return allow()
		}
		return deny(core.ReasonDifferentClass)
	default:
		return deny(core.ReasonNotAuthenticated)
	}
}

// CheckStudent returns a *core.AuthorizationError when `a` may not access the student.
func CheckStudent(a Actor, s Subject) error {
	if d := CanAccessStudent(a, s); !d.Allowed {
		return core.NewAuthorizationError(d.Reason)
	}
	return nil
}

// Filter keeps the items the actor may access.
func Filter[T any](a Actor, items []T, subject func(T) Subject) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if CanAccessStudent(a, subject(item)).Allowed {
			kept = append(kept, item)
		}
	}
	return kept
}

// CanViewProfile: anyone may view their own profile, system admins may view any.
func CanViewProfile(a Actor, requestedUserID string) bool {
	if a == nil {
		return false
	}
	if a.ID() == requestedUserID {
		return true
	}
	_, ok := a.(SystemAdmin)
	return ok
}

// CanManageSchool reports whether `a` administers the school.
func CanManageSchool(a Actor, schoolID string) bool {
	switch a := a.(type) {
	case SystemAdmin:
		return true
	case SchoolAdmin:
		return a.SchoolID != "" && a.SchoolID == schoolID
	default:
		return false
	}
}

func CheckManageSchool(a Actor, schoolID string) error {
	if CanManageSchool(a, schoolID) {
		return nil
	}
	if s := SchoolOf(a); s != schoolID {
		return core.NewAuthorizationError(core.ReasonDifferentSchool)
	}
	return core.NewAuthorizationError(core.ReasonForbidden)
}

// CheckSchoolMember allows system admins and any member of the school.
func CheckSchoolMember(a Actor, schoolID string) error {
	if _, ok := a.(SystemAdmin); ok {
		return nil
	}
	if s := SchoolOf(a); s == "" || s != schoolID {
		return core.NewAuthorizationError(core.ReasonDifferentSchool)
	}
	return nil
}

func IsSystemAdmin(a Actor) bool {
	_, ok := a.(SystemAdmin)
	return ok
}
