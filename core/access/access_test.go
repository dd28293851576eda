package access

import (
	"testing"

	"github.com/trezcool/phqcare/core"
)

const (
	schoolA = "school-a"
	schoolB = "school-b"
	m11     = "ม.1/1"
	m21     = "ม.2/1"
)

func TestCanAccessStudent(t *testing.T) {
	sysAdmin := SystemAdmin{UserID: "sys"}
	adminA := SchoolAdmin{UserID: "adm-a", SchoolID: schoolA, IsPrimary: true}
	adminNoSchool := SchoolAdmin{UserID: "adm-x"}
	teacherA := ClassTeacher{UserID: "t-a", SchoolID: schoolA, AdvisoryClass: m11}
	teacherB := ClassTeacher{UserID: "t-b", SchoolID: schoolA, AdvisoryClass: m21}
	teacherOther := ClassTeacher{UserID: "t-o", SchoolID: schoolB, AdvisoryClass: m11}

	s1 := Subject{SchoolID: schoolA, Class: m11}
	s2 := Subject{SchoolID: schoolA, Class: m21}
	s1ReferredToB := Subject{SchoolID: schoolA, Class: m11, Referral: &Referral{FromUserID: teacherA.UserID, ToUserID: teacherB.UserID}}
	s1ReferredToA := Subject{SchoolID: schoolA, Class: m11, Referral: &Referral{FromUserID: teacherB.UserID, ToUserID: teacherA.UserID}}
	otherSchool := Subject{SchoolID: schoolB, Class: m11}

	tests := []struct {
		name       string
		actor      Actor
		subject    Subject
		wantAllow  bool
		wantReason string
	}{
		{name: "system admin, any school", actor: sysAdmin, subject: otherSchool, wantAllow: true},
		{name: "system admin, referred student", actor: sysAdmin, subject: s1ReferredToB, wantAllow: true},
		{name: "school admin, same school", actor: adminA, subject: s2, wantAllow: true},
		{name: "school admin, referred student", actor: adminA, subject: s1ReferredToB, wantAllow: true},
		{name: "school admin, other school", actor: adminA, subject: otherSchool, wantReason: core.ReasonDifferentSchool},
		{name: "school admin without school", actor: adminNoSchool, subject: s1, wantReason: core.ReasonDifferentSchool},
		{name: "class teacher, own class", actor: teacherA, subject: s1, wantAllow: true},
		{name: "class teacher, other class", actor: teacherA, subject: s2, wantReason: core.ReasonDifferentClass},
		{name: "class teacher, other school same class name", actor: teacherOther, subject: s1, wantReason: core.ReasonDifferentSchool},
		{name: "class teacher, own class referred away", actor: teacherA, subject: s1ReferredToB, wantReason: core.ReasonDifferentClass},
		{name: "class teacher, referred to them from other class", actor: teacherB, subject: s1ReferredToB, wantAllow: true},
		{name: "class teacher, referred to them in own class", actor: teacherA, subject: s1ReferredToA, wantAllow: true},
		{name: "class teacher, other school referral target", actor: teacherOther, subject: Subject{SchoolID: schoolA, Class: m11, Referral: &Referral{ToUserID: teacherOther.UserID}}, wantReason: core.ReasonDifferentSchool},
		{name: "nil actor", actor: nil, subject: s1, wantReason: core.ReasonNotAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanAccessStudent(tt.actor, tt.subject)
			if got.Allowed != tt.wantAllow {
				t.Errorf("CanAccessStudent().Allowed = %v, want %v", got.Allowed, tt.wantAllow)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("CanAccessStudent().Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

// Exhaustive check of the predicate against its plain-language definition.
func TestCanAccessStudent_Definition(t *testing.T) {
	users := []string{"u1", "u2", "u3"}
	schools := []string{schoolA, schoolB}
	classes := []string{m11, m21}

	var actors []Actor
	for _, u := range users {
		actors = append(actors, SystemAdmin{UserID: u})
		for _, s := range schools {
			actors = append(actors, SchoolAdmin{UserID: u, SchoolID: s})
			for _, c := range classes {
				actors = append(actors, ClassTeacher{UserID: u, SchoolID: s, AdvisoryClass: c})
			}
		}
	}
	var subjects []Subject
	for _, s := range schools {
		for _, c := range classes {
			subjects = append(subjects, Subject{SchoolID: s, Class: c})
			for _, from := range users {
				for _, to := range users {
					subjects = append(subjects, Subject{SchoolID: s, Class: c, Referral: &Referral{FromUserID: from, ToUserID: to}})
				}
			}
		}
	}

	for _, a := range actors {
		for _, s := range subjects {
			var want bool
			switch a := a.(type) {
			case SystemAdmin:
				want = true
			case SchoolAdmin:
				want = a.SchoolID == s.SchoolID
			case ClassTeacher:
				sameClassNotReferred := a.AdvisoryClass == s.Class && s.Referral == nil
				referredToMe := s.Referral != nil && s.Referral.ToUserID == a.UserID
				want = a.SchoolID == s.SchoolID && (sameClassNotReferred || referredToMe)
			}
			if got := CanAccessStudent(a, s).Allowed; got != want {
				t.Fatalf("CanAccessStudent(%+v, %+v) = %v, want %v", a, s, got, want)
			}
		}
	}
}

func TestReferralScenario(t *testing.T) {
	teacherA := ClassTeacher{UserID: "A", SchoolID: schoolA, AdvisoryClass: m11}
	teacherB := ClassTeacher{UserID: "B", SchoolID: schoolA, AdvisoryClass: m21}
	s1 := Subject{SchoolID: schoolA, Class: m11}
	s2 := Subject{SchoolID: schoolA, Class: m21}

	if !CanAccessStudent(teacherA, s1).Allowed {
		t.Error("A should access S1")
	}
	if CanAccessStudent(teacherA, s2).Allowed {
		t.Error("A should not access S2")
	}

	s1.Referral = &Referral{FromUserID: "A", ToUserID: "B"}
	if CanAccessStudent(teacherA, s1).Allowed {
		t.Error("A should not access S1 once referred to B")
	}
	if !CanAccessStudent(teacherB, s1).Allowed {
		t.Error("B should access S1 once referred to B")
	}
}

func TestFilter(t *testing.T) {
	teacherA := ClassTeacher{UserID: "A", SchoolID: schoolA, AdvisoryClass: m11}
	subjects := []Subject{
		{SchoolID: schoolA, Class: m11},
		{SchoolID: schoolA, Class: m21},
		{SchoolID: schoolA, Class: m21, Referral: &Referral{ToUserID: "A"}},
		{SchoolID: schoolA, Class: m11, Referral: &Referral{ToUserID: "B"}},
		{SchoolID: schoolB, Class: m11},
	}
	got := Filter(teacherA, subjects, func(s Subject) Subject { return s })
	if len(got) != 2 {
		t.Fatalf("Filter() kept %d subjects, want 2", len(got))
	}
	if got[0] != subjects[0] || got[1].Referral == nil {
		t.Errorf("Filter() = %+v", got)
	}
}

func TestCanViewProfile(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		user  string
		want  bool
	}{
		{name: "self as class teacher", actor: ClassTeacher{UserID: "u1"}, user: "u1", want: true},
		{name: "self as school admin", actor: SchoolAdmin{UserID: "u1"}, user: "u1", want: true},
		{name: "class teacher, other user", actor: ClassTeacher{UserID: "u1", SchoolID: schoolA}, user: "u2"},
		{name: "school admin, other user", actor: SchoolAdmin{UserID: "u1", SchoolID: schoolA}, user: "u2"},
		{name: "system admin, other user", actor: SystemAdmin{UserID: "u1"}, user: "u2", want: true},
		{name: "nil actor", user: "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanViewProfile(tt.actor, tt.user); got != tt.want {
				t.Errorf("CanViewProfile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewActor(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    Actor
		wantErr bool
	}{
		{name: "system admin", session: Session{UserID: "u", Role: core.RoleSystemAdmin, SchoolID: schoolA}, want: SystemAdmin{UserID: "u"}},
		{name: "school admin", session: Session{UserID: "u", Role: core.RoleSchoolAdmin, SchoolID: schoolA, IsPrimary: true}, want: SchoolAdmin{UserID: "u", SchoolID: schoolA, IsPrimary: true}},
		{name: "class teacher", session: Session{UserID: "u", Role: core.RoleClassTeacher, SchoolID: schoolA, AdvisoryClass: m11}, want: ClassTeacher{UserID: "u", SchoolID: schoolA, AdvisoryClass: m11}},
		{name: "unknown role", session: Session{UserID: "u", Role: "student"}, wantErr: true},
		{name: "no user", session: Session{Role: core.RoleSystemAdmin}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewActor(tt.session)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewActor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !core.IsAuthorization(err) {
					t.Errorf("NewActor() error = %T, want *core.AuthorizationError", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("NewActor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckManageSchool(t *testing.T) {
	if err := CheckManageSchool(SystemAdmin{UserID: "s"}, schoolA); err != nil {
		t.Errorf("system admin: %v", err)
	}
	if err := CheckManageSchool(SchoolAdmin{UserID: "a", SchoolID: schoolA}, schoolA); err != nil {
		t.Errorf("school admin: %v", err)
	}
	err := CheckManageSchool(SchoolAdmin{UserID: "a", SchoolID: schoolA}, schoolB)
	if ae, ok := err.(*core.AuthorizationError); !ok || ae.Reason != core.ReasonDifferentSchool {
		t.Errorf("other school admin: %v", err)
	}
	err = CheckManageSchool(ClassTeacher{UserID: "t", SchoolID: schoolA, AdvisoryClass: m11}, schoolA)
	if ae, ok := err.(*core.AuthorizationError); !ok || ae.Reason != core.ReasonForbidden {
		t.Errorf("class teacher: %v", err)
	}
}
