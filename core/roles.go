package core

// Role is a user's role.
// A user has exactly one of them.
type Role string

const (
	RoleSystemAdmin  Role = "system_admin"
	RoleSchoolAdmin  Role = "school_admin"
	RoleClassTeacher Role = "class_teacher"
)

var AllRoles = []Role{RoleSystemAdmin, RoleSchoolAdmin, RoleClassTeacher}

func (r Role) IsValid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleForAdvisoryClass returns the role implied by an advisory class:
// the "all classes" sentinel makes a school admin, a real class makes a class teacher.
func RoleForAdvisoryClass(class string) Role {
	if class == AllClasses {
		return RoleSchoolAdmin
	}
	return RoleClassTeacher
}
