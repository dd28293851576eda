package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         core.Role `json:"role"`
	SchoolID     string    `json:"school_id,omitempty"`
	IsPrimary    bool      `json:"is_primary"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsSystemAdmin() bool { return u.Role == core.RoleSystemAdmin }
func (u *User) IsSchoolAdmin() bool { return u.Role == core.RoleSchoolAdmin }
func (u *User) IsClassTeacher() bool { return u.Role == core.RoleClassTeacher }

// Session returns the session the auth layer issues for this user.
// advisoryClass comes from the user's teacher profile, if any.
func (u *User) Session(advisoryClass string) access.Session {
	return access.Session{
		UserID:        u.ID,
		Role:          u.Role,
		SchoolID:      u.SchoolID,
		IsPrimary:     u.IsPrimary,
		AdvisoryClass: advisoryClass,
	}
}

// SyncWhitelistRole applies the system admin whitelist to a user logging in:
// a whitelisted user becomes a system admin, a system admin who is no longer
// whitelisted falls back to school admin. A nil whitelist disables the sync;
// an empty one demotes every system admin.
func SyncWhitelistRole(usr User, whitelist []string) (User, bool) {
	if whitelist == nil {
		return usr, false
	}
	listed := false
	email := core.CleanString(usr.Email, true /* lower */)
	for _, e := range whitelist {
		if core.CleanString(e, true) == email {
			listed = true
			break
		}
	}
	switch {
	case listed && usr.Role != core.RoleSystemAdmin:
		usr.Role = core.RoleSystemAdmin
		return usr, true
	case !listed && usr.Role == core.RoleSystemAdmin:
		usr.Role = core.RoleSchoolAdmin
		return usr, true
	}
	return usr, false
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Clean() {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
}

func (nu *NewUser) Validate(svc Service) error {
	nu.Clean()
	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Email)
}

type LoginUser struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (lu LoginUser) Validate() error { return core.Validate.Struct(lu) }

type ChangeRole struct {
	Role core.Role `json:"role" validate:"required,role"`
}

func (cr ChangeRole) Validate() error { return core.Validate.Struct(cr) }

type RequestPasswordReset struct {
	Email string `json:"email" validate:"required,email"`
}

func (rr *RequestPasswordReset) Validate() error {
	rr.Email = core.CleanString(rr.Email, true /* lower */)
	return core.Validate.Struct(rr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate() error { return core.Validate.Struct(rp) }

// PasswordResetToken is a pending password reset. Only the HMAC of the
// mailed token is persisted.
type PasswordResetToken struct {
	Email     string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (t PasswordResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type QueryFilter struct {
	Search   string    `query:"search"`
	Role     core.Role `query:"role"`
	SchoolID string    `query:"school_id"`
	IsActive *bool     `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.SchoolID == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields maps API ordering fields to columns.
var OrderingFields = map[string]string{
	"email":      "email",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}
