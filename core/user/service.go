package user

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("ผู้ใช้")
	ErrEmailExists        = errors.New("อีเมลนี้ถูกใช้งานแล้ว")
	ErrInvalidCredentials = core.NewValidationError(errors.New("อีเมลหรือรหัสผ่านไม่ถูกต้อง"))
	ErrInactive           = core.NewValidationError(errors.New("บัญชีนี้ถูกระงับการใช้งาน"))
	ErrResetTokenNotFound = core.NewNotFoundError("ลิงก์รีเซ็ตรหัสผ่าน")
	ErrResetTokenExpired  = core.NewValidationError(errors.New("ลิงก์รีเซ็ตรหัสผ่านหมดอายุแล้ว"))
)

type (
	Repository interface {
		// RunInTx runs `fn` in a transaction; `fn`'s repository is bound to it.
		// The transaction is rolled back when `fn` returns an error.
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on User.Email.
		FilterUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUser(ctx context.Context, id string) error

		// SaveResetToken replaces any pending token for the same email.
		SaveResetToken(ctx context.Context, tok PasswordResetToken) error
		GetResetToken(ctx context.Context, tokenHash string) (PasswordResetToken, error)
		DeleteResetToken(ctx context.Context, tokenHash string) error
	}

	Service interface {
		CheckUniqueness(email string) error
		Register(ctx context.Context, nu NewUser) (User, error)
		Create(ctx context.Context, nu NewUser, role core.Role) (User, error)
		Login(ctx context.Context, email, pwd string) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
		SetPassword(ctx context.Context, email, pwd string) error
		ChangeRole(ctx context.Context, actor access.Actor, id string, role core.Role) (User, error)
		Delete(ctx context.Context, actor access.Actor, id string) error
		Query(ctx context.Context, actor access.Actor, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(email string) error {
	_, err := svc.repo.GetUserByEmail(context.Background(), email)
	switch {
	case err == nil:
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	case core.IsNotFound(err):
		return nil
	default:
		return err
	}
}

// Register signs up a school admin that has no school yet.
// The school is linked when they create their teacher profile.
func (svc *service) Register(ctx context.Context, nu NewUser) (User, error) {
	return svc.Create(ctx, nu, core.RoleSchoolAdmin)
}

func (svc *service) Create(ctx context.Context, nu NewUser, role core.Role) (User, error) {
	if !role.IsValid() {
		return User{}, errors.Errorf("user.Create: invalid role %q", role)
	}
	usr, err := Build(nu.Email, nu.Password, role)
	if err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Build returns a new active user with a hashed password, ready to be saved.
func Build(email, pwd string, role core.Role) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Email:     core.CleanString(email, true /* lower */),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, err
	}
	return usr, nil
}

// Login checks the credentials, then syncs the whitelist role and the last login.
func (svc *service) Login(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if core.IsNotFound(err) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrInactive
	}

	usr, _ = SyncWhitelistRole(usr, svc.conf.SystemAdminWhitelist())
	now := time.Now().UTC()
	usr.LastLogin = now
	usr.UpdatedAt = now
	return svc.repo.UpdateUser(ctx, usr)
}

// RequestPasswordReset mails a reset link. Unknown emails are ignored silently.
func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, token, err := svc.createResetToken(ctx, email)
	if err != nil || token == "" {
		return err
	}
	go svc.sendPasswordResetMail(usr, token)
	return nil
}

func (svc *service) createResetToken(ctx context.Context, email string) (User, string, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if core.IsNotFound(err) {
			return User{}, "", nil
		}
		return User{}, "", err
	}
	if !usr.IsActive {
		return User{}, "", nil
	}

	token, err := makeToken()
	if err != nil {
		return User{}, "", errors.Wrap(err, "user.makeToken")
	}
	now := nowFunc().UTC()
	err = svc.repo.SaveResetToken(ctx, PasswordResetToken{
		Email:     usr.Email,
		TokenHash: hashToken(svc.conf.SecretKey, token),
		ExpiresAt: now.Add(svc.conf.PasswordResetTimeoutDelta),
		CreatedAt: now,
	})
	if err != nil {
		return User{}, "", err
	}
	return usr, token, nil
}

func (svc *service) sendPasswordResetMail(usr User, token string) {
	link := fmt.Sprintf("%s/reset-password?token=%s", svc.conf.FrontendBaseURL, url.QueryEscape(token))
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: usr.Email}},
		Subject:      "รีเซ็ตรหัสผ่าน",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":     usr.Email,
			"Email":    usr.Email,
			"Token":    token,
			"Link":     link,
			"ValidFor": svc.conf.PasswordResetTimeoutDelta.String(),
		},
	})
}

// ResetPassword consumes a reset token: the password update and the token
// deletion commit together. An expired token is deleted and rejected.
func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	if err := rp.Validate(); err != nil {
		return err
	}
	tokenHash := hashToken(svc.conf.SecretKey, rp.Token)

	var expired bool
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		tok, err := repo.GetResetToken(ctx, tokenHash)
		if err != nil {
			if core.IsNotFound(err) {
				return ErrResetTokenNotFound
			}
			return err
		}
		if tok.Expired(nowFunc()) {
			expired = true
			return ErrResetTokenExpired
		}

		usr, err := repo.GetUserByEmail(ctx, tok.Email)
		if err != nil {
			if core.IsNotFound(err) {
				return ErrResetTokenNotFound
			}
			return err
		}
		if err := ValidatePassword(rp.Password, usr.Email); err != nil {
			return err
		}
		if err := usr.SetPassword(rp.Password); err != nil {
			return err
		}
		usr.UpdatedAt = time.Now().UTC()
		if _, err := repo.UpdateUser(ctx, usr); err != nil {
			return err
		}
		return repo.DeleteResetToken(ctx, tokenHash)
	})

	if expired {
		_ = svc.repo.DeleteResetToken(ctx, tokenHash)
	}
	return err
}

// SetPassword is used by operators; it bypasses reset tokens.
func (svc *service) SetPassword(ctx context.Context, email, pwd string) error {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if err := ValidatePassword(pwd, usr.Email); err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

// ChangeRole is reserved to system admins. Nobody may change their own role,
// another system admin's role or a primary admin's role.
func (svc *service) ChangeRole(ctx context.Context, actor access.Actor, id string, role core.Role) (User, error) {
	if !access.IsSystemAdmin(actor) {
		return User{}, core.NewAuthorizationError(core.ReasonForbidden)
	}
	if err := (ChangeRole{Role: role}).Validate(); err != nil {
		return User{}, err
	}
	if actor.ID() == id {
		return User{}, core.NewAuthorizationError(core.ReasonForbidden)
	}

	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if usr.IsSystemAdmin() || usr.IsPrimary {
		return User{}, core.NewAuthorizationError(core.ReasonForbidden)
	}
	usr.Role = role
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// Delete removes a user with their teacher profile.
// System admins may delete anyone but themselves and other system admins;
// school admins may delete the non-primary class teachers of their school.
func (svc *service) Delete(ctx context.Context, actor access.Actor, id string) error {
	if actor == nil {
		return core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	if actor.ID() == id {
		return core.NewAuthorizationError(core.ReasonForbidden)
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	switch a := actor.(type) {
	case access.SystemAdmin:
		if usr.IsSystemAdmin() {
			return core.NewAuthorizationError(core.ReasonForbidden)
		}
	case access.SchoolAdmin:
		if a.SchoolID == "" || a.SchoolID != usr.SchoolID {
			return core.NewAuthorizationError(core.ReasonDifferentSchool)
		}
		if !usr.IsClassTeacher() || usr.IsPrimary {
			return core.NewAuthorizationError(core.ReasonForbidden)
		}
	default:
		return core.NewAuthorizationError(core.ReasonForbidden)
	}
	return svc.repo.DeleteUser(ctx, id)
}

// Query lists all users for system admins and the users of their school for school admins.
func (svc *service) Query(ctx context.Context, actor access.Actor, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	switch a := actor.(type) {
	case access.SystemAdmin:
	case access.SchoolAdmin:
		if a.SchoolID == "" {
			return []User{}, nil
		}
		filter.SchoolID = a.SchoolID
	default:
		return nil, core.NewAuthorizationError(core.ReasonForbidden)
	}
	filter.Clean()
	return svc.repo.FilterUsers(ctx, filter, core.CleanOrderings(ordering, OrderingFields)...)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}
