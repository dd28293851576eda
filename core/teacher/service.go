package teacher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/user"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("ข้อมูลครู")
	ErrInviteNotFound = core.NewNotFoundError("คำเชิญ")
	ErrProfileExists  = core.NewValidationError(errors.New("บัญชีนี้มีข้อมูลครูแล้ว"))
	ErrOtherSchool    = core.NewValidationError(errors.New("บัญชีนี้สังกัดโรงเรียนอื่นแล้ว"))
	ErrInviteExpired  = core.NewValidationError(errors.New("คำเชิญหมดอายุแล้ว"))
	ErrInviteAccepted = core.NewValidationError(errors.New("คำเชิญนี้ถูกใช้งานแล้ว"))
	ErrInviteEmail    = core.NewValidationError(
		errors.New("อีเมลไม่ตรงกับที่ลงทะเบียนไว้"),
		core.FieldError{Field: "email", Error: "อีเมลไม่ตรงกับที่ลงทะเบียนไว้"},
	)
	ErrUnknownClass = core.NewValidationError(
		school.ErrUnknownClass,
		core.FieldError{Field: "advisory_class", Error: school.ErrUnknownClass.Error()},
	)
)

type (
	Repository interface {
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		CreateTeacher(ctx context.Context, t Teacher) (Teacher, error)
		GetTeacher(ctx context.Context, userID string) (Teacher, error)
		UpdateTeacher(ctx context.Context, t Teacher) (Teacher, error)
		ListTeachers(ctx context.Context, schoolID string) ([]Profile, error)

		CreateInvite(ctx context.Context, inv Invite) (Invite, error)
		GetInviteByToken(ctx context.Context, token string) (Invite, error)
		// MarkInviteAccepted only updates a pending invite; it returns
		// ErrInviteAccepted when the invite was accepted concurrently.
		MarkInviteAccepted(ctx context.Context, inviteID, userID string, at time.Time) error

		CreateUser(ctx context.Context, usr user.User) (user.User, error)
		GetUserByID(ctx context.Context, id string) (user.User, error)
		GetUserByEmail(ctx context.Context, email string) (user.User, error)
		UpdateUser(ctx context.Context, usr user.User) (user.User, error)

		CreateSchool(ctx context.Context, sch school.School) (school.School, error)
		GetSchoolByID(ctx context.Context, id string) (school.School, error)
		GetSchoolByNameProvince(ctx context.Context, name, province string) (school.School, error)
		GetClass(ctx context.Context, schoolID, name string) (school.Class, error)
		GetRosterEntry(ctx context.Context, id string) (school.RosterEntry, error)
	}

	Service struct {
		repo Repository
		conf *core.Config
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, conf: conf}
}

func profileOf(t Teacher, usr user.User) Profile {
	return Profile{
		Teacher:   t,
		Email:     usr.Email,
		Role:      usr.Role,
		SchoolID:  usr.SchoolID,
		IsPrimary: usr.IsPrimary,
	}
}

// CreateProfile onboards the actor: it finds or creates their school, links
// them to it and creates their teacher profile, all in one transaction.
// Whoever creates the school becomes its primary admin.
func (svc *Service) CreateProfile(ctx context.Context, actor access.Actor, np NewProfile) (Profile, error) {
	if actor == nil {
		return Profile{}, core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	if err := np.Validate(); err != nil {
		return Profile{}, err
	}

	var prof Profile
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		usr, err := repo.GetUserByID(ctx, actor.ID())
		if err != nil {
			return err
		}
		if _, err := repo.GetTeacher(ctx, usr.ID); err == nil {
			return ErrProfileExists
		} else if !core.IsNotFound(err) {
			return err
		}

		now := time.Now().UTC()
		sch, err := repo.GetSchoolByNameProvince(ctx, np.SchoolName, np.Province)
		created := false
		switch {
		case core.IsNotFound(err):
			sch, err = repo.CreateSchool(ctx, school.School{
				ID:        uuid.NewString(),
				Name:      np.SchoolName,
				Province:  np.Province,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		}
		if usr.SchoolID != "" && usr.SchoolID != sch.ID {
			return ErrOtherSchool
		}

		usr.SchoolID = sch.ID
		if created {
			usr.IsPrimary = true
		}
		if !usr.IsSystemAdmin() {
			usr.Role = core.RoleSchoolAdmin
		}
		usr.UpdatedAt = now
		if usr, err = repo.UpdateUser(ctx, usr); err != nil {
			return err
		}

		t, err := repo.CreateTeacher(ctx, Teacher{
			UserID:        usr.ID,
			FirstName:     np.FirstName,
			LastName:      np.LastName,
			Age:           np.Age,
			AdvisoryClass: core.AllClasses,
			SchoolRole:    np.SchoolRole,
			ProjectRole:   np.ProjectRole,
			AcademicYear:  np.AcademicYear,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return err
		}
		prof = profileOf(t, usr)
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return prof, nil
}

// getProfile loads a profile without access checks.
func (svc *Service) getProfile(ctx context.Context, userID string) (Profile, error) {
	usr, err := svc.repo.GetUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	t, err := svc.repo.GetTeacher(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(t, usr), nil
}

// AdvisoryClassOf returns the user's advisory class, "" without a profile.
// The auth layer puts it in the session.
func (svc *Service) AdvisoryClassOf(ctx context.Context, userID string) (string, error) {
	t, err := svc.repo.GetTeacher(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return t.AdvisoryClass, nil
}

func (svc *Service) GetProfile(ctx context.Context, actor access.Actor, userID string) (Profile, error) {
	if !access.CanViewProfile(actor, userID) {
		return Profile{}, core.NewAuthorizationError(core.ReasonForbidden)
	}
	return svc.getProfile(ctx, userID)
}

// UpdateProfile lets a teacher edit their own profile, and the admins of their school edit it.
func (svc *Service) UpdateProfile(ctx context.Context, actor access.Actor, userID string, up UpdateProfile) (Profile, error) {
	prof, err := svc.getProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if !access.CanViewProfile(actor, userID) && !access.CanManageSchool(actor, prof.SchoolID) {
		return Profile{}, core.NewAuthorizationError(core.ReasonForbidden)
	}
	if err := up.Validate(); err != nil {
		return Profile{}, err
	}

	t := up.apply(prof.Teacher)
	t.UpdatedAt = time.Now().UTC()
	if t, err = svc.repo.UpdateTeacher(ctx, t); err != nil {
		return Profile{}, err
	}
	prof.Teacher = t
	return prof, nil
}

// SetAdvisoryClass moves a teacher to a class, which makes them a class teacher,
// or to all classes, which makes them a school admin. Primary admins and
// system admins keep their role.
func (svc *Service) SetAdvisoryClass(ctx context.Context, actor access.Actor, userID string, sc SetAdvisoryClass) (Profile, error) {
	if err := sc.Validate(); err != nil {
		return Profile{}, err
	}

	var prof Profile
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		usr, err := repo.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := access.CheckManageSchool(actor, usr.SchoolID); err != nil {
			return err
		}
		if usr.IsPrimary || usr.IsSystemAdmin() {
			return core.NewAuthorizationError(core.ReasonForbidden)
		}
		t, err := repo.GetTeacher(ctx, userID)
		if err != nil {
			return err
		}

		if sc.AdvisoryClass != core.AllClasses {
			if _, err := repo.GetClass(ctx, usr.SchoolID, sc.AdvisoryClass); err != nil {
				if core.IsNotFound(err) {
					return ErrUnknownClass
				}
				return err
			}
		}

		now := time.Now().UTC()
		t.AdvisoryClass = sc.AdvisoryClass
		t.UpdatedAt = now
		if t, err = repo.UpdateTeacher(ctx, t); err != nil {
			return err
		}
		usr.Role = core.RoleForAdvisoryClass(sc.AdvisoryClass)
		usr.UpdatedAt = now
		if usr, err = repo.UpdateUser(ctx, usr); err != nil {
			return err
		}
		prof = profileOf(t, usr)
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return prof, nil
}

func (svc *Service) Teachers(ctx context.Context, actor access.Actor, schoolID string) ([]Profile, error) {
	if err := access.CheckSchoolMember(actor, schoolID); err != nil {
		return nil, err
	}
	return svc.repo.ListTeachers(ctx, schoolID)
}

// CreateInvite returns a shareable link for a roster entry, valid for the configured delay.
func (svc *Service) CreateInvite(ctx context.Context, actor access.Actor, rosterID string) (InviteLink, error) {
	entry, err := svc.repo.GetRosterEntry(ctx, rosterID)
	if err != nil {
		return InviteLink{}, err
	}
	if err := access.CheckManageSchool(actor, entry.SchoolID); err != nil {
		return InviteLink{}, err
	}

	now := time.Now().UTC()
	inv, err := svc.repo.CreateInvite(ctx, Invite{
		ID:        uuid.NewString(),
		RosterID:  entry.ID,
		SchoolID:  entry.SchoolID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(svc.conf.InviteTimeoutDelta),
		CreatedBy: actor.ID(),
		CreatedAt: now,
	})
	if err != nil {
		return InviteLink{}, err
	}
	return InviteLink{Invite: inv, Link: svc.conf.FrontendBaseURL + "/invite/" + inv.Token}, nil
}

// usableInvite runs the invite pre-checks. It has no side effects.
func (svc *Service) usableInvite(ctx context.Context, token string) (Invite, error) {
	if token == "" {
		return Invite{}, ErrInviteNotFound
	}
	inv, err := svc.repo.GetInviteByToken(ctx, token)
	if err != nil {
		return Invite{}, err
	}
	if inv.Accepted() {
		return Invite{}, ErrInviteAccepted
	}
	if inv.Expired(time.Now()) {
		return Invite{}, ErrInviteExpired
	}
	return inv, nil
}

func (svc *Service) InviteInfo(ctx context.Context, token string) (InviteInfo, error) {
	inv, err := svc.usableInvite(ctx, token)
	if err != nil {
		return InviteInfo{}, err
	}
	entry, err := svc.repo.GetRosterEntry(ctx, inv.RosterID)
	if err != nil {
		return InviteInfo{}, err
	}
	sch, err := svc.repo.GetSchoolByID(ctx, inv.SchoolID)
	if err != nil {
		return InviteInfo{}, err
	}
	return InviteInfo{
		SchoolName:    sch.Name,
		FirstName:     entry.FirstName,
		LastName:      entry.LastName,
		Email:         entry.Email,
		Role:          entry.Role,
		AdvisoryClass: entry.AdvisoryClass,
		ExpiresAt:     inv.ExpiresAt,
	}, nil
}

// AcceptInvite creates the invited teacher's account: the user, the invite
// acceptance and the teacher profile are committed together or not at all.
func (svc *Service) AcceptInvite(ctx context.Context, token string, ai AcceptInvite) (Profile, error) {
	if err := ai.Validate(); err != nil {
		return Profile{}, err
	}
	inv, err := svc.usableInvite(ctx, token)
	if err != nil {
		return Profile{}, err
	}
	if err := user.ValidatePassword(ai.Password, ai.Email); err != nil {
		return Profile{}, err
	}
	if _, err := svc.repo.GetUserByEmail(ctx, ai.Email); err == nil {
		return Profile{}, core.NewValidationError(user.ErrEmailExists, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
	} else if !core.IsNotFound(err) {
		return Profile{}, err
	}

	var prof Profile
	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		entry, err := repo.GetRosterEntry(ctx, inv.RosterID)
		if err != nil {
			return err
		}
		if entry.Email != "" && entry.Email != ai.Email {
			return ErrInviteEmail
		}

		usr, err := user.Build(ai.Email, ai.Password, entry.Role)
		if err != nil {
			return err
		}
		usr.SchoolID = inv.SchoolID
		if usr, err = repo.CreateUser(ctx, usr); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := repo.MarkInviteAccepted(ctx, inv.ID, usr.ID, now); err != nil {
			return err
		}

		t, err := repo.CreateTeacher(ctx, Teacher{
			UserID:        usr.ID,
			FirstName:     entry.FirstName,
			LastName:      entry.LastName,
			Age:           entry.Age,
			AdvisoryClass: entry.AdvisoryClass,
			SchoolRole:    entry.SchoolRole,
			ProjectRole:   entry.ProjectRole,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return err
		}
		prof = profileOf(t, usr)
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return prof, nil
}
