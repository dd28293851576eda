package school

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/user"
)

var (
	// errors
	ErrNotFound            = core.NewNotFoundError("โรงเรียน")
	ErrClassNotFound       = core.NewNotFoundError("ห้องเรียน")
	ErrRosterEntryNotFound = core.NewNotFoundError("รายชื่อครู")
	ErrSchoolExists        = errors.New("มีโรงเรียนนี้ในระบบแล้ว")
	ErrAlreadyLinked       = errors.New("บัญชีนี้มีโรงเรียนอยู่แล้ว")
	ErrClassExists         = errors.New("มีห้องเรียนนี้แล้ว")
	ErrReservedClassName   = errors.New("ไม่สามารถใช้ชื่อห้องเรียนนี้ได้")
	ErrClassInUse          = errors.New("ไม่สามารถลบห้องเรียนที่มีนักเรียนอยู่ได้")
	ErrUnknownClass        = errors.New("ไม่พบห้องเรียนนี้ในโรงเรียน")
	ErrRosterEmailExists   = errors.New("อีเมลนี้มีอยู่ในรายชื่อครูแล้ว")
)

type (
	Repository interface {
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		CreateSchool(ctx context.Context, sch School) (School, error)
		GetSchoolByID(ctx context.Context, id string) (School, error)
		GetSchoolByNameProvince(ctx context.Context, name, province string) (School, error)
		FilterSchools(ctx context.Context, filter QueryFilter) ([]School, error)

		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClass(ctx context.Context, schoolID, name string) (Class, error)
		ListClasses(ctx context.Context, schoolID string) ([]Class, error)
		DeleteClass(ctx context.Context, schoolID, name string) error
		CountStudentsInClass(ctx context.Context, schoolID, name string) (int, error)

		CreateRosterEntry(ctx context.Context, entry RosterEntry) (RosterEntry, error)
		GetRosterEntry(ctx context.Context, id string) (RosterEntry, error)
		GetRosterEntryByEmail(ctx context.Context, schoolID, email string) (RosterEntry, error)
		ListRoster(ctx context.Context, schoolID string) ([]RosterEntry, error)
		UpdateRosterEntry(ctx context.Context, entry RosterEntry) (RosterEntry, error)
		DeleteRosterEntry(ctx context.Context, id string) error

		GetUserByID(ctx context.Context, id string) (user.User, error)
		UpdateUser(ctx context.Context, usr user.User) (user.User, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validationErr(field string, err error) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

// Create registers a school. A school admin without a school becomes its
// primary admin; one already linked to a school is rejected.
func (svc *Service) Create(ctx context.Context, actor access.Actor, ns NewSchool) (School, error) {
	if err := ns.Validate(); err != nil {
		return School{}, err
	}

	var sch School
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var usr user.User
		switch a := actor.(type) {
		case access.SystemAdmin:
		case access.SchoolAdmin:
			var err error
			if usr, err = repo.GetUserByID(ctx, a.UserID); err != nil {
				return err
			}
			if a.SchoolID != "" || usr.SchoolID != "" {
				return validationErr("name", ErrAlreadyLinked)
			}
		default:
			return core.NewAuthorizationError(core.ReasonForbidden)
		}

		if _, err := repo.GetSchoolByNameProvince(ctx, ns.Name, ns.Province); err == nil {
			return validationErr("name", ErrSchoolExists)
		} else if !core.IsNotFound(err) {
			return err
		}

		var err error
		sch, err = repo.CreateSchool(ctx, School{
			ID:        uuid.NewString(),
			Name:      ns.Name,
			Province:  ns.Province,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		if usr.ID != "" {
			usr.SchoolID = sch.ID
			usr.IsPrimary = true
			usr.Role = core.RoleSchoolAdmin
			usr.UpdatedAt = time.Now().UTC()
			if _, err := repo.UpdateUser(ctx, usr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return School{}, err
	}
	return sch, nil
}

func (svc *Service) Get(ctx context.Context, actor access.Actor, id string) (School, error) {
	if err := access.CheckSchoolMember(actor, id); err != nil {
		return School{}, err
	}
	return svc.repo.GetSchoolByID(ctx, id)
}

// Query lists every school for system admins, and the actor's own school otherwise.
func (svc *Service) Query(ctx context.Context, actor access.Actor, filter QueryFilter) ([]School, error) {
	if access.IsSystemAdmin(actor) {
		filter.Clean()
		return svc.repo.FilterSchools(ctx, filter)
	}
	schoolID := access.SchoolOf(actor)
	if schoolID == "" {
		return []School{}, nil
	}
	sch, err := svc.repo.GetSchoolByID(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return []School{sch}, nil
}

func (svc *Service) AddClass(ctx context.Context, actor access.Actor, schoolID string, nc NewClass) (Class, error) {
	if err := access.CheckManageSchool(actor, schoolID); err != nil {
		return Class{}, err
	}
	if err := nc.Validate(); err != nil {
		return Class{}, err
	}
	if _, err := svc.repo.GetSchoolByID(ctx, schoolID); err != nil {
		return Class{}, err
	}

	if _, err := svc.repo.GetClass(ctx, schoolID, nc.Name); err == nil {
		return Class{}, validationErr("name", ErrClassExists)
	} else if !core.IsNotFound(err) {
		return Class{}, err
	}
	return svc.repo.CreateClass(ctx, Class{
		ID:       uuid.NewString(),
		SchoolID: schoolID,
		Name:     nc.Name,
	})
}

func (svc *Service) Classes(ctx context.Context, actor access.Actor, schoolID string) ([]Class, error) {
	if err := access.CheckSchoolMember(actor, schoolID); err != nil {
		return nil, err
	}
	return svc.repo.ListClasses(ctx, schoolID)
}

// DeleteClass refuses to delete a class that still has students.
func (svc *Service) DeleteClass(ctx context.Context, actor access.Actor, schoolID, name string) error {
	if err := access.CheckManageSchool(actor, schoolID); err != nil {
		return err
	}
	return svc.repo.RunInTx(ctx, func(repo Repository) error {
		if _, err := repo.GetClass(ctx, schoolID, name); err != nil {
			return err
		}
		n, err := repo.CountStudentsInClass(ctx, schoolID, name)
		if err != nil {
			return err
		}
		if n > 0 {
			return validationErr("name", ErrClassInUse)
		}
		return repo.DeleteClass(ctx, schoolID, name)
	})
}

// checkRosterEntry checks the advisory class and the email uniqueness of a roster entry.
// excludeID is the entry being updated, if any.
func (svc *Service) checkRosterEntry(ctx context.Context, schoolID string, nr NewRosterEntry, excludeID string) error {
	if nr.AdvisoryClass != core.AllClasses {
		if _, err := svc.repo.GetClass(ctx, schoolID, nr.AdvisoryClass); err != nil {
			if core.IsNotFound(err) {
				return validationErr("advisory_class", ErrUnknownClass)
			}
			return err
		}
	}
	if nr.Email != "" {
		existing, err := svc.repo.GetRosterEntryByEmail(ctx, schoolID, nr.Email)
		switch {
		case err == nil && existing.ID != excludeID:
			return validationErr("email", ErrRosterEmailExists)
		case err != nil && !core.IsNotFound(err):
			return err
		}
	}
	return nil
}

func (svc *Service) AddRosterEntry(ctx context.Context, actor access.Actor, schoolID string, nr NewRosterEntry) (RosterEntry, error) {
	if err := access.CheckManageSchool(actor, schoolID); err != nil {
		return RosterEntry{}, err
	}
	if err := nr.Validate(); err != nil {
		return RosterEntry{}, err
	}
	if _, err := svc.repo.GetSchoolByID(ctx, schoolID); err != nil {
		return RosterEntry{}, err
	}
	if err := svc.checkRosterEntry(ctx, schoolID, nr, ""); err != nil {
		return RosterEntry{}, err
	}

	return svc.repo.CreateRosterEntry(ctx, RosterEntry{
		ID:            uuid.NewString(),
		SchoolID:      schoolID,
		FirstName:     nr.FirstName,
		LastName:      nr.LastName,
		Age:           nr.Age,
		Role:          core.RoleForAdvisoryClass(nr.AdvisoryClass),
		AdvisoryClass: nr.AdvisoryClass,
		SchoolRole:    nr.SchoolRole,
		ProjectRole:   nr.ProjectRole,
		Email:         nr.Email,
		CreatedAt:     time.Now().UTC(),
	})
}

func (svc *Service) Roster(ctx context.Context, actor access.Actor, schoolID string) ([]RosterEntry, error) {
	if err := access.CheckManageSchool(actor, schoolID); err != nil {
		return nil, err
	}
	return svc.repo.ListRoster(ctx, schoolID)
}

func (svc *Service) GetRosterEntry(ctx context.Context, actor access.Actor, id string) (RosterEntry, error) {
	entry, err := svc.repo.GetRosterEntry(ctx, id)
	if err != nil {
		return RosterEntry{}, err
	}
	if err := access.CheckManageSchool(actor, entry.SchoolID); err != nil {
		return RosterEntry{}, err
	}
	return entry, nil
}

func (svc *Service) UpdateRosterEntry(ctx context.Context, actor access.Actor, id string, nr NewRosterEntry) (RosterEntry, error) {
	entry, err := svc.GetRosterEntry(ctx, actor, id)
	if err != nil {
		return RosterEntry{}, err
	}
	if err := nr.Validate(); err != nil {
		return RosterEntry{}, err
	}
	if err := svc.checkRosterEntry(ctx, entry.SchoolID, nr, entry.ID); err != nil {
		return RosterEntry{}, err
	}

	entry.FirstName = nr.FirstName
	entry.LastName = nr.LastName
	entry.Age = nr.Age
	entry.AdvisoryClass = nr.AdvisoryClass
	entry.Role = core.RoleForAdvisoryClass(nr.AdvisoryClass)
	entry.SchoolRole = nr.SchoolRole
	entry.ProjectRole = nr.ProjectRole
	entry.Email = nr.Email
	return svc.repo.UpdateRosterEntry(ctx, entry)
}

func (svc *Service) DeleteRosterEntry(ctx context.Context, actor access.Actor, id string) error {
	if _, err := svc.GetRosterEntry(ctx, actor, id); err != nil {
		return err
	}
	return svc.repo.DeleteRosterEntry(ctx, id)
}
