package student

import (
	"context"
	"fmt"
	"sort"
	"strings"
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
	ErrNotFound          = core.NewNotFoundError("นักเรียน")
	ErrResultNotFound    = core.NewNotFoundError("ผลการประเมิน")
	ErrReferralNotFound  = core.NewNotFoundError("การส่งต่อ")
	ErrAlreadyReferred   = core.NewValidationError(errors.New("นักเรียนคนนี้ถูกส่งต่ออยู่แล้ว"))
	ErrInvalidReferee    = core.NewValidationError(errors.New("ส่งต่อได้เฉพาะครูประจำชั้นในโรงเรียนเดียวกัน"))
	ErrUnknownClass      = core.NewValidationError(school.ErrUnknownClass, core.FieldError{Field: "class", Error: school.ErrUnknownClass.Error()})
	errDuplicateCode     = errors.New("รหัสนักเรียนซ้ำในไฟล์")
	errResultExists      = errors.New("มีผลการประเมินรอบนี้แล้ว")
	errRowNotYourClass   = errors.New("นักเรียนไม่ได้อยู่ในห้องที่คุณดูแล")
	errRowUnknownClass   = "ไม่พบห้องเรียน %s"
	errRowInvalidMessage = "ข้อมูลไม่ถูกต้อง: %s"
)

type (
	Repository interface {
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		// GetStudent loads the student with their active referral and latest risk level.
		GetStudent(ctx context.Context, id string) (Student, error)
		GetStudentByCode(ctx context.Context, schoolID, code string) (Student, error)
		CreateStudent(ctx context.Context, s Student) (Student, error)
		UpdateStudent(ctx context.Context, s Student) (Student, error)
		// DeleteStudent also deletes the student's results, progress, referrals, sessions and home visits.
		DeleteStudent(ctx context.Context, id string) error
		FilterStudents(ctx context.Context, filter QueryFilter) ([]Student, error)
		ListReferredTo(ctx context.Context, userID string) ([]Student, error)

		CreateResult(ctx context.Context, r Result) (Result, error)
		GetResult(ctx context.Context, id string) (Result, error)
		GetResultByRound(ctx context.Context, studentID string, academicYear, round int) (Result, error)
		// ListResults returns the student's results, latest first.
		ListResults(ctx context.Context, studentID string) ([]Result, error)
		UpdateResult(ctx context.Context, r Result) (Result, error)
		// SeedProgress creates the activity progress rows of a result: the first
		// activity of the plan in progress, the others locked.
		SeedProgress(ctx context.Context, studentID, resultID string, plan []int, at time.Time) error

		CreateReferral(ctx context.Context, r Referral) (Referral, error)
		GetActiveReferral(ctx context.Context, studentID string) (Referral, error)
		RevokeReferral(ctx context.Context, id string, at time.Time) error

		GetSchoolByID(ctx context.Context, id string) (school.School, error)
		ListClasses(ctx context.Context, schoolID string) ([]school.Class, error)
		GetUserByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// rowErrorMessage flattens validation errors of an import row.
func rowErrorMessage(err error) string {
	fldErrs := core.FieldErrors(err)
	if len(fldErrs) == 0 {
		return fmt.Sprintf(errRowInvalidMessage, err.Error())
	}
	msgs := make([]string, 0, len(fldErrs))
	for fld, msg := range fldErrs {
		msgs = append(msgs, fld+": "+msg)
	}
	sort.Strings(msgs)
	return fmt.Sprintf(errRowInvalidMessage, strings.Join(msgs, ", "))
}

// Import upserts the students of a PHQ-9 batch, records their results and
// seeds the activity progress of each result. Invalid rows are reported and
// skipped; the valid ones commit together.
func (svc *Service) Import(ctx context.Context, actor access.Actor, schoolID string, batch ImportBatch) (ImportSummary, error) {
	if err := access.CheckSchoolMember(actor, schoolID); err != nil {
		return ImportSummary{}, err
	}
	if _, ok := actor.(access.ClassTeacher); !ok && !access.CanManageSchool(actor, schoolID) {
		return ImportSummary{}, core.NewAuthorizationError(core.ReasonForbidden)
	}
	if err := core.Validate.Struct(batch); err != nil {
		return ImportSummary{}, err
	}
	if _, err := svc.repo.GetSchoolByID(ctx, schoolID); err != nil {
		return ImportSummary{}, err
	}

	classes, err := svc.repo.ListClasses(ctx, schoolID)
	if err != nil {
		return ImportSummary{}, err
	}
	known := make(map[string]bool, len(classes))
	for _, cls := range classes {
		known[cls.Name] = true
	}

	summary := ImportSummary{ByRisk: make(map[RiskLevel]int), Errors: []RowError{}}
	rowErr := func(i int, code, msg string) {
		summary.Errors = append(summary.Errors, RowError{Row: i + 1, StudentCode: code, Message: msg})
	}

	// row checks that do not need the database
	valid := make([]int, 0, len(batch.Rows))
	seen := make(map[string]bool, len(batch.Rows))
	for i := range batch.Rows {
		row := &batch.Rows[i]
		if err := row.Validate(); err != nil {
			rowErr(i, row.StudentCode, rowErrorMessage(err))
			continue
		}
		if !known[row.Class] {
			rowErr(i, row.StudentCode, fmt.Sprintf(errRowUnknownClass, row.Class))
			continue
		}
		if seen[row.StudentCode] {
			rowErr(i, row.StudentCode, errDuplicateCode.Error())
			continue
		}
		seen[row.StudentCode] = true
		valid = append(valid, i)
	}

	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		counts := ImportSummary{ByRisk: make(map[RiskLevel]int)}
		var txErrs []RowError
		now := time.Now().UTC()

		for _, i := range valid {
			row := batch.Rows[i]
			existing, err := repo.GetStudentByCode(ctx, schoolID, row.StudentCode)
			if err != nil && !core.IsNotFound(err) {
				return err
			}
			isNew := err != nil

			// a class teacher only imports students they can access
			subject := access.Subject{SchoolID: schoolID, Class: row.Class}
			if !isNew {
				subject = existing.Subject()
			}
			if !access.CanAccessStudent(actor, subject).Allowed {
				txErrs = append(txErrs, RowError{Row: i + 1, StudentCode: row.StudentCode, Message: errRowNotYourClass.Error()})
				continue
			}

			var s Student
			if isNew {
				s, err = repo.CreateStudent(ctx, Student{
					ID:          uuid.NewString(),
					SchoolID:    schoolID,
					StudentCode: row.StudentCode,
					Prefix:      row.Prefix,
					FirstName:   row.FirstName,
					LastName:    row.LastName,
					Class:       row.Class,
					CreatedAt:   now,
					UpdatedAt:   now,
				})
				if err != nil {
					return err
				}
			} else {
				if _, err := repo.GetResultByRound(ctx, existing.ID, batch.AcademicYear, batch.Round); err == nil {
					txErrs = append(txErrs, RowError{Row: i + 1, StudentCode: row.StudentCode, Message: errResultExists.Error()})
					continue
				} else if !core.IsNotFound(err) {
					return err
				}
				existing.Prefix = row.Prefix
				existing.FirstName = row.FirstName
				existing.LastName = row.LastName
				existing.Class = row.Class
				existing.UpdatedAt = now
				if s, err = repo.UpdateStudent(ctx, existing); err != nil {
					return err
				}
			}

			res := Result{
				ID:           uuid.NewString(),
				StudentID:    s.ID,
				AcademicYear: batch.AcademicYear,
				Round:        batch.Round,
				Scores:       row.Scores,
				ImportedAt:   now,
				UpdatedAt:    now,
			}
			res.score()
			if res, err = repo.CreateResult(ctx, res); err != nil {
				return err
			}
			if err := repo.SeedProgress(ctx, s.ID, res.ID, ActivityPlan(res.RiskLevel), now); err != nil {
				return err
			}

			counts.Imported++
			if isNew {
				counts.Created++
			} else {
				counts.Updated++
			}
			counts.ByRisk[res.RiskLevel]++
		}

		summary.Imported, summary.Created, summary.Updated, summary.ByRisk = counts.Imported, counts.Created, counts.Updated, counts.ByRisk
		summary.Errors = append(summary.Errors, txErrs...)
		return nil
	})
	if err != nil {
		return ImportSummary{}, err
	}
	sort.SliceStable(summary.Errors, func(i, j int) bool { return summary.Errors[i].Row < summary.Errors[j].Row })
	return summary, nil
}

// Get returns a student the actor may access.
func (svc *Service) Get(ctx context.Context, actor access.Actor, id string) (Student, error) {
	s, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if err := access.CheckStudent(actor, s.Subject()); err != nil {
		return Student{}, err
	}
	return s, nil
}

// Query lists the students the actor may access.
func (svc *Service) Query(ctx context.Context, actor access.Actor, filter QueryFilter) ([]Student, error) {
	if actor == nil {
		return nil, core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	filter.Clean()
	if !access.IsSystemAdmin(actor) {
		filter.SchoolID = access.SchoolOf(actor)
		if filter.SchoolID == "" {
			return []Student{}, nil
		}
	}
	students, err := svc.repo.FilterStudents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return access.Filter(actor, students, Student.Subject), nil
}

// ReferredToMe lists the students currently referred to the actor.
func (svc *Service) ReferredToMe(ctx context.Context, actor access.Actor) ([]Student, error) {
	if actor == nil {
		return nil, core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	students, err := svc.repo.ListReferredTo(ctx, actor.ID())
	if err != nil {
		return nil, err
	}
	return access.Filter(actor, students, Student.Subject), nil
}

// Update edits a student's identity or class. School admins only.
func (svc *Service) Update(ctx context.Context, actor access.Actor, id string, us UpdateStudent) (Student, error) {
	s, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if err := access.CheckManageSchool(actor, s.SchoolID); err != nil {
		return Student{}, err
	}
	if err := us.Validate(); err != nil {
		return Student{}, err
	}
	if us.Class != "" && us.Class != s.Class {
		classes, err := svc.repo.ListClasses(ctx, s.SchoolID)
		if err != nil {
			return Student{}, err
		}
		found := false
		for _, cls := range classes {
			if cls.Name == us.Class {
				found = true
				break
			}
		}
		if !found {
			return Student{}, ErrUnknownClass
		}
		s.Class = us.Class
	}
	if us.Prefix != "" {
		s.Prefix = us.Prefix
	}
	if us.FirstName != "" {
		s.FirstName = us.FirstName
	}
	if us.LastName != "" {
		s.LastName = us.LastName
	}
	s.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateStudent(ctx, s)
}

func (svc *Service) Delete(ctx context.Context, actor access.Actor, id string) error {
	s, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if err := access.CheckManageSchool(actor, s.SchoolID); err != nil {
		return err
	}
	return svc.repo.DeleteStudent(ctx, id)
}

func (svc *Service) Results(ctx context.Context, actor access.Actor, studentID string) ([]Result, error) {
	if _, err := svc.Get(ctx, actor, studentID); err != nil {
		return nil, err
	}
	return svc.repo.ListResults(ctx, studentID)
}

// UpdateResult corrects the scores of a result and recomputes its total and risk level.
// Activity progress already seeded for the result is left as is.
func (svc *Service) UpdateResult(ctx context.Context, actor access.Actor, resultID string, scores Scores) (Result, error) {
	res, err := svc.repo.GetResult(ctx, resultID)
	if err != nil {
		return Result{}, err
	}
	s, err := svc.repo.GetStudent(ctx, res.StudentID)
	if err != nil {
		return Result{}, err
	}
	if err := access.CheckManageSchool(actor, s.SchoolID); err != nil {
		return Result{}, err
	}
	if err := core.Validate.Struct(scores); err != nil {
		return Result{}, err
	}

	res.Scores = scores
	res.score()
	res.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateResult(ctx, res)
}

// Refer hands a student over to another class teacher of the school.
// A student has at most one active referral.
func (svc *Service) Refer(ctx context.Context, actor access.Actor, studentID string, nr NewReferral) (Referral, error) {
	s, err := svc.Get(ctx, actor, studentID)
	if err != nil {
		return Referral{}, err
	}
	if err := nr.Validate(); err != nil {
		return Referral{}, err
	}
	if nr.ToUserID == actor.ID() {
		return Referral{}, ErrInvalidReferee
	}
	to, err := svc.repo.GetUserByID(ctx, nr.ToUserID)
	if err != nil {
		if core.IsNotFound(err) {
			return Referral{}, ErrInvalidReferee
		}
		return Referral{}, err
	}
	if !to.IsClassTeacher() || to.SchoolID != s.SchoolID || !to.IsActive {
		return Referral{}, ErrInvalidReferee
	}

	var ref Referral
	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		if _, err := repo.GetActiveReferral(ctx, studentID); err == nil {
			return ErrAlreadyReferred
		} else if !core.IsNotFound(err) {
			return err
		}
		var err error
		ref, err = repo.CreateReferral(ctx, Referral{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			FromUserID: actor.ID(),
			ToUserID:   to.ID,
			Reason:     nr.Reason,
			CreatedAt:  time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Referral{}, err
	}
	return ref, nil
}

// RevokeReferral ends the active referral of a student. The referring and the
// referred teacher may revoke it, as may the admins of the school.
func (svc *Service) RevokeReferral(ctx context.Context, actor access.Actor, studentID string) error {
	if actor == nil {
		return core.NewAuthorizationError(core.ReasonNotAuthenticated)
	}
	s, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if err := access.CheckSchoolMember(actor, s.SchoolID); err != nil {
		return err
	}
	ref, err := svc.repo.GetActiveReferral(ctx, studentID)
	if err != nil {
		return err
	}
	if actor.ID() != ref.FromUserID && actor.ID() != ref.ToUserID && !access.CanManageSchool(actor, s.SchoolID) {
		return core.NewAuthorizationError(core.ReasonForbidden)
	}
	return svc.repo.RevokeReferral(ctx, ref.ID, time.Now().UTC())
}
