package activity

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/student"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("กิจกรรม")
	ErrFileTooLarge    = core.NewValidationError(errors.New("ไฟล์มีขนาดใหญ่เกินไป"), core.FieldError{Field: "file", Error: "ไฟล์มีขนาดใหญ่เกินไป"})
	ErrFileType        = core.NewValidationError(errors.New("รองรับเฉพาะไฟล์รูปภาพหรือ PDF"), core.FieldError{Field: "file", Error: "รองรับเฉพาะไฟล์รูปภาพหรือ PDF"})
	ErrFileEmpty       = core.NewValidationError(errors.New("กรุณาเลือกไฟล์"), core.FieldError{Field: "file", Error: "กรุณาเลือกไฟล์"})
	allowedUploadTypes = []string{"image/", "application/pdf"}
)

type (
	Repository interface {
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		GetProgress(ctx context.Context, id string) (Progress, error)
		// LockProgress loads a progress row and locks it until the end of the transaction.
		LockProgress(ctx context.Context, id string) (Progress, error)
		ListProgress(ctx context.Context, resultID string) ([]Progress, error)
		// UpdateProgress returns the saved row with its uploads.
		UpdateProgress(ctx context.Context, p Progress) (Progress, error)
		CreateUpload(ctx context.Context, u Upload) (Upload, error)
		CountUploads(ctx context.Context, progressID string) (int, error)

		GetStudent(ctx context.Context, id string) (student.Student, error)
		ListResults(ctx context.Context, studentID string) ([]student.Result, error)
	}

	Service struct {
		repo  Repository
		files core.FileStore
		conf  *core.Config
	}

	// File is an uploaded worksheet, as received.
	File struct {
		Name        string
		ContentType string
		Size        int64
		Content     io.Reader
	}
)

func NewService(repo Repository, files core.FileStore, conf *core.Config) *Service {
	return &Service{repo: repo, files: files, conf: conf}
}

// progressOf loads a progress row the actor may access.
func (svc *Service) progressOf(ctx context.Context, actor access.Actor, id string) (Progress, error) {
	p, err := svc.repo.GetProgress(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	s, err := svc.repo.GetStudent(ctx, p.StudentID)
	if err != nil {
		return Progress{}, err
	}
	if err := access.CheckStudent(actor, s.Subject()); err != nil {
		return Progress{}, err
	}
	return p, nil
}

func (svc *Service) Get(ctx context.Context, actor access.Actor, id string) (Progress, error) {
	return svc.progressOf(ctx, actor, id)
}

// ForStudent returns the progress of the student's latest PHQ result.
func (svc *Service) ForStudent(ctx context.Context, actor access.Actor, studentID string) ([]Progress, error) {
	s, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if err := access.CheckStudent(actor, s.Subject()); err != nil {
		return nil, err
	}
	results, err := svc.repo.ListResults(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Progress{}, nil
	}
	return svc.repo.ListProgress(ctx, results[0].ID)
}

func (svc *Service) checkFile(f File) error {
	if f.Content == nil || f.Size <= 0 {
		return ErrFileEmpty
	}
	if max := svc.conf.Storage.MaxUploadSize; max > 0 && f.Size > max {
		return ErrFileTooLarge
	}
	for _, prefix := range allowedUploadTypes {
		if strings.HasPrefix(f.ContentType, prefix) {
			return nil
		}
	}
	return ErrFileType
}

// unlockNext unlocks the activity following `p` in the plan, if it is locked.
func unlockNext(ctx context.Context, repo Repository, p Progress, at time.Time) error {
	rows, err := repo.ListProgress(ctx, p.ResultID)
	if err != nil {
		return err
	}
	next, ok := NextToUnlock(rows, p.ActivityNumber)
	if !ok {
		return nil
	}
	next.Status = StatusInProgress
	next.UpdatedAt = at
	_, err = repo.UpdateProgress(ctx, next)
	return err
}

// UploadWorksheet stores a worksheet and records it on the activity. Reaching
// the required number of worksheets completes the activity, or makes it await
// its assessment for the first one. The stored file is removed if recording fails.
func (svc *Service) UploadWorksheet(ctx context.Context, actor access.Actor, progressID string, f File) (UploadResult, error) {
	p, err := svc.progressOf(ctx, actor, progressID)
	if err != nil {
		return UploadResult{}, err
	}
	if err := CheckUpload(p.Status); err != nil {
		return UploadResult{}, err
	}
	if err := svc.checkFile(f); err != nil {
		return UploadResult{}, err
	}

	name := uuid.NewString() + strings.ToLower(path.Ext(f.Name))
	stored, err := svc.files.Save(ctx, path.Join("worksheets", p.ID), name, f.ContentType, f.Content)
	if err != nil {
		return UploadResult{}, errors.Wrap(err, "saving worksheet")
	}

	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if p, err = repo.LockProgress(ctx, progressID); err != nil {
			return err
		}
		if err := CheckUpload(p.Status); err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = repo.CreateUpload(ctx, Upload{
			ID:         uuid.NewString(),
			ProgressID: p.ID,
			FileName:   f.Name,
			FileURL:    stored.URL,
			FileType:   f.ContentType,
			FileSize:   stored.Size,
			UploadedBy: actor.ID(),
			UploadedAt: now,
		})
		if err != nil {
			return err
		}
		n, err := repo.CountUploads(ctx, p.ID)
		if err != nil {
			return err
		}

		if p.TeacherID == "" {
			p.TeacherID = actor.ID()
		}
		switch next := AfterUpload(p.ActivityNumber, p.Status, n); next {
		case StatusCompleted:
			p.complete(now)
			if err := unlockNext(ctx, repo, p, now); err != nil {
				return err
			}
		default:
			p.Status = next
			p.UpdatedAt = now
		}
		p, err = repo.UpdateProgress(ctx, p)
		return err
	})
	if err != nil {
		_ = svc.files.Delete(ctx, stored.Key)
		return UploadResult{}, err
	}
	return UploadResult{Success: true, FileURL: stored.URL, FileName: f.Name, Progress: p}, nil
}

// SubmitTeacherAssessment records the assessment of an activity awaiting it,
// completes it and unlocks the next activity.
func (svc *Service) SubmitTeacherAssessment(ctx context.Context, actor access.Actor, progressID string, a Assessment) (Progress, error) {
	if _, err := svc.progressOf(ctx, actor, progressID); err != nil {
		return Progress{}, err
	}
	if err := a.Validate(); err != nil {
		return Progress{}, err
	}

	var p Progress
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if p, err = repo.LockProgress(ctx, progressID); err != nil {
			return err
		}
		if err := CheckAssessment(p.ActivityNumber, p.Status); err != nil {
			return err
		}

		now := time.Now().UTC()
		p.InternalProblems = a.InternalProblems
		p.ExternalProblems = a.ExternalProblems
		p.ProblemType = a.ProblemType
		p.AssessedAt = &now
		if p.TeacherID == "" {
			p.TeacherID = actor.ID()
		}
		p.complete(now)
		if p, err = repo.UpdateProgress(ctx, p); err != nil {
			return err
		}
		return unlockNext(ctx, repo, p, now)
	})
	if err != nil {
		return Progress{}, err
	}
	return p, nil
}

// update applies `fn` to an unlocked activity.
func (svc *Service) update(ctx context.Context, actor access.Actor, progressID string, fn func(p *Progress)) (Progress, error) {
	if _, err := svc.progressOf(ctx, actor, progressID); err != nil {
		return Progress{}, err
	}
	var p Progress
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if p, err = repo.LockProgress(ctx, progressID); err != nil {
			return err
		}
		if p.Status == StatusLocked {
			return ErrLocked
		}
		fn(&p)
		p.UpdatedAt = time.Now().UTC()
		p, err = repo.UpdateProgress(ctx, p)
		return err
	})
	if err != nil {
		return Progress{}, err
	}
	return p, nil
}

func (svc *Service) Schedule(ctx context.Context, actor access.Actor, progressID string, s Schedule) (Progress, error) {
	if err := core.Validate.Struct(s); err != nil {
		return Progress{}, err
	}
	date := s.Date.UTC()
	return svc.update(ctx, actor, progressID, func(p *Progress) { p.ScheduledDate = &date })
}

func (svc *Service) UpdateNotes(ctx context.Context, actor access.Actor, progressID string, n Notes) (Progress, error) {
	if err := core.Validate.Struct(n); err != nil {
		return Progress{}, err
	}
	notes := core.CleanString(n.Notes)
	return svc.update(ctx, actor, progressID, func(p *Progress) { p.TeacherNotes = notes })
}
