package counseling

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"path"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/student"
)

const (
	// photos are resized to fit this box
	maxPhotoSide = 1600
	// MaxPhotoPixels bounds the decoded size of an uploaded photo.
	MaxPhotoPixels = 40_000_000
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("บันทึกการให้คำปรึกษา")
	ErrVisitNotFound = core.NewNotFoundError("บันทึกการเยี่ยมบ้าน")
	ErrTooManyPhotos = core.NewValidationError(errors.New("แนบรูปได้สูงสุด 5 รูปต่อการเยี่ยมบ้าน"))
	ErrNotAnImage    = core.NewValidationError(errors.New("ไฟล์ไม่ใช่รูปภาพ"), core.FieldError{Field: "file", Error: "ไฟล์ไม่ใช่รูปภาพ"})
	ErrPhotoTooLarge = core.NewValidationError(errors.New("ไฟล์มีขนาดใหญ่เกินไป"), core.FieldError{Field: "file", Error: "ไฟล์มีขนาดใหญ่เกินไป"})
	ErrPhotoTooWide  = core.NewValidationError(errors.New("รูปภาพมีความละเอียดสูงเกินไป"), core.FieldError{Field: "file", Error: "รูปภาพมีความละเอียดสูงเกินไป"})
)

type (
	Repository interface {
		RunInTx(ctx context.Context, fn func(repo Repository) error) error

		GetStudent(ctx context.Context, id string) (student.Student, error)
		// LockStudent locks the student row until the end of the transaction,
		// serializing the numbering of their sessions and visits.
		LockStudent(ctx context.Context, id string) error

		MaxSessionNumber(ctx context.Context, studentID string) (int, error)
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		UpdateSession(ctx context.Context, s Session) (Session, error)
		ListSessions(ctx context.Context, studentID string) ([]Session, error)

		MaxVisitNumber(ctx context.Context, studentID string) (int, error)
		CreateHomeVisit(ctx context.Context, v HomeVisit) (HomeVisit, error)
		// GetHomeVisit loads the visit with its photos.
		GetHomeVisit(ctx context.Context, id string) (HomeVisit, error)
		ListHomeVisits(ctx context.Context, studentID string) ([]HomeVisit, error)
		CountPhotos(ctx context.Context, visitID string) (int, error)
		CreatePhoto(ctx context.Context, p Photo) (Photo, error)
	}

	Service struct {
		repo  Repository
		files core.FileStore
		conf  *core.Config
	}
)

func NewService(repo Repository, files core.FileStore, conf *core.Config) *Service {
	return &Service{repo: repo, files: files, conf: conf}
}

func (svc *Service) checkStudent(ctx context.Context, actor access.Actor, studentID string) error {
	s, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	return access.CheckStudent(actor, s.Subject())
}

// CreateSession records a counseling session numbered after the student's
// last one. Numbering is serialized per student, so concurrent creations get
// distinct, gapless numbers.
func (svc *Service) CreateSession(ctx context.Context, actor access.Actor, studentID string, ns NewSession) (Session, error) {
	if err := svc.checkStudent(ctx, actor, studentID); err != nil {
		return Session{}, err
	}
	if err := ns.Validate(); err != nil {
		return Session{}, err
	}

	var sess Session
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		if err := repo.LockStudent(ctx, studentID); err != nil {
			return err
		}
		n, err := repo.MaxSessionNumber(ctx, studentID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		sess, err = repo.CreateSession(ctx, Session{
			ID:            uuid.NewString(),
			StudentID:     studentID,
			SessionNumber: n + 1,
			SessionDate:   ns.SessionDate.UTC(),
			CounselorID:   actor.ID(),
			Topic:         ns.Topic,
			Notes:         ns.Notes,
			Outcome:       ns.Outcome,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (svc *Service) Sessions(ctx context.Context, actor access.Actor, studentID string) ([]Session, error) {
	if err := svc.checkStudent(ctx, actor, studentID); err != nil {
		return nil, err
	}
	return svc.repo.ListSessions(ctx, studentID)
}

func (svc *Service) UpdateSession(ctx context.Context, actor access.Actor, id string, us UpdateSession) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if err := svc.checkStudent(ctx, actor, sess.StudentID); err != nil {
		return Session{}, err
	}
	if err := us.Validate(); err != nil {
		return Session{}, err
	}
	sess = us.apply(sess)
	sess.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSession(ctx, sess)
}

// CreateHomeVisit records a home visit, numbered like sessions.
func (svc *Service) CreateHomeVisit(ctx context.Context, actor access.Actor, studentID string, nv NewHomeVisit) (HomeVisit, error) {
	if err := svc.checkStudent(ctx, actor, studentID); err != nil {
		return HomeVisit{}, err
	}
	if err := nv.Validate(); err != nil {
		return HomeVisit{}, err
	}

	var visit HomeVisit
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		if err := repo.LockStudent(ctx, studentID); err != nil {
			return err
		}
		n, err := repo.MaxVisitNumber(ctx, studentID)
		if err != nil {
			return err
		}
		visit, err = repo.CreateHomeVisit(ctx, HomeVisit{
			ID:          uuid.NewString(),
			StudentID:   studentID,
			VisitNumber: n + 1,
			VisitDate:   nv.VisitDate.UTC(),
			TeacherID:   actor.ID(),
			Notes:       nv.Notes,
			CreatedAt:   time.Now().UTC(),
			Photos:      []Photo{},
		})
		return err
	})
	if err != nil {
		return HomeVisit{}, err
	}
	return visit, nil
}

func (svc *Service) HomeVisits(ctx context.Context, actor access.Actor, studentID string) ([]HomeVisit, error) {
	if err := svc.checkStudent(ctx, actor, studentID); err != nil {
		return nil, err
	}
	return svc.repo.ListHomeVisits(ctx, studentID)
}

// GetHomeVisit returns a visit with its photos.
func (svc *Service) GetHomeVisit(ctx context.Context, actor access.Actor, id string) (HomeVisit, error) {
	visit, err := svc.repo.GetHomeVisit(ctx, id)
	if err != nil {
		return HomeVisit{}, err
	}
	if err := svc.checkStudent(ctx, actor, visit.StudentID); err != nil {
		return HomeVisit{}, err
	}
	return visit, nil
}

// encodePhoto decodes an uploaded image, fits it in the max photo box and re-encodes it as JPEG.
// The header is checked first: images over MaxPhotoPixels are never decoded.
func encodePhoto(r io.Reader) (*bytes.Buffer, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, ErrNotAnImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrNotAnImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPhotoPixels {
		return nil, ErrPhotoTooWide
	}

	img, err := imaging.Decode(io.MultiReader(&head, r), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotAnImage
	}
	b := img.Bounds()
	if b.Dx() > maxPhotoSide || b.Dy() > maxPhotoSide {
		img = imaging.Fit(img, maxPhotoSide, maxPhotoSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return nil, errors.Wrap(err, "encoding photo")
	}
	return &buf, nil
}

// AddHomeVisitPhoto attaches a photo to a visit; a visit holds at most MaxPhotosPerVisit photos.
func (svc *Service) AddHomeVisitPhoto(ctx context.Context, actor access.Actor, visitID string, name string, size int64, r io.Reader) (Photo, error) {
	visit, err := svc.repo.GetHomeVisit(ctx, visitID)
	if err != nil {
		return Photo{}, err
	}
	if err := svc.checkStudent(ctx, actor, visit.StudentID); err != nil {
		return Photo{}, err
	}
	if len(visit.Photos) >= MaxPhotosPerVisit {
		return Photo{}, ErrTooManyPhotos
	}
	if max := svc.conf.Storage.MaxUploadSize; max > 0 && size > max {
		return Photo{}, ErrPhotoTooLarge
	}

	buf, err := encodePhoto(r)
	if err != nil {
		return Photo{}, err
	}
	stored, err := svc.files.Save(ctx, path.Join("home-visits", visit.ID), uuid.NewString()+".jpg", "image/jpeg", buf)
	if err != nil {
		return Photo{}, errors.Wrap(err, "saving photo")
	}

	var photo Photo
	err = svc.repo.RunInTx(ctx, func(repo Repository) error {
		if err := repo.LockStudent(ctx, visit.StudentID); err != nil {
			return err
		}
		n, err := repo.CountPhotos(ctx, visit.ID)
		if err != nil {
			return err
		}
		if n >= MaxPhotosPerVisit {
			return ErrTooManyPhotos
		}
		photo, err = repo.CreatePhoto(ctx, Photo{
			ID:         uuid.NewString(),
			VisitID:    visit.ID,
			FileName:   name,
			FileURL:    stored.URL,
			FileSize:   stored.Size,
			UploadedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		_ = svc.files.Delete(ctx, stored.Key)
		return Photo{}, err
	}
	return photo, nil
}
