package activity_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/services/filestore"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

type fixture struct {
	db      *inmemdb.DB
	fs      afero.Fs
	repo    activity.Repository
	svc     *activity.Service
	teacher access.Actor
	other   access.Actor
	rows    map[int]activity.Progress // by activity number
}

// setup creates a yellow-risk student of ม.1/1: activities 1, 2, 3 and 5.
func setup(t *testing.T, wrap ...func(activity.Repository) activity.Repository) fixture {
	t.Helper()
	db := inmemdb.Open()
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1", "ม.1/2")
	tch := testutil.CreateTeacher(t, db, "t1@school.test", sch.ID, "ม.1/1", false)
	other := testutil.CreateTeacher(t, db, "t2@school.test", sch.ID, "ม.1/2", false)
	st := testutil.CreateStudent(t, db, sch.ID, "001", "ม.1/1")
	res := testutil.CreateResult(t, db, st.ID, testutil.Scores(12))

	repo := inmemdb.NewActivityRepository(db)
	rows, err := repo.ListProgress(context.Background(), res.ID)
	require.NoError(t, err)
	byNumber := make(map[int]activity.Progress, len(rows))
	for _, p := range rows {
		byNumber[p.ActivityNumber] = p
	}

	svcRepo := repo
	for _, w := range wrap {
		svcRepo = w(svcRepo)
	}
	mem := afero.NewMemMapFs()
	files := filesvc.NewDisk(mem, "", "http://files.test")
	return fixture{
		db:      db,
		fs:      mem,
		repo:    repo,
		svc:     activity.NewService(svcRepo, files, testutil.Config()),
		teacher: testutil.Actor(t, tch, "ม.1/1"),
		other:   testutil.Actor(t, other, "ม.1/2"),
		rows:    byNumber,
	}
}

func worksheet(name string) activity.File {
	content := "%PDF-1.4 " + name
	return activity.File{Name: name, ContentType: "application/pdf", Size: int64(len(content)), Content: strings.NewReader(content)}
}

func (f fixture) status(t *testing.T, number int) activity.Status {
	t.Helper()
	p, err := f.repo.GetProgress(context.Background(), f.rows[number].ID)
	require.NoError(t, err)
	return p.Status
}

func TestActivityFlow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	first, second := f.rows[1].ID, f.rows[2].ID

	// activity 2 is locked until activity 1 completes
	_, err := f.svc.UploadWorksheet(ctx, f.teacher, second, worksheet("a.pdf"))
	assert.Equal(t, activity.ErrLocked, err)
	assert.True(t, core.IsState(err))

	res, err := f.svc.UploadWorksheet(ctx, f.teacher, first, worksheet("a.pdf"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a.pdf", res.FileName)
	assert.True(t, strings.HasPrefix(res.FileURL, "http://files.test/worksheets/"+first+"/"))
	assert.Equal(t, activity.StatusInProgress, res.Progress.Status)
	assert.Equal(t, f.teacher.ID(), res.Progress.TeacherID)

	_, err = f.svc.SubmitTeacherAssessment(ctx, f.teacher, first, activity.Assessment{ProblemType: "ครอบครัว"})
	assert.Equal(t, activity.ErrAssessInProgress, err)

	res, err = f.svc.UploadWorksheet(ctx, f.teacher, first, worksheet("b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, activity.StatusPendingAssessment, res.Progress.Status)
	assert.Len(t, res.Progress.Uploads, 2)
	assert.Equal(t, activity.StatusLocked, f.status(t, 2), "assessment still pending")

	p, err := f.svc.SubmitTeacherAssessment(ctx, f.teacher, first, activity.Assessment{
		InternalProblems: "เครียด", ExternalProblems: "", ProblemType: "ครอบครัว",
	})
	require.NoError(t, err)
	assert.Equal(t, activity.StatusCompleted, p.Status)
	assert.NotNil(t, p.AssessedAt)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, activity.StatusInProgress, f.status(t, 2))

	_, err = f.svc.SubmitTeacherAssessment(ctx, f.teacher, first, activity.Assessment{ProblemType: "ครอบครัว"})
	assert.Equal(t, activity.ErrAssessCompleted, err)
	_, err = f.svc.UploadWorksheet(ctx, f.teacher, first, worksheet("c.pdf"))
	assert.Equal(t, activity.ErrCompleted, err)

	// activity 2 completes on its second worksheet and unlocks 3
	for _, name := range []string{"a.png", "b.png"} {
		_, err = f.svc.UploadWorksheet(ctx, f.teacher, second, activity.File{
			Name: name, ContentType: "image/png", Size: 3, Content: strings.NewReader("png"),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, activity.StatusCompleted, f.status(t, 2))
	assert.Equal(t, activity.StatusInProgress, f.status(t, 3))
	assert.Equal(t, activity.StatusLocked, f.status(t, 5))

	rows, err := f.svc.ForStudent(ctx, f.teacher, f.rows[1].StudentID)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestAssessment_StatusGuard(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := activity.Assessment{ProblemType: "การเรียน"}

	// activity 1 starts in progress, activity 2 locked
	_, err := f.svc.SubmitTeacherAssessment(ctx, f.teacher, f.rows[1].ID, a)
	assert.Equal(t, activity.ErrAssessInProgress, err)
	_, err = f.svc.SubmitTeacherAssessment(ctx, f.teacher, f.rows[2].ID, a)
	assert.Equal(t, activity.ErrAssessNotRequired, err)

	_, err = f.svc.SubmitTeacherAssessment(ctx, f.teacher, f.rows[1].ID, activity.Assessment{})
	assert.Error(t, err, "problem type is required")
	assert.Equal(t, activity.StatusInProgress, f.status(t, 1))
}

func TestUploadWorksheet_Checks(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	first := f.rows[1].ID

	_, err := f.svc.UploadWorksheet(ctx, f.teacher, first, activity.File{Name: "a.exe", ContentType: "application/octet-stream", Size: 1, Content: strings.NewReader("x")})
	assert.Equal(t, activity.ErrFileType, err)
	_, err = f.svc.UploadWorksheet(ctx, f.teacher, first, activity.File{Name: "a.pdf", ContentType: "application/pdf"})
	assert.Equal(t, activity.ErrFileEmpty, err)
	_, err = f.svc.UploadWorksheet(ctx, f.teacher, first, activity.File{Name: "a.pdf", ContentType: "application/pdf", Size: 6 * 1024 * 1024, Content: strings.NewReader("x")})
	assert.Equal(t, activity.ErrFileTooLarge, err)

	_, err = f.svc.UploadWorksheet(ctx, f.other, first, worksheet("a.pdf"))
	assert.True(t, core.IsAuthorization(err))

	_, err = f.svc.UploadWorksheet(ctx, f.teacher, "nope", worksheet("a.pdf"))
	assert.True(t, core.IsNotFound(err))
}

func TestUploadWorksheet_RemovesFileOnFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(repo activity.Repository) activity.Repository { return failingUploadRepo{repo} })

	_, err := f.svc.UploadWorksheet(ctx, f.teacher, f.rows[1].ID, worksheet("a.pdf"))
	require.Error(t, err)

	entries, err := afero.ReadDir(f.fs, "worksheets/"+f.rows[1].ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, activity.StatusInProgress, f.status(t, 1))
}

type failingUploadRepo struct {
	activity.Repository
}

func (repo failingUploadRepo) RunInTx(ctx context.Context, fn func(repo activity.Repository) error) error {
	return repo.Repository.RunInTx(ctx, func(tx activity.Repository) error { return fn(failingUploadRepo{tx}) })
}

func (failingUploadRepo) CreateUpload(context.Context, activity.Upload) (activity.Upload, error) {
	return activity.Upload{}, assert.AnError
}

func TestScheduleAndNotes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	when := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	_, err := f.svc.Schedule(ctx, f.teacher, f.rows[2].ID, activity.Schedule{Date: when})
	assert.Equal(t, activity.ErrLocked, err)

	p, err := f.svc.Schedule(ctx, f.teacher, f.rows[1].ID, activity.Schedule{Date: when})
	require.NoError(t, err)
	require.NotNil(t, p.ScheduledDate)
	assert.True(t, when.Equal(*p.ScheduledDate))

	p, err = f.svc.UpdateNotes(ctx, f.teacher, f.rows[1].ID, activity.Notes{Notes: "  พูดคุยกับผู้ปกครองแล้ว "})
	require.NoError(t, err)
	assert.Equal(t, "พูดคุยกับผู้ปกครองแล้ว", p.TeacherNotes)

	_, err = f.svc.UpdateNotes(ctx, f.other, f.rows[1].ID, activity.Notes{Notes: "x"})
	assert.True(t, core.IsAuthorization(err))
}
