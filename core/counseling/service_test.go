package counseling_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image/color"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/services/filestore"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

type fixture struct {
	fs      afero.Fs
	svc     *counseling.Service
	teacher access.Actor
	other   access.Actor
	student student.Student
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := inmemdb.Open()
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1", "ม.1/2")
	tch := testutil.CreateTeacher(t, db, "t1@school.test", sch.ID, "ม.1/1", false)
	other := testutil.CreateTeacher(t, db, "t2@school.test", sch.ID, "ม.1/2", false)
	mem := afero.NewMemMapFs()
	return fixture{
		fs:      mem,
		svc:     counseling.NewService(inmemdb.NewCounselingRepository(db), filesvc.NewDisk(mem, "", "http://files.test"), testutil.Config()),
		teacher: testutil.Actor(t, tch, "ม.1/1"),
		other:   testutil.Actor(t, other, "ม.1/2"),
		student: testutil.CreateStudent(t, db, sch.ID, "001", "ม.1/1"),
	}
}

func TestCreateSession_ConcurrentNumbering(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	const n = 20

	numbers := make([]int, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			sess, err := f.svc.CreateSession(ctx, f.teacher, f.student.ID, counseling.NewSession{
				SessionDate: time.Now(),
				Topic:       "ติดตามผล",
			})
			numbers[i] = sess.SessionNumber
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(numbers)
	for i, got := range numbers {
		assert.Equal(t, i+1, got)
	}

	sessions, err := f.svc.Sessions(ctx, f.teacher, f.student.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, n)
}

func TestSessions_Access(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.CreateSession(ctx, f.other, f.student.ID, counseling.NewSession{SessionDate: time.Now(), Topic: "x"})
	assert.True(t, core.IsAuthorization(err))
	_, err = f.svc.CreateSession(ctx, f.teacher, f.student.ID, counseling.NewSession{SessionDate: time.Now()})
	assert.Error(t, err, "topic is required")

	sess, err := f.svc.CreateSession(ctx, f.teacher, f.student.ID, counseling.NewSession{SessionDate: time.Now(), Topic: "ครั้งแรก"})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.SessionNumber)
	assert.Equal(t, f.teacher.ID(), sess.CounselorID)

	outcome := "ดีขึ้น"
	sess, err = f.svc.UpdateSession(ctx, f.teacher, sess.ID, counseling.UpdateSession{Outcome: &outcome})
	require.NoError(t, err)
	assert.Equal(t, "ดีขึ้น", sess.Outcome)
	assert.Equal(t, "ครั้งแรก", sess.Topic)

	_, err = f.svc.UpdateSession(ctx, f.other, sess.ID, counseling.UpdateSession{Outcome: &outcome})
	assert.True(t, core.IsAuthorization(err))
	_, err = f.svc.UpdateSession(ctx, f.teacher, "nope", counseling.UpdateSession{})
	assert.True(t, core.IsNotFound(err))
}

func photo(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255}), imaging.PNG))
	return &buf
}

func TestHomeVisits(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := f.svc.CreateHomeVisit(ctx, f.teacher, f.student.ID, counseling.NewHomeVisit{VisitDate: time.Now(), Notes: "บ้านพัก"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	visits, err := f.svc.HomeVisits(ctx, f.teacher, f.student.ID)
	require.NoError(t, err)
	require.Len(t, visits, 5)
	seen := make(map[int]bool)
	for _, v := range visits {
		seen[v.VisitNumber] = true
	}
	assert.Len(t, seen, 5)
	for i := 1; i <= 5; i++ {
		assert.True(t, seen[i])
	}
}

func TestAddHomeVisitPhoto(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	visit, err := f.svc.CreateHomeVisit(ctx, f.teacher, f.student.ID, counseling.NewHomeVisit{VisitDate: time.Now()})
	require.NoError(t, err)

	// large photos are fit in the max box and stored as JPEG
	img := photo(t, 3200, 1600)
	p, err := f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "front.png", int64(img.Len()), img)
	require.NoError(t, err)
	assert.Equal(t, "front.png", p.FileName)
	assert.True(t, strings.HasSuffix(p.FileURL, ".jpg"))

	key := strings.TrimPrefix(p.FileURL, "http://files.test/")
	file, err := f.fs.Open(key)
	require.NoError(t, err)
	defer file.Close()
	stored, err := imaging.Decode(file)
	require.NoError(t, err)
	assert.Equal(t, 1600, stored.Bounds().Dx())
	assert.Equal(t, 800, stored.Bounds().Dy())

	_, err = f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "notes.txt", 5, strings.NewReader("hello"))
	assert.Equal(t, counseling.ErrNotAnImage, err)
	_, err = f.svc.AddHomeVisitPhoto(ctx, f.other, visit.ID, "x.png", 10, photo(t, 10, 10))
	assert.True(t, core.IsAuthorization(err))

	for i := 0; i < counseling.MaxPhotosPerVisit-1; i++ {
		img := photo(t, 20, 20)
		_, err := f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "p.png", int64(img.Len()), img)
		require.NoError(t, err)
	}
	img = photo(t, 20, 20)
	_, err = f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "p.png", int64(img.Len()), img)
	assert.Equal(t, counseling.ErrTooManyPhotos, err)

	visits, err := f.svc.HomeVisits(ctx, f.teacher, f.student.ID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Len(t, visits[0].Photos, counseling.MaxPhotosPerVisit)
}

// pngHeader returns a PNG holding only a header that declares w x h pixels.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.Write([]byte("\x89PNG\r\n\x1a\n"))

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk := append([]byte("IHDR"), ihdr...)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestAddHomeVisitPhoto_PixelBudget(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	visit, err := f.svc.CreateHomeVisit(ctx, f.teacher, f.student.ID, counseling.NewHomeVisit{VisitDate: time.Now()})
	require.NoError(t, err)

	huge := pngHeader(30000, 30000)
	_, err = f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "huge.png", int64(len(huge)), bytes.NewReader(huge))
	assert.Equal(t, counseling.ErrPhotoTooWide, err)

	// a header alone within the budget is still not an image
	small := pngHeader(10, 10)
	_, err = f.svc.AddHomeVisitPhoto(ctx, f.teacher, visit.ID, "small.png", int64(len(small)), bytes.NewReader(small))
	assert.Equal(t, counseling.ErrNotAnImage, err)

	got, err := f.svc.GetHomeVisit(ctx, f.teacher, visit.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Photos)
}

func TestGetHomeVisit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	visit, err := f.svc.CreateHomeVisit(ctx, f.teacher, f.student.ID, counseling.NewHomeVisit{VisitDate: time.Now()})
	require.NoError(t, err)

	got, err := f.svc.GetHomeVisit(ctx, f.teacher, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, visit.ID, got.ID)

	_, err = f.svc.GetHomeVisit(ctx, f.other, visit.ID)
	assert.True(t, core.IsAuthorization(err))
	_, err = f.svc.GetHomeVisit(ctx, f.teacher, "nope")
	assert.True(t, core.IsNotFound(err))
}
