package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/storage/cache"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

type fixture struct {
	db      *inmemdb.DB
	sch     school.School
	sys     access.Actor
	admin   access.Actor
	teacher access.Actor // ม.1/1
}

// setup seeds a school with two screened students in ม.1/1 (yellow, blue),
// one red student in ม.1/2 with a counseling session and one unscreened student.
func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db := inmemdb.Open()
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1", "ม.1/2")

	s1 := testutil.CreateStudent(t, db, sch.ID, "001", "ม.1/1")
	testutil.CreateResult(t, db, s1.ID, testutil.Scores(12))
	s2 := testutil.CreateStudent(t, db, sch.ID, "002", "ม.1/1")
	testutil.CreateResult(t, db, s2.ID, testutil.Scores(2))
	s3 := testutil.CreateStudent(t, db, sch.ID, "003", "ม.1/2")
	testutil.CreateResult(t, db, s3.ID, testutil.Scores(22))
	testutil.CreateStudent(t, db, sch.ID, "004", "ม.1/2")

	now := time.Now().UTC()
	_, err := inmemdb.NewCounselingRepository(db).CreateSession(ctx, counseling.Session{
		ID: uuid.NewString(), StudentID: s3.ID, SessionNumber: 1, SessionDate: now, Topic: "x", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	return fixture{
		db:      db,
		sch:     sch,
		sys:     testutil.Actor(t, testutil.CreateUser(t, db, "sys@school.test", core.RoleSystemAdmin, "", false), ""),
		admin:   testutil.Actor(t, testutil.CreateTeacher(t, db, "admin@school.test", sch.ID, core.AllClasses, true), core.AllClasses),
		teacher: testutil.Actor(t, testutil.CreateTeacher(t, db, "t1@school.test", sch.ID, "ม.1/1", false), "ม.1/1"),
	}
}

func newService(f fixture, c analytics.Cache, log core.Logger) *analytics.Service {
	return analytics.NewService(inmemdb.NewAnalyticsRepository(f.db), c, testutil.Config(), log)
}

func TestSchoolDashboard(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	svc := newService(f, nil, &testutil.Logger{})

	dash, err := svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Empty(t, dash.Class)
	assert.Equal(t, 4, dash.StudentCount)
	assert.Equal(t, 3, dash.ScreenedCount)
	assert.Equal(t, analytics.RiskCounts{
		student.RiskBlue: 1, student.RiskGreen: 0, student.RiskYellow: 1, student.RiskOrange: 0, student.RiskRed: 1,
	}, dash.RiskCounts)
	assert.Equal(t, 1, dash.ClassRisk["ม.1/1"][student.RiskYellow])
	assert.Equal(t, 1, dash.ClassRisk["ม.1/2"][student.RiskRed])
	// yellow: 1 open + 3 locked, red: 1 open + 4 locked
	assert.Equal(t, 2, dash.ActivityCounts[activity.StatusInProgress])
	assert.Equal(t, 7, dash.ActivityCounts[activity.StatusLocked])
	assert.Equal(t, 0, dash.ActivityCounts[activity.StatusCompleted])
	assert.Equal(t, 1, dash.SessionCount)

	// class teachers see their class only
	dash, err = svc.SchoolDashboard(ctx, f.teacher, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, "ม.1/1", dash.Class)
	assert.Equal(t, 2, dash.StudentCount)
	assert.Equal(t, 0, dash.SessionCount)
	assert.NotContains(t, dash.ClassRisk, "ม.1/2")

	other := testutil.CreateSchool(t, f.db, "B")
	_, err = svc.SchoolDashboard(ctx, f.admin, other.ID)
	assert.True(t, core.IsAuthorization(err))
	_, err = svc.SchoolDashboard(ctx, f.sys, "nope")
	assert.True(t, core.IsNotFound(err))
}

func TestSchoolDashboard_Referrals(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	svc := newService(f, nil, &testutil.Logger{})
	students := inmemdb.NewStudentRepository(f.db)
	other := testutil.CreateTeacher(t, f.db, "t2@school.test", f.sch.ID, "ม.1/2", false)

	refer := func(code, from, to string) {
		t.Helper()
		st, err := students.GetStudentByCode(ctx, f.sch.ID, code)
		require.NoError(t, err)
		_, err = students.CreateReferral(ctx, student.Referral{
			ID: uuid.NewString(), StudentID: st.ID, FromUserID: from, ToUserID: to, CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	refer("001", f.teacher.ID(), other.ID) // yellow, ม.1/1
	refer("003", other.ID, f.teacher.ID()) // red with a session, ม.1/2

	// the students referred away leave the slice, those referred in join it
	dash, err := svc.SchoolDashboard(ctx, f.teacher, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, "ม.1/1", dash.Class)
	assert.Equal(t, 2, dash.StudentCount)
	assert.Equal(t, 0, dash.RiskCounts[student.RiskYellow])
	assert.Equal(t, 1, dash.RiskCounts[student.RiskBlue])
	assert.Equal(t, 1, dash.RiskCounts[student.RiskRed])
	assert.Equal(t, 1, dash.ClassRisk["ม.1/2"][student.RiskRed])
	assert.Equal(t, 1, dash.SessionCount)
	assert.Equal(t, 1, dash.ActivityCounts[activity.StatusInProgress])
	assert.Equal(t, 4, dash.ActivityCounts[activity.StatusLocked])

	dash, err = svc.SchoolDashboard(ctx, testutil.Actor(t, other, "ม.1/2"), f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dash.StudentCount)
	assert.Equal(t, 1, dash.RiskCounts[student.RiskYellow])
	assert.Equal(t, 0, dash.RiskCounts[student.RiskRed])
	assert.Equal(t, 0, dash.SessionCount)

	// school-wide figures are unchanged
	dash, err = svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, dash.StudentCount)
	assert.Equal(t, 1, dash.SessionCount)
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	testutil.CreateSchool(t, f.db, "B")
	svc := newService(f, nil, &testutil.Logger{})

	_, err := svc.Overview(ctx, f.admin)
	assert.True(t, core.IsAuthorization(err))

	ov, err := svc.Overview(ctx, f.sys)
	require.NoError(t, err)
	require.Len(t, ov.Schools, 2)
	assert.Equal(t, 3, ov.RiskCounts[student.RiskBlue]+ov.RiskCounts[student.RiskYellow]+ov.RiskCounts[student.RiskRed])
	for _, s := range ov.Schools {
		if s.SchoolID == f.sch.ID {
			assert.Equal(t, 4, s.StudentCount)
		} else {
			assert.Equal(t, 0, s.StudentCount)
		}
	}
}

func TestSchoolDashboard_Cached(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	srv := miniredis.RunT(t)
	client := rediscache.NewClient(&core.Config{Redis: core.RedisConfig{Addr: srv.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	log := &testutil.Logger{}
	svc := newService(f, rediscache.New(client, ""), log)

	dash, err := svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, dash.StudentCount)
	assert.True(t, srv.Exists("analytics:dashboard:"+f.sch.ID))

	// class teachers' dashboards are never cached
	_, err = svc.SchoolDashboard(ctx, f.teacher, f.sch.ID)
	require.NoError(t, err)
	assert.Len(t, srv.Keys(), 1)

	// served from the cache until invalidated
	testutil.CreateStudent(t, f.db, f.sch.ID, "005", "ม.1/1")
	dash, err = svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, dash.StudentCount)
	assert.Equal(t, 1, dash.ClassRisk["ม.1/1"][student.RiskYellow])

	svc.Invalidate(ctx, f.sch.ID)
	dash, err = svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, dash.StudentCount)
	assert.Zero(t, log.Count())

	// a failing cache is logged, never fatal
	srv.Close()
	dash, err = svc.SchoolDashboard(ctx, f.admin, f.sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, dash.StudentCount)
	assert.Positive(t, log.Count())
}
