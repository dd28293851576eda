package student_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

type fixture struct {
	db      *inmemdb.DB
	svc     *student.Service
	sch     school.School
	admin   access.Actor
	teacher access.Actor // ม.1/1
	other   access.Actor // ม.1/2
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := inmemdb.Open()
	sch := testutil.CreateSchool(t, db, "A", "ม.1/1", "ม.1/2")
	admin := testutil.CreateTeacher(t, db, "admin@school.test", sch.ID, core.AllClasses, true)
	tch := testutil.CreateTeacher(t, db, "t1@school.test", sch.ID, "ม.1/1", false)
	other := testutil.CreateTeacher(t, db, "t2@school.test", sch.ID, "ม.1/2", false)
	return fixture{
		db:      db,
		svc:     student.NewService(inmemdb.NewStudentRepository(db)),
		sch:     sch,
		admin:   testutil.Actor(t, admin, core.AllClasses),
		teacher: testutil.Actor(t, tch, "ม.1/1"),
		other:   testutil.Actor(t, other, "ม.1/2"),
	}
}

func row(code, class string, total int) student.ImportRow {
	return student.ImportRow{StudentCode: code, Prefix: "ด.ช.", FirstName: "ชื่อ" + code, LastName: "สกุล", Class: class, Scores: testutil.Scores(total)}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	bad := row("004", "ม.1/1", 0)
	bad.Q3 = 7
	summary, err := f.svc.Import(ctx, f.admin, f.sch.ID, student.ImportBatch{
		AcademicYear: 2567,
		Round:        1,
		Rows: []student.ImportRow{
			row("001", "ม.1/1", 2),  // blue
			row("002", "ม.1/1", 12), // yellow
			row("003", "ม.1/2", 22), // red
			bad,
			row("005", "ม.6/6", 3),
			row("001", "ม.1/1", 3),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Imported)
	assert.Equal(t, 3, summary.Created)
	assert.Equal(t, 1, summary.ByRisk[student.RiskBlue])
	assert.Equal(t, 1, summary.ByRisk[student.RiskYellow])
	assert.Equal(t, 1, summary.ByRisk[student.RiskRed])
	require.Len(t, summary.Errors, 3)
	assert.Equal(t, 4, summary.Errors[0].Row)
	assert.Equal(t, 5, summary.Errors[1].Row)
	assert.Equal(t, 6, summary.Errors[2].Row)

	// progress is seeded from the plan, first activity unlocked
	students, err := f.svc.Query(ctx, f.admin, student.QueryFilter{RiskLevel: student.RiskYellow})
	require.NoError(t, err)
	require.Len(t, students, 1)
	results, err := f.svc.Results(ctx, f.admin, students[0].ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 12, results[0].TotalScore)

	rows, err := inmemdb.NewActivityRepository(f.db).ListProgress(ctx, results[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, n := range []int{1, 2, 3, 5} {
		assert.Equal(t, n, rows[i].ActivityNumber)
		want := activity.StatusLocked
		if i == 0 {
			want = activity.StatusInProgress
		}
		assert.Equal(t, want, rows[i].Status)
	}

	// the same round cannot be imported twice; a new round updates the student
	summary, err = f.svc.Import(ctx, f.admin, f.sch.ID, student.ImportBatch{AcademicYear: 2567, Round: 1, Rows: []student.ImportRow{row("001", "ม.1/1", 2)}})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Imported)
	require.Len(t, summary.Errors, 1)

	summary, err = f.svc.Import(ctx, f.admin, f.sch.ID, student.ImportBatch{AcademicYear: 2567, Round: 2, Rows: []student.ImportRow{row("001", "ม.1/1", 16)}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	st, err := inmemdb.NewStudentRepository(f.db).GetStudentByCode(ctx, f.sch.ID, "001")
	require.NoError(t, err)
	assert.Equal(t, student.RiskOrange, st.LatestRisk)
}

func TestImport_ClassTeacher(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	summary, err := f.svc.Import(ctx, f.teacher, f.sch.ID, student.ImportBatch{
		AcademicYear: 2567,
		Round:        1,
		Rows:         []student.ImportRow{row("001", "ม.1/1", 5), row("002", "ม.1/2", 5)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "002", summary.Errors[0].StudentCode)

	// other schools are off limits
	otherSchool := testutil.CreateSchool(t, f.db, "B", "ม.1/1")
	_, err = f.svc.Import(ctx, f.teacher, otherSchool.ID, student.ImportBatch{AcademicYear: 2567, Round: 1, Rows: []student.ImportRow{row("001", "ม.1/1", 5)}})
	assert.True(t, core.IsAuthorization(err))
}

func TestAccess(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	mine := testutil.CreateStudent(t, f.db, f.sch.ID, "001", "ม.1/1")
	theirs := testutil.CreateStudent(t, f.db, f.sch.ID, "002", "ม.1/2")

	_, err := f.svc.Get(ctx, f.teacher, mine.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.teacher, theirs.ID)
	var authErr *core.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, core.ReasonDifferentClass, authErr.Reason)

	listed, err := f.svc.Query(ctx, f.teacher, student.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.ID, listed[0].ID)

	listed, err = f.svc.Query(ctx, f.admin, student.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	// class teachers cannot delete
	assert.True(t, core.IsAuthorization(f.svc.Delete(ctx, f.teacher, mine.ID)))
	require.NoError(t, f.svc.Delete(ctx, f.admin, mine.ID))
	_, err = f.svc.Get(ctx, f.admin, mine.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestReferral(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	st := testutil.CreateStudent(t, f.db, f.sch.ID, "001", "ม.1/1")

	// only a class teacher of the same school, other than the actor
	_, err := f.svc.Refer(ctx, f.teacher, st.ID, student.NewReferral{ToUserID: f.teacher.ID()})
	assert.Equal(t, student.ErrInvalidReferee, err)
	_, err = f.svc.Refer(ctx, f.teacher, st.ID, student.NewReferral{ToUserID: f.admin.ID()})
	assert.Equal(t, student.ErrInvalidReferee, err)
	// the other teacher cannot refer a student they cannot see
	_, err = f.svc.Refer(ctx, f.other, st.ID, student.NewReferral{ToUserID: f.teacher.ID()})
	assert.True(t, core.IsAuthorization(err))

	ref, err := f.svc.Refer(ctx, f.teacher, st.ID, student.NewReferral{ToUserID: f.other.ID(), Reason: "ต้องการครูแนะแนว"})
	require.NoError(t, err)
	assert.True(t, ref.Active())

	// the referee sees the student, the referrer no longer does
	_, err = f.svc.Get(ctx, f.other, st.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.teacher, st.ID)
	assert.True(t, core.IsAuthorization(err))

	incoming, err := f.svc.ReferredToMe(ctx, f.other)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, st.ID, incoming[0].ID)

	// one active referral at a time
	_, err = f.svc.Refer(ctx, f.other, st.ID, student.NewReferral{ToUserID: f.teacher.ID()})
	assert.Equal(t, student.ErrAlreadyReferred, err)

	// the referrer may still revoke; access goes back to the class teacher
	require.NoError(t, f.svc.RevokeReferral(ctx, f.teacher, st.ID))
	_, err = f.svc.Get(ctx, f.teacher, st.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.other, st.ID)
	assert.True(t, core.IsAuthorization(err))
	assert.True(t, core.IsNotFound(f.svc.RevokeReferral(ctx, f.teacher, st.ID)))
}

func TestUpdateResult(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	st := testutil.CreateStudent(t, f.db, f.sch.ID, "001", "ม.1/1")
	res := testutil.CreateResult(t, f.db, st.ID, testutil.Scores(3))

	_, err := f.svc.UpdateResult(ctx, f.teacher, res.ID, testutil.Scores(21))
	assert.True(t, core.IsAuthorization(err))

	updated, err := f.svc.UpdateResult(ctx, f.admin, res.ID, testutil.Scores(21))
	require.NoError(t, err)
	assert.Equal(t, 21, updated.TotalScore)
	assert.Equal(t, student.RiskRed, updated.RiskLevel)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	st := testutil.CreateStudent(t, f.db, f.sch.ID, "001", "ม.1/1")

	_, err := f.svc.Update(ctx, f.admin, st.ID, student.UpdateStudent{Class: "ม.9/9"})
	assert.Equal(t, student.ErrUnknownClass, err)

	st, err = f.svc.Update(ctx, f.admin, st.ID, student.UpdateStudent{Class: "ม.1/2", FirstName: "ใหม่"})
	require.NoError(t, err)
	assert.Equal(t, "ม.1/2", st.Class)
	assert.Equal(t, "ใหม่", st.FirstName)

	// moved out of the teacher's class
	_, err = f.svc.Get(ctx, f.teacher, st.ID)
	assert.True(t, core.IsAuthorization(err))
}
