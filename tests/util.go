package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
	"github.com/trezcool/phqcare/storage/database/inmem"
)

// Password passes the password policy for every test email.
const Password = "Xk9#mPq2vL"

// Config returns the configuration used by tests.
func Config() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		AppName:                   "PHQ Care",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://frontend.test",
		DefaultFromEmailAddr:      "noreply@phqcare.test",
		PasswordResetTimeoutDelta: time.Hour,
		InviteTimeoutDelta:        7 * 24 * time.Hour,
		Redis:                     core.RedisConfig{AnalyticsTTL: time.Minute},
		Storage: core.StorageConfig{
			Driver:        "disk",
			DiskRoot:      "uploads",
			PublicBaseURL: "http://files.test",
			MaxUploadSize: 5 * 1024 * 1024,
		},
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: time.Hour,
			AuthRateLimit:             100,
			AuthRateBurst:             100,
		},
	}
}

func CreateUser(t *testing.T, db *inmemdb.DB, email string, role core.Role, schoolID string, isPrimary bool) user.User {
	t.Helper()
	usr, err := user.Build(email, Password, role)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	usr.SchoolID = schoolID
	usr.IsPrimary = isPrimary
	if usr, err = inmemdb.NewUserRepository(db).CreateUser(context.Background(), usr); err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

// CreateTeacher creates a user with its teacher profile.
func CreateTeacher(t *testing.T, db *inmemdb.DB, email, schoolID, advisoryClass string, isPrimary bool) user.User {
	t.Helper()
	usr := CreateUser(t, db, email, core.RoleForAdvisoryClass(advisoryClass), schoolID, isPrimary)
	now := time.Now().UTC()
	_, err := inmemdb.NewTeacherRepository(db).CreateTeacher(context.Background(), teacher.Teacher{
		UserID:        usr.ID,
		FirstName:     "ครู",
		LastName:      email,
		AdvisoryClass: advisoryClass,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateTeacher(): %v", err)
	}
	return usr
}

// CreateSchool creates a school with its classes.
func CreateSchool(t *testing.T, db *inmemdb.DB, name string, classes ...string) school.School {
	t.Helper()
	ctx := context.Background()
	repo := inmemdb.NewSchoolRepository(db)
	sch, err := repo.CreateSchool(ctx, school.School{ID: uuid.NewString(), Name: name, Province: "เชียงใหม่", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreateSchool(): %v", err)
	}
	for _, cls := range classes {
		if _, err := repo.CreateClass(ctx, school.Class{ID: uuid.NewString(), SchoolID: sch.ID, Name: cls}); err != nil {
			t.Fatalf("CreateSchool(): %v", err)
		}
	}
	return sch
}

func CreateStudent(t *testing.T, db *inmemdb.DB, schoolID, code, class string) student.Student {
	t.Helper()
	now := time.Now().UTC()
	st, err := inmemdb.NewStudentRepository(db).CreateStudent(context.Background(), student.Student{
		ID:          uuid.NewString(),
		SchoolID:    schoolID,
		StudentCode: code,
		FirstName:   "นักเรียน",
		LastName:    code,
		Class:       class,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateStudent(): %v", err)
	}
	return st
}

// CreateResult saves a PHQ result and seeds its activity progress.
func CreateResult(t *testing.T, db *inmemdb.DB, studentID string, scores student.Scores) student.Result {
	t.Helper()
	ctx := context.Background()
	repo := inmemdb.NewStudentRepository(db)
	now := time.Now().UTC()
	r, err := repo.CreateResult(ctx, student.Result{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		AcademicYear: 2567,
		Round:        1,
		Scores:       scores,
		TotalScore:   scores.Total(),
		RiskLevel:    scores.Risk(),
		ImportedAt:   now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateResult(): %v", err)
	}
	if err := repo.SeedProgress(ctx, studentID, r.ID, student.ActivityPlan(r.RiskLevel), now); err != nil {
		t.Fatalf("CreateResult(): %v", err)
	}
	return r
}

// Actor returns the actor of a user, as the auth layer builds it.
func Actor(t *testing.T, usr user.User, advisoryClass string) access.Actor {
	t.Helper()
	actor, err := access.NewActor(usr.Session(advisoryClass))
	if err != nil {
		t.Fatalf("Actor(): %v", err)
	}
	return actor
}

// Scores returns answers summing to `total`, without self-harm follow-ups.
func Scores(total int) student.Scores {
	var a [9]int
	for i := 0; i < 9 && total > 0; i++ {
		n := total
		if n > 3 {
			n = 3
		}
		a[i] = n
		total -= n
	}
	return student.Scores{Q1: a[0], Q2: a[1], Q3: a[2], Q4: a[3], Q5: a[4], Q6: a[5], Q7: a[6], Q8: a[7], Q9: a[8]}
}
