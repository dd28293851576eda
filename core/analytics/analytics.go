// Package analytics computes the school dashboards.
package analytics

import (
	"context"
	"time"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
)

type (
	// StudentRisk is a student's class and the risk level of their latest result
	// ("" when they have none).
	StudentRisk struct {
		StudentID string
		Class     string
		Risk      student.RiskLevel
	}

	RiskCounts map[student.RiskLevel]int

	// Scope selects the students a dashboard covers: the whole school, or the
	// students a class teacher may access when TeacherID is set. Those are the
	// unreferred students of Class and the students referred to the teacher.
	Scope struct {
		SchoolID  string
		Class     string
		TeacherID string
	}

	Dashboard struct {
		SchoolID       string                  `json:"school_id"`
		Class          string                  `json:"class,omitempty"` // class teachers' slice
		StudentCount   int                     `json:"student_count"`
		ScreenedCount  int                     `json:"screened_count"`
		RiskCounts     RiskCounts              `json:"risk_counts"`
		ClassRisk      map[string]RiskCounts   `json:"class_risk"`
		ActivityCounts map[activity.Status]int `json:"activity_counts"`
		SessionCount   int                     `json:"session_count"`
		GeneratedAt    time.Time               `json:"generated_at"`
	}

	SchoolSummary struct {
		SchoolID     string     `json:"school_id"`
		Name         string     `json:"name"`
		Province     string     `json:"province"`
		StudentCount int        `json:"student_count"`
		RiskCounts   RiskCounts `json:"risk_counts"`
	}

	Overview struct {
		Schools     []SchoolSummary `json:"schools"`
		RiskCounts  RiskCounts      `json:"risk_counts"`
		GeneratedAt time.Time       `json:"generated_at"`
	}

	Repository interface {
		GetSchoolByID(ctx context.Context, id string) (school.School, error)
		FilterSchools(ctx context.Context, filter school.QueryFilter) ([]school.School, error)
		StudentRisks(ctx context.Context, scope Scope) ([]StudentRisk, error)
		// ActivityStatusCounts counts the progress rows of the students' latest results.
		ActivityStatusCounts(ctx context.Context, scope Scope) (map[activity.Status]int, error)
		SessionCount(ctx context.Context, scope Scope) (int, error)
	}

	// Cache keeps computed dashboards for a while.
	Cache interface {
		// Get decodes the cached value into dst; ok is false on a miss.
		Get(ctx context.Context, key string, dst interface{}) (ok bool, err error)
		Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error
		Delete(ctx context.Context, keys ...string) error
	}

	Service struct {
		repo  Repository
		cache Cache
		ttl   time.Duration
		log   core.Logger
	}
)

func NewService(repo Repository, cache Cache, conf *core.Config, log core.Logger) *Service {
	return &Service{repo: repo, cache: cache, ttl: conf.Redis.AnalyticsTTL, log: log}
}

func dashboardKey(schoolID string) string {
	return "analytics:dashboard:" + schoolID
}

const overviewKey = "analytics:overview"

func countRisks(rows []StudentRisk) (RiskCounts, map[string]RiskCounts, int) {
	total := make(RiskCounts, len(student.RiskLevels))
	for _, lvl := range student.RiskLevels {
		total[lvl] = 0
	}
	byClass := make(map[string]RiskCounts)
	screened := 0
	for _, row := range rows {
		if _, ok := byClass[row.Class]; !ok {
			byClass[row.Class] = make(RiskCounts)
		}
		if row.Risk == "" {
			continue
		}
		screened++
		total[row.Risk]++
		byClass[row.Class][row.Risk]++
	}
	return total, byClass, screened
}

// cached returns the cached value under key, or computes and caches it.
// Cache failures are logged and never fail the request.
func (svc *Service) cached(ctx context.Context, key string, dst interface{}, compute func() error) error {
	if svc.cache != nil {
		ok, err := svc.cache.Get(ctx, key, dst)
		if err != nil {
			svc.log.Warn("analytics: cache get", err, map[string]interface{}{"key": key})
		} else if ok {
			return nil
		}
	}
	if err := compute(); err != nil {
		return err
	}
	if svc.cache != nil {
		if err := svc.cache.Set(ctx, key, dst, svc.ttl); err != nil {
			svc.log.Warn("analytics: cache set", err, map[string]interface{}{"key": key})
		}
	}
	return nil
}

// SchoolDashboard summarizes a school. Class teachers only see the students
// they may access: their advisory class and the students referred to them.
// Only school-wide dashboards are cached.
func (svc *Service) SchoolDashboard(ctx context.Context, actor access.Actor, schoolID string) (Dashboard, error) {
	if err := access.CheckSchoolMember(actor, schoolID); err != nil {
		return Dashboard{}, err
	}

	var dash Dashboard
	if t, ok := actor.(access.ClassTeacher); ok {
		err := svc.dashboard(ctx, Scope{SchoolID: schoolID, Class: t.AdvisoryClass, TeacherID: t.UserID}, &dash)
		return dash, err
	}
	err := svc.cached(ctx, dashboardKey(schoolID), &dash, func() error {
		return svc.dashboard(ctx, Scope{SchoolID: schoolID}, &dash)
	})
	return dash, err
}

func (svc *Service) dashboard(ctx context.Context, scope Scope, dash *Dashboard) error {
	if _, err := svc.repo.GetSchoolByID(ctx, scope.SchoolID); err != nil {
		return err
	}
	rows, err := svc.repo.StudentRisks(ctx, scope)
	if err != nil {
		return err
	}
	statuses, err := svc.repo.ActivityStatusCounts(ctx, scope)
	if err != nil {
		return err
	}
	sessions, err := svc.repo.SessionCount(ctx, scope)
	if err != nil {
		return err
	}

	for _, st := range activity.Statuses {
		if _, ok := statuses[st]; !ok {
			statuses[st] = 0
		}
	}
	total, byClass, screened := countRisks(rows)
	*dash = Dashboard{
		SchoolID:       scope.SchoolID,
		Class:          scope.Class,
		StudentCount:   len(rows),
		ScreenedCount:  screened,
		RiskCounts:     total,
		ClassRisk:      byClass,
		ActivityCounts: statuses,
		SessionCount:   sessions,
		GeneratedAt:    time.Now().UTC(),
	}
	return nil
}

// Overview summarizes every school. System admins only.
func (svc *Service) Overview(ctx context.Context, actor access.Actor) (Overview, error) {
	if !access.IsSystemAdmin(actor) {
		return Overview{}, core.NewAuthorizationError(core.ReasonForbidden)
	}

	var ov Overview
	err := svc.cached(ctx, overviewKey, &ov, func() error {
		schools, err := svc.repo.FilterSchools(ctx, school.QueryFilter{})
		if err != nil {
			return err
		}
		ov = Overview{Schools: make([]SchoolSummary, 0, len(schools)), RiskCounts: make(RiskCounts)}
		for _, sch := range schools {
			rows, err := svc.repo.StudentRisks(ctx, Scope{SchoolID: sch.ID})
			if err != nil {
				return err
			}
			counts, _, _ := countRisks(rows)
			for lvl, n := range counts {
				ov.RiskCounts[lvl] += n
			}
			ov.Schools = append(ov.Schools, SchoolSummary{
				SchoolID:     sch.ID,
				Name:         sch.Name,
				Province:     sch.Province,
				StudentCount: len(rows),
				RiskCounts:   counts,
			})
		}
		ov.GeneratedAt = time.Now().UTC()
		return nil
	})
	return ov, err
}

// Invalidate drops the cached dashboards of a school, after an import for instance.
func (svc *Service) Invalidate(ctx context.Context, schoolID string) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.Delete(ctx, overviewKey, dashboardKey(schoolID)); err != nil {
		svc.log.Warn("analytics: cache delete", err, map[string]interface{}{"school_id": schoolID})
	}
}
