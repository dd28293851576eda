package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/student"
)

type analyticsApi struct {
	svc *analytics.Service
}

func registerAnalyticsAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *analytics.Service) {
	api := analyticsApi{svc: svc}

	ag := g.Group("", authed...)
	ag.GET("/schools/:id/dashboard", api.schoolDashboard)
	ag.GET("/dashboard", api.overview)
}

// Handlers

func (api *analyticsApi) schoolDashboard(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	dash, err := api.svc.SchoolDashboard(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing school dashboard")
	}
	return ok(ctx, http.StatusOK, dash)
}

func (api *analyticsApi) overview(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	ov, err := api.svc.Overview(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "computing overview")
	}
	return ok(ctx, http.StatusOK, ov)
}

// dashboards drops the cached dashboards a student's data shows up in.
type dashboards struct {
	students  *student.Service
	analytics *analytics.Service
}

func (d dashboards) invalidate(ctx echo.Context, actor access.Actor, studentID string) {
	st, err := d.students.Get(ctx.Request().Context(), actor, studentID)
	if err != nil {
		return
	}
	d.analytics.Invalidate(ctx.Request().Context(), st.SchoolID)
}
