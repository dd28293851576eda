package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/counseling"
)

type counselingApi struct {
	svc  *counseling.Service
	dash dashboards
}

func registerCounselingAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *counseling.Service, dash dashboards) {
	api := counselingApi{svc: svc, dash: dash}

	ag := g.Group("", authed...)
	ag.POST("/students/:id/sessions", api.createSession)
	ag.GET("/students/:id/sessions", api.sessions)
	ag.PUT("/sessions/:id", api.updateSession)
	ag.POST("/students/:id/home-visits", api.createHomeVisit)
	ag.GET("/students/:id/home-visits", api.homeVisits)
	ag.POST("/home-visits/:id/photos", api.addPhoto)
}

// Handlers

func (api *counselingApi) createSession(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data counseling.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	sess, err := api.svc.CreateSession(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	api.dash.invalidate(ctx, actor, sess.StudentID)
	return ok(ctx, http.StatusCreated, sess)
}

func (api *counselingApi) sessions(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	sessions, err := api.svc.Sessions(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	if sessions == nil {
		sessions = []counseling.Session{}
	}
	return ok(ctx, http.StatusOK, sessions)
}

func (api *counselingApi) updateSession(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data counseling.UpdateSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSession")
	}
	sess, err := api.svc.UpdateSession(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	return ok(ctx, http.StatusOK, sess)
}

func (api *counselingApi) createHomeVisit(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data counseling.NewHomeVisit
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHomeVisit")
	}
	visit, err := api.svc.CreateHomeVisit(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating home visit")
	}
	return ok(ctx, http.StatusCreated, visit)
}

func (api *counselingApi) homeVisits(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	visits, err := api.svc.HomeVisits(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing home visits")
	}
	if visits == nil {
		visits = []counseling.HomeVisit{}
	}
	return ok(ctx, http.StatusOK, visits)
}

func (api *counselingApi) addPhoto(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	fh, f, err := formFile(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	photo, err := api.svc.AddHomeVisitPhoto(ctx.Request().Context(), actor, ctx.Param("id"), fh.Filename, fh.Size, f)
	if err != nil {
		return errors.Wrap(err, "adding photo")
	}
	return ok(ctx, http.StatusCreated, photo)
}
