package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/teacher"
)

type teacherApi struct {
	svc *teacher.Service
}

func registerTeacherAPI(g *echo.Group, limit echo.MiddlewareFunc, authed []echo.MiddlewareFunc, svc *teacher.Service) {
	api := teacherApi{svc: svc}

	// un-authed endpoints
	ig := g.Group("/invites", limit)
	ig.GET("/:token", api.inviteInfo)
	ig.POST("/:token/accept", api.acceptInvite)

	tg := g.Group("/teachers", authed...)
	tg.POST("/profile", api.createProfile)
	tg.GET("/:userId", api.retrieve)
	tg.PUT("/:userId", api.update)
	tg.PUT("/:userId/advisory-class", api.setAdvisoryClass)
}

// Handlers

func (api *teacherApi) inviteInfo(ctx echo.Context) error {
	info, err := api.svc.InviteInfo(ctx.Request().Context(), ctx.Param("token"))
	if err != nil {
		return errors.Wrap(err, "getting invite info")
	}
	return ok(ctx, http.StatusOK, info)
}

func (api *teacherApi) acceptInvite(ctx echo.Context) error {
	var data teacher.AcceptInvite
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AcceptInvite")
	}
	prof, err := api.svc.AcceptInvite(ctx.Request().Context(), ctx.Param("token"), data)
	if err != nil {
		return errors.Wrap(err, "accepting invite")
	}
	return ok(ctx, http.StatusCreated, prof)
}

func (api *teacherApi) createProfile(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data teacher.NewProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProfile")
	}
	prof, err := api.svc.CreateProfile(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating profile")
	}
	return ok(ctx, http.StatusCreated, prof)
}

func (api *teacherApi) retrieve(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	prof, err := api.svc.GetProfile(ctx.Request().Context(), actor, ctx.Param("userId"))
	if err != nil {
		return errors.Wrap(err, "getting profile")
	}
	return ok(ctx, http.StatusOK, prof)
}

func (api *teacherApi) update(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data teacher.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	prof, err := api.svc.UpdateProfile(ctx.Request().Context(), actor, ctx.Param("userId"), data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ok(ctx, http.StatusOK, prof)
}

func (api *teacherApi) setAdvisoryClass(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data teacher.SetAdvisoryClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetAdvisoryClass")
	}
	prof, err := api.svc.SetAdvisoryClass(ctx.Request().Context(), actor, ctx.Param("userId"), data)
	if err != nil {
		return errors.Wrap(err, "setting advisory class")
	}
	return ok(ctx, http.StatusOK, prof)
}
