package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/teacher"
)

type schoolApi struct {
	svc        *school.Service
	teacherSvc *teacher.Service
}

func registerSchoolAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *school.Service, teacherSvc *teacher.Service) {
	api := schoolApi{svc: svc, teacherSvc: teacherSvc}

	sg := g.Group("/schools", authed...)
	sg.POST("", api.create)
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.POST("/:id/classes", api.addClass)
	sg.GET("/:id/classes", api.classes)
	sg.DELETE("/:id/classes/:name", api.deleteClass)
	sg.POST("/:id/roster", api.addRosterEntry)
	sg.GET("/:id/roster", api.roster)
	sg.GET("/:id/teachers", api.teachers)

	rg := g.Group("/roster", authed...)
	rg.GET("/:id", api.retrieveRosterEntry)
	rg.PUT("/:id", api.updateRosterEntry)
	rg.DELETE("/:id", api.deleteRosterEntry)
	rg.POST("/:id/invite", api.invite)
}

// Handlers

func (api *schoolApi) create(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data school.NewSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchool")
	}
	sch, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating school")
	}
	return ok(ctx, http.StatusCreated, sch)
}

func (api *schoolApi) query(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var filter school.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	schools, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []school.School{}
	}
	return ok(ctx, http.StatusOK, schools)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	sch, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting school")
	}
	return ok(ctx, http.StatusOK, sch)
}

func (api *schoolApi) addClass(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data school.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	cls, err := api.svc.AddClass(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding class")
	}
	return ok(ctx, http.StatusCreated, cls)
}

func (api *schoolApi) classes(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.Classes(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	if classes == nil {
		classes = []school.Class{}
	}
	return ok(ctx, http.StatusOK, classes)
}

func (api *schoolApi) deleteClass(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteClass(ctx.Request().Context(), actor, ctx.Param("id"), pathParam(ctx, "name")); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ok(ctx, http.StatusOK, nil)
}

func (api *schoolApi) addRosterEntry(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data school.NewRosterEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRosterEntry")
	}
	entry, err := api.svc.AddRosterEntry(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding roster entry")
	}
	return ok(ctx, http.StatusCreated, entry)
}

func (api *schoolApi) roster(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	entries, err := api.svc.Roster(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing roster")
	}
	if entries == nil {
		entries = []school.RosterEntry{}
	}
	return ok(ctx, http.StatusOK, entries)
}

func (api *schoolApi) teachers(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	profiles, err := api.teacherSvc.Teachers(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing teachers")
	}
	if profiles == nil {
		profiles = []teacher.Profile{}
	}
	return ok(ctx, http.StatusOK, profiles)
}

func (api *schoolApi) retrieveRosterEntry(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	entry, err := api.svc.GetRosterEntry(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting roster entry")
	}
	return ok(ctx, http.StatusOK, entry)
}

func (api *schoolApi) updateRosterEntry(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data school.NewRosterEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRosterEntry")
	}
	entry, err := api.svc.UpdateRosterEntry(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating roster entry")
	}
	return ok(ctx, http.StatusOK, entry)
}

func (api *schoolApi) deleteRosterEntry(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteRosterEntry(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting roster entry")
	}
	return ok(ctx, http.StatusOK, nil)
}

func (api *schoolApi) invite(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	link, err := api.teacherSvc.CreateInvite(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "creating invite")
	}
	return ok(ctx, http.StatusCreated, link)
}
