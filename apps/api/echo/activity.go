package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/activity"
)

type activityApi struct {
	svc  *activity.Service
	dash dashboards
}

func registerActivityAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *activity.Service, dash dashboards) {
	api := activityApi{svc: svc, dash: dash}

	ag := g.Group("", authed...)
	ag.GET("/students/:id/activities", api.forStudent)

	pg := ag.Group("/activities")
	pg.GET("/:id", api.retrieve)
	pg.POST("/:id/worksheets", api.uploadWorksheet)
	pg.POST("/:id/assessment", api.submitAssessment)
	pg.PUT("/:id/schedule", api.schedule)
	pg.PUT("/:id/notes", api.updateNotes)
}

// Handlers

func (api *activityApi) forStudent(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	rows, err := api.svc.ForStudent(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing activities")
	}
	if rows == nil {
		rows = []activity.Progress{}
	}
	return ok(ctx, http.StatusOK, rows)
}

func (api *activityApi) retrieve(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting activity")
	}
	return ok(ctx, http.StatusOK, p)
}

func (api *activityApi) uploadWorksheet(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	fh, f, err := formFile(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := api.svc.UploadWorksheet(ctx.Request().Context(), actor, ctx.Param("id"), activity.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Content:     f,
	})
	if err != nil {
		return errors.Wrap(err, "uploading worksheet")
	}
	if res.Progress.Status == activity.StatusCompleted || res.Progress.Status == activity.StatusPendingAssessment {
		api.dash.invalidate(ctx, actor, res.Progress.StudentID)
	}
	return ok(ctx, http.StatusCreated, res)
}

func (api *activityApi) submitAssessment(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data activity.Assessment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Assessment")
	}
	p, err := api.svc.SubmitTeacherAssessment(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting assessment")
	}
	api.dash.invalidate(ctx, actor, p.StudentID)
	return ok(ctx, http.StatusOK, p)
}

func (api *activityApi) schedule(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data activity.Schedule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Schedule")
	}
	p, err := api.svc.Schedule(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "scheduling activity")
	}
	return ok(ctx, http.StatusOK, p)
}

func (api *activityApi) updateNotes(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data activity.Notes
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Notes")
	}
	p, err := api.svc.UpdateNotes(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating notes")
	}
	return ok(ctx, http.StatusOK, p)
}
