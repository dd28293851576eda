package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/counseling"
)

type uploadsApi struct {
	files      http.Handler
	activities *activity.Service
	counseling *counseling.Service
}

// registerUploads serves the files kept on disk. A file is only handed out to
// actors who may see the progress row or home visit owning its folder.
func registerUploads(app *echo.Echo, authed []echo.MiddlewareFunc, files http.Handler, activities *activity.Service, counselingSvc *counseling.Service) {
	api := uploadsApi{
		files:      http.StripPrefix("/uploads", files),
		activities: activities,
		counseling: counselingSvc,
	}
	app.GET("/uploads/:kind/:owner/:name", api.serve, authed...)
}

func (api *uploadsApi) serve(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	owner := ctx.Param("owner")
	switch ctx.Param("kind") {
	case "worksheets":
		_, err = api.activities.Get(reqCtx, actor, owner)
	case "home-visits":
		_, err = api.counseling.GetHomeVisit(reqCtx, actor, owner)
	default:
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}

	api.files.ServeHTTP(ctx.Response(), ctx.Request())
	return nil
}
