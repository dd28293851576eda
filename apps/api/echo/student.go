package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/services/phqimport"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type studentApi struct {
	svc       *student.Service
	analytics *analytics.Service
}

func registerStudentAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *student.Service, analyticsSvc *analytics.Service) {
	api := studentApi{svc: svc, analytics: analyticsSvc}

	ag := g.Group("", authed...)
	ag.POST("/schools/:id/phq-import", api.importResults)
	ag.GET("/phq-import/template", api.importTemplate)

	sg := ag.Group("/students")
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
	sg.GET("/:id/results", api.results)
	sg.POST("/:id/referral", api.refer)
	sg.DELETE("/:id/referral", api.revokeReferral)

	ag.PUT("/results/:id", api.updateResult)
	ag.GET("/referrals/incoming", api.referredToMe)
}

// Handlers

// importResults imports a PHQ-9 round, from an xlsx file (multipart field `file`,
// with `academic_year` and `round` fields) or from JSON rows.
func (api *studentApi) importResults(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	schoolID := ctx.Param("id")

	var summary student.ImportSummary
	var batch student.ImportBatch
	if isMultipart(ctx) {
		sheet, b, err := api.bindSheet(ctx)
		if err != nil {
			return err
		}
		batch = b
		if len(batch.Rows) == 0 {
			// nothing to import, only parse errors to report
			if err := access.CheckSchoolMember(actor, schoolID); err != nil {
				return err
			}
			summary = student.ImportSummary{ByRisk: map[student.RiskLevel]int{}, Errors: []student.RowError{}}
		} else if summary, err = api.svc.Import(ctx.Request().Context(), actor, schoolID, batch); err != nil {
			return errors.Wrap(err, "importing results")
		}
		summary = sheet.Merge(summary)
	} else {
		if err := ctx.Bind(&batch); err != nil {
			return errors.Wrap(err, "binding to ImportBatch")
		}
		if summary, err = api.svc.Import(ctx.Request().Context(), actor, schoolID, batch); err != nil {
			return errors.Wrap(err, "importing results")
		}
	}

	if summary.Imported > 0 {
		api.analytics.Invalidate(ctx.Request().Context(), schoolID)
	}
	return ok(ctx, http.StatusOK, summary)
}

func (api *studentApi) bindSheet(ctx echo.Context) (phqimport.Sheet, student.ImportBatch, error) {
	var batch student.ImportBatch
	var fldErrs []core.FieldError
	for _, fld := range []struct {
		name string
		dst  *int
	}{
		{"academic_year", &batch.AcademicYear},
		{"round", &batch.Round},
	} {
		n, err := strconv.Atoi(ctx.FormValue(fld.name))
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: fld.name, Error: "ต้องเป็นตัวเลข"})
			continue
		}
		*fld.dst = n
	}
	if len(fldErrs) > 0 {
		return phqimport.Sheet{}, batch, core.NewValidationError(errors.New("ข้อมูลไม่ถูกต้อง"), fldErrs...)
	}

	_, f, err := formFile(ctx)
	if err != nil {
		return phqimport.Sheet{}, batch, err
	}
	defer f.Close()

	sheet, err := phqimport.Parse(f)
	if err != nil {
		return phqimport.Sheet{}, batch, errors.Wrap(err, "parsing spreadsheet")
	}
	batch.Rows = sheet.Rows
	return sheet, batch, nil
}

func (api *studentApi) importTemplate(ctx echo.Context) error {
	f, err := phqimport.Template()
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	defer f.Close()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="phq9-template.xlsx"`)
	ctx.Response().Header().Set(echo.HeaderContentType, mimeXLSX)
	ctx.Response().WriteHeader(http.StatusOK)
	_, err = f.WriteTo(ctx.Response())
	return errors.Wrap(err, "writing template")
}

func (api *studentApi) query(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var filter student.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	students, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ok(ctx, http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ok(ctx, http.StatusOK, st)
}

func (api *studentApi) update(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	before, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	st, err := api.svc.Update(ctx.Request().Context(), actor, before.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	if st.Class != before.Class {
		api.analytics.Invalidate(ctx.Request().Context(), st.SchoolID)
	}
	return ok(ctx, http.StatusOK, st)
}

func (api *studentApi) destroy(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	if err := api.svc.Delete(ctx.Request().Context(), actor, st.ID); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	api.analytics.Invalidate(ctx.Request().Context(), st.SchoolID)
	return ok(ctx, http.StatusOK, nil)
}

func (api *studentApi) results(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	results, err := api.svc.Results(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing results")
	}
	if results == nil {
		results = []student.Result{}
	}
	return ok(ctx, http.StatusOK, results)
}

func (api *studentApi) updateResult(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data student.Scores
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Scores")
	}
	res, err := api.svc.UpdateResult(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating result")
	}
	if st, err := api.svc.Get(ctx.Request().Context(), actor, res.StudentID); err == nil {
		api.analytics.Invalidate(ctx.Request().Context(), st.SchoolID)
	}
	return ok(ctx, http.StatusOK, res)
}

func (api *studentApi) refer(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data student.NewReferral
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReferral")
	}
	ref, err := api.svc.Refer(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "referring student")
	}
	return ok(ctx, http.StatusCreated, ref)
}

func (api *studentApi) revokeReferral(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.RevokeReferral(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "revoking referral")
	}
	return ok(ctx, http.StatusOK, nil)
}

func (api *studentApi) referredToMe(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	students, err := api.svc.ReferredToMe(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing referred students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ok(ctx, http.StatusOK, students)
}
