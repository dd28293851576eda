package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/user"
)

var (
	errUnauthorized       = core.NewAuthorizationError(core.ReasonNotAuthenticated)
	errRefreshExpired     = echo.NewHTTPError(http.StatusUnauthorized, "เซสชันหมดอายุ กรุณาเข้าสู่ระบบใหม่")
	errTooManyRequests    = echo.NewHTTPError(http.StatusTooManyRequests, "มีการร้องขอมากเกินไป กรุณาลองใหม่ภายหลัง")
	errFileRequired       = core.NewValidationError(errors.New("กรุณาแนบไฟล์"), core.FieldError{Field: "file", Error: "กรุณาแนบไฟล์"})
	msgInternalError      = "เกิดข้อผิดพลาดในระบบ กรุณาลองใหม่อีกครั้ง"
	msgInvalidRequestBody = "รูปแบบข้อมูลไม่ถูกต้อง"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func ok(ctx echo.Context, code int, data interface{}) error {
	return ctx.JSON(code, Response{Success: true, Data: data})
}

// errorResponse maps an error to its status code and envelope.
// The returned bool is false for unexpected errors.
func errorResponse(err error) (int, Response, bool) {
	resp := Response{Success: false}

	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		code := origErr.Code
		if origErr == middleware.ErrJWTMissing {
			code = http.StatusUnauthorized
		}
		if origErr.Internal != nil {
			if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
				origErr = herr
			}
		}
		switch msg, isStr := origErr.Message.(string); {
		case code == http.StatusBadRequest || code == http.StatusUnsupportedMediaType:
			resp.Message = msgInvalidRequestBody
		case isStr && msg != "":
			resp.Message = msg
		default:
			resp.Message = http.StatusText(code)
		}
		if code == http.StatusUnauthorized {
			resp.Reason = core.ReasonNotAuthenticated
		}
		return code, resp, true

	case validator.ValidationErrors:
		resp.Message = "ข้อมูลไม่ถูกต้อง"
		resp.Fields = core.FieldErrors(origErr)
		return http.StatusBadRequest, resp, true

	case *core.ValidationError:
		resp.Message = origErr.Error()
		if len(origErr.Fields) > 0 {
			resp.Fields = make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				resp.Fields[fErr.Field] = fErr.Error
			}
			if resp.Message == "" {
				resp.Message = origErr.Fields[0].Error
			}
		}
		return http.StatusBadRequest, resp, true

	case *core.AuthorizationError:
		resp.Message = origErr.Error()
		resp.Reason = origErr.Reason
		if origErr.Reason == core.ReasonNotAuthenticated {
			return http.StatusUnauthorized, resp, true
		}
		return http.StatusForbidden, resp, true

	case *core.NotFoundError:
		resp.Message = origErr.Error()
		return http.StatusNotFound, resp, true

	case *core.StateError:
		resp.Message = origErr.Error()
		return http.StatusConflict, resp, true

	default: // any other error is a server error
		resp.Message = msgInternalError
		return http.StatusInternalServerError, resp, false
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, resp, known := errorResponse(err)

		if !known {
			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Email = claims.Email
			}
			logger.Error(resp.Message, errors.Wrap(err, ctx.Request().Method+" "+ctx.Path()), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				resp.Message = err.Error()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
