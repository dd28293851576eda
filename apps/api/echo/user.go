package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core/user"
)

type userApi struct {
	svc  user.Service
	auth *authenticator
}

func registerUserAPI(g *echo.Group, auth *authenticator, limit echo.MiddlewareFunc, authed []echo.MiddlewareFunc, svc user.Service) {
	api := userApi{svc: svc, auth: auth}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/register", api.register, limit)
	ug.POST("/login", api.login, limit)
	ug.POST("/password-reset", api.resetPassword, limit)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset, limit)

	// authed endpoints
	ag := ug.Group("", authed...)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
	ag.GET("", api.query)
	ag.PUT("/:id/role", api.changeRole)
	ag.DELETE("/:id", api.destroy)
}

// Handlers

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	token, err := api.auth.tokenFor(ctx, usr)
	if err != nil {
		return err
	}
	return ok(ctx, http.StatusCreated, LoginResponse{Token: token, User: &usr})
}

func (api *userApi) login(ctx echo.Context) error {
	var data user.LoginUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginUser")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.svc.Login(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.auth.tokenFor(ctx, usr)
	if err != nil {
		return err
	}
	return ok(ctx, http.StatusOK, LoginResponse{Token: token, User: &usr})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data user.RequestPasswordReset
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RequestPasswordReset")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); err != nil {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ok(ctx, http.StatusOK, MessageResponse{
		Message: "หากอีเมลนี้มีบัญชีอยู่ในระบบ คุณจะได้รับอีเมลพร้อมลิงก์สำหรับตั้งรหัสผ่านใหม่",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ok(ctx, http.StatusOK, MessageResponse{Message: "ตั้งรหัสผ่านใหม่เรียบร้อยแล้ว"})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ok(ctx, http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ok(ctx, http.StatusOK, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ok(ctx, http.StatusOK, users)
}

func (api *userApi) changeRole(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	var data user.ChangeRole
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeRole")
	}
	usr, err := api.svc.ChangeRole(ctx.Request().Context(), actor, ctx.Param("id"), data.Role)
	if err != nil {
		return errors.Wrap(err, "changing role")
	}
	return ok(ctx, http.StatusOK, usr)
}

func (api *userApi) destroy(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ok(ctx, http.StatusOK, nil)
}

type (
	LoginResponse struct {
		Token string     `json:"token"`
		User  *user.User `json:"user,omitempty"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)
