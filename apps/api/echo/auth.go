package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
)

const (
	tokenContextKey = "userToken"
	userContextKey  = "user"
	actorContextKey = "actor"
	tokenAudience   = "phqcare"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt  int64     `json:"oriat,omitempty"`
	Email         string    `json:"email,omitempty"`
	Role          core.Role `json:"role,omitempty"`
	SchoolID      string    `json:"school_id,omitempty"`
	IsPrimary     bool      `json:"is_primary,omitempty"`
	AdvisoryClass string    `json:"advisory_class,omitempty"`
}

// authenticator issues the tokens and turns them back into actors.
type authenticator struct {
	conf       *core.Config
	userSvc    user.Service
	teacherSvc *teacher.Service
}

func newAuthenticator(conf *core.Config, userSvc user.Service, teacherSvc *teacher.Service) *authenticator {
	return &authenticator{conf: conf, userSvc: userSvc, teacherSvc: teacherSvc}
}

func (auth *authenticator) jwt() echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(auth.conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	})
}

// GetUserClaims returns the claims of a token issued to `usr`.
// origIat is the issue time of the first token of the session, when refreshing.
func GetUserClaims(conf *core.Config, usr user.User, advisoryClass string, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt:  oriat,
		Email:         usr.Email,
		Role:          usr.Role,
		SchoolID:      usr.SchoolID,
		IsPrimary:     usr.IsPrimary,
		AdvisoryClass: advisoryClass,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (auth *authenticator) tokenFor(ctx echo.Context, usr user.User, origIat ...int64) (string, error) {
	class, err := auth.teacherSvc.AdvisoryClassOf(ctx.Request().Context(), usr.ID)
	if err != nil {
		return "", errors.Wrap(err, "getting advisory class")
	}
	token, err := GenerateToken(auth.conf, GetUserClaims(auth.conf, usr, class, origIat...))
	return token, errors.Wrap(err, "generating token")
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// actorMiddleware loads the token's user and puts its actor in the context.
// Roles and advisory classes are read fresh so that changes apply without a new login.
func (auth *authenticator) actorMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		usr, err := auth.userSvc.GetByID(ctx.Request().Context(), claims.Subject)
		if err != nil {
			if core.IsNotFound(err) {
				return errUnauthorized
			}
			return errors.Wrap(err, "finding user by ID")
		}
		if !usr.IsActive {
			return user.ErrInactive
		}
		class, err := auth.teacherSvc.AdvisoryClassOf(ctx.Request().Context(), usr.ID)
		if err != nil {
			return errors.Wrap(err, "getting advisory class")
		}
		actor, err := access.NewActor(usr.Session(class))
		if err != nil {
			return err
		}
		ctx.Set(userContextKey, usr)
		ctx.Set(actorContextKey, actor)
		return next(ctx)
	}
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(userContextKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUnauthorized
}

func getActor(ctx echo.Context) (access.Actor, error) {
	if actor, ok := ctx.Get(actorContextKey).(access.Actor); ok {
		return actor, nil
	}
	return nil, errUnauthorized
}

func (auth *authenticator) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(auth.conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}
	return auth.tokenFor(ctx, usr, claims.OrigIssuedAt)
}
