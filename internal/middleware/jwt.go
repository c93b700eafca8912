package middleware

import (
	"context"
	"net/http"

	"studyhub/internal/common"
	"studyhub/internal/models"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// JWTCustomClaims is the token payload issued by the identity service: the
// subject is the user ID, roles drive authorization downstream.
type JWTCustomClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewJWTConfig builds the echo-jwt configuration. When jwksURL is set the
// keys are fetched from the identity provider's JWKS endpoint; otherwise the
// shared secret is used. Successful validation stores the actor in the
// request context.
func NewJWTConfig(secret, jwksURL string) (echojwt.Config, error) {
	cfg := echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(JWTCustomClaims)
		},
		SuccessHandler: func(c echo.Context) {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return
			}
			claims, ok := token.Claims.(*JWTCustomClaims)
			if !ok {
				return
			}
			actor, err := ActorFromClaims(claims)
			if err != nil {
				return
			}
			ctx := common.WithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		},
	}

	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{Ctx: context.Background()})
		if err != nil {
			return echojwt.Config{}, err
		}
		cfg.KeyFunc = jwks.Keyfunc
	} else {
		cfg.SigningKey = []byte(secret)
	}

	return cfg, nil
}

// ActorFromClaims converts validated claims into the domain actor.
func ActorFromClaims(claims *JWTCustomClaims) (models.Actor, error) {
	userID, err := common.ValidateUUID(claims.Subject, "sub")
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{ID: userID, Roles: claims.Roles}, nil
}
