package middleware

import (
	"net/http"

	"studyhub/internal/common"

	"github.com/labstack/echo/v4"
)

// RequireRole guards a route group: the authenticated actor must carry the
// given role. Fine-grained checks still happen in the services, this is the
// transport-level gate.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := common.GetActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
			}
			if !actor.HasRole(role) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}
