package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// VersionMiddleware resolves the API version of each request from its path
// prefix and advertises the version served back to the client.
type VersionMiddleware struct {
	supported      map[string]bool
	defaultVersion string
}

func NewVersionMiddleware() *VersionMiddleware {
	return &VersionMiddleware{
		supported:      map[string]bool{"v1": true},
		defaultVersion: "v1",
	}
}

// VersionHeader stamps every response of a route group with the version it
// serves.
func (vm *VersionMiddleware) VersionHeader(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-API-Version", version)
			return next(c)
		}
	}
}

// APIVersionResolver stores the requested version in the request context.
// Unversioned paths fall back to the default; a version prefix the server
// does not serve is rejected outright.
func (vm *VersionMiddleware) APIVersionResolver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			version := vm.versionFromPath(c.Request().URL.Path)
			if version == "" {
				c.Set("api_version", vm.defaultVersion)
				return next(c)
			}
			if !vm.supported[version] {
				return c.JSON(http.StatusNotFound, map[string]string{
					"error": "Unsupported API version",
				})
			}
			c.Set("api_version", version)
			return next(c)
		}
	}
}

// versionFromPath returns the leading path segment when it looks like a
// version prefix ("v1", "v2", ...), empty otherwise.
func (vm *VersionMiddleware) versionFromPath(path string) string {
	segment := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	if len(segment) >= 2 && segment[0] == 'v' && segment[1] >= '1' && segment[1] <= '9' {
		return segment
	}
	return ""
}
