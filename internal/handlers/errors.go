package handlers

import (
	"studyhub/internal/common"

	"github.com/labstack/echo/v4"
)

// httpError converts a domain error into the echo error carrying the
// contractual status code and the caller-safe message.
func httpError(err error) error {
	return echo.NewHTTPError(common.HTTPStatus(err), common.ErrorMessage(err))
}
