package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lexibase/lexibase/common/errs"
)

// respondError maps engine errors onto HTTP status codes: validation 400,
// not-found 404, conflict 409, anything else 500.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsConflict(err):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]any{"error": err.Error()})
}
