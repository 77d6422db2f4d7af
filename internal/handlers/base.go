// Package handlers contains the HTTP control surface: toggles, lead state
// inspection, force resync, firing and event history, the DLQ view, and the
// webhook intake.
package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// Param returns a required path parameter
func Param(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing "+name)
	}
	return value, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
