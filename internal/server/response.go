package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/store"
)

// Response is the JSON envelope of every non-binary reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// OK sends a 200 OK response
func OK(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// Fail sends an error response
func Fail(c echo.Context, code int, err error) error {
	return c.JSON(code, Response{Success: false, Error: err.Error(), Kind: core.KindOf(err)})
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c echo.Context, err error) error {
	return Fail(c, http.StatusBadRequest, err)
}

// StatusFor maps an error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNoData), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError sends err with the status StatusFor picks.
func FromError(c echo.Context, err error) error {
	return Fail(c, StatusFor(err), err)
}
