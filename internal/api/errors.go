package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/nexttoken/internal/distribution"
)

// ErrInvalidRequest marks a body that could not be decoded.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

var statusByClass = []struct {
	kind   error
	status int
}{
	{ErrInvalidRequest, http.StatusBadRequest},
	{distribution.ErrInvalidInput, http.StatusBadRequest},
	{distribution.ErrModelUnavailable, http.StatusServiceUnavailable},
	{distribution.ErrInference, http.StatusInternalServerError},
	{distribution.ErrUpstreamUnreachable, http.StatusBadGateway},
	{distribution.ErrUpstreamTimeout, http.StatusGatewayTimeout},
	{distribution.ErrUpstreamError, http.StatusBadGateway},
}

// StatusFor maps an error class to its HTTP status. Unclassified errors are 500.
func StatusFor(err error) int {
	for _, m := range statusByClass {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// errorMessage is the client-facing text for err.
func errorMessage(err error) string {
	if errors.Is(err, distribution.ErrInference) {
		return "Inference error: " + err.Error()
	}
	return err.Error()
}

func writeError(c *echo.Context, status int, msg string) error {
	return respond(c, status, ErrorResponse{Error: msg})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, msg)
}
