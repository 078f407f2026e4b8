package templates

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/mender/pkg/workflow"
)

// Domain errors for template operations.
var (
	ErrNotFound    = errors.New("template not found")
	ErrInvalidName = errors.New("invalid template name")
	ErrInvalid     = errors.New("invalid template")
)

// MapHTTPStatus maps template errors to HTTP status codes. Templates that
// exist but cannot be used are reported as unprocessable.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalid),
		errors.Is(err, workflow.ErrConfiguration),
		errors.Is(err, workflow.ErrInvalidDocument),
		errors.Is(err, workflow.ErrInvalidLink):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
