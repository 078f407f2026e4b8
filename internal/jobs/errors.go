package jobs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JaimeStill/mender/internal/templates"
	"github.com/JaimeStill/mender/pkg/database"
	"github.com/JaimeStill/mender/pkg/formatting"
	"github.com/JaimeStill/mender/pkg/storage"
)

// Domain errors for job operations.
var (
	ErrNotFound           = errors.New("job not found")
	ErrDuplicate          = errors.New("job already exists")
	ErrInvalidImage       = errors.New("invalid image")
	ErrInvalidInstruction = errors.New("instruction is required")
	ErrFileTooLarge       = errors.New("file exceeds maximum upload size")
	ErrFetch              = errors.New("image fetch failed")
	ErrBusy               = errors.New("too many jobs in progress")
	ErrShuttingDown       = errors.New("server is shutting down")
	ErrNoResult           = errors.New("job has no result")
	ErrActive             = errors.New("job is still in progress")
)

// MapHTTPStatus maps job domain errors to HTTP status codes. Template
// errors keep the status the templates domain assigns them, and unavailable
// backing stores map to 503.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrNoResult), errors.Is(err, ErrActive):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidImage), errors.Is(err, ErrInvalidInstruction):
		return http.StatusBadRequest
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, ErrBusy), errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotReady), errors.Is(err, database.ErrNotReady):
		return http.StatusServiceUnavailable
	}

	if status := templates.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusInternalServerError
}

func tooLarge(limit int64) error {
	return fmt.Errorf("%w (limit %s)", ErrFileTooLarge, formatting.FormatBytes(limit, 0))
}
