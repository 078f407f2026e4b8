package database

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotReady indicates the database connection has not been established.
var ErrNotReady = errors.New("database not ready")

// ConnectError reports a startup connection that never succeeded.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("database unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes every ConnectError match ErrNotReady.
func (e *ConnectError) Is(target error) bool {
	return target == ErrNotReady
}

// MapHTTPStatus maps database availability errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotReady) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
