package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/mender/internal/jobs"
	"github.com/JaimeStill/mender/internal/templates"
	"github.com/JaimeStill/mender/pkg/database"
	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/storage"
	"github.com/JaimeStill/mender/pkg/workflow"
)

func ptr[T any](v T) *T { return &v }

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", jobs.ErrNotFound, http.StatusNotFound},
		{"no result", jobs.ErrNoResult, http.StatusConflict},
		{"active", jobs.ErrActive, http.StatusConflict},
		{"invalid image", fmt.Errorf("%w: extension", jobs.ErrInvalidImage), http.StatusBadRequest},
		{"invalid instruction", jobs.ErrInvalidInstruction, http.StatusBadRequest},
		{"too large", jobs.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"fetch", jobs.ErrFetch, http.StatusBadGateway},
		{"busy", jobs.ErrBusy, http.StatusServiceUnavailable},
		{"shutting down", jobs.ErrShuttingDown, http.StatusServiceUnavailable},
		{"storage starting", fmt.Errorf("upload: %w", storage.ErrNotReady), http.StatusServiceUnavailable},
		{"database down", &database.ConnectError{Attempts: 1, Err: errors.New("refused")}, http.StatusServiceUnavailable},
		{"too large with limit", fmt.Errorf("%w (limit 10 MB)", jobs.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{"unknown template", templates.ErrNotFound, http.StatusNotFound},
		{"bad template", &workflow.ConfigurationError{Reasons: []string{"x"}}, http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobs.MapHTTPStatus(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   jobs.ErrorKind
		status engine.Status
	}{
		{"timeout", &engine.TimeoutError{PromptID: "p", Timeout: time.Minute}, jobs.KindTimeout, engine.StatusTimedOut},
		{"submission", &engine.SubmissionError{Op: "submit", StatusCode: 400}, jobs.KindSubmission, engine.StatusFailed},
		{"execution", &engine.ExecutionError{PromptID: "p"}, jobs.KindExecution, engine.StatusFailed},
		{"configuration", &workflow.ConfigurationError{}, jobs.KindConfiguration, engine.StatusFailed},
		{"no result", &workflow.NoResultError{}, jobs.KindNoResult, engine.StatusFailed},
		{"wrapped execution", fmt.Errorf("run: %w", &engine.ExecutionError{}), jobs.KindExecution, engine.StatusFailed},
		{"cancelled", context.Canceled, jobs.KindInternal, engine.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, status := jobs.Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestFiltersFromQuery(t *testing.T) {
	t.Run("all params present", func(t *testing.T) {
		values := url.Values{
			"status":         {"failed, timed_out,"},
			"template":       {"restore"},
			"error_kind":     {"timeout"},
			"created_after":  {"2026-01-01T00:00:00Z"},
			"created_before": {"2026-02-01T00:00:00Z"},
		}

		f := jobs.FiltersFromQuery(values)

		assert.Equal(t, []string{"failed", "timed_out"}, f.Status)
		assert.Equal(t, ptr("restore"), f.Template)
		assert.Equal(t, ptr("timeout"), f.ErrorKind)
		require.NotNil(t, f.CreatedAfter)
		assert.Equal(t, 2026, f.CreatedAfter.Year())
		require.NotNil(t, f.CreatedBefore)
		assert.Equal(t, time.February, f.CreatedBefore.Month())
	})

	t.Run("empty and malformed params", func(t *testing.T) {
		f := jobs.FiltersFromQuery(url.Values{"created_after": {"yesterday"}})

		assert.Nil(t, f.Status)
		assert.Nil(t, f.Template)
		assert.Nil(t, f.CreatedAfter)
	})
}
