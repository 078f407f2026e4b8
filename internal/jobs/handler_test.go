package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/mender/internal/jobs"
	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/pagination"
	"github.com/JaimeStill/mender/pkg/routes"
	"github.com/JaimeStill/mender/pkg/storage"
)

type mockSystem struct {
	listFn    func(ctx context.Context, page pagination.PageRequest, filters jobs.Filters) (*pagination.PageResult[jobs.Job], error)
	findFn    func(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	createFn  func(ctx context.Context, cmd jobs.CreateCommand) (*jobs.Job, error)
	fromURLFn func(ctx context.Context, cmd jobs.URLCommand) (*jobs.Job, error)
	resultFn  func(ctx context.Context, id uuid.UUID) (*storage.Blob, error)
	deleteFn  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockSystem) Handler() *jobs.Handler               { return newTestHandler(m) }
func (m *mockSystem) Start(*lifecycle.Coordinator) error   { return nil }
func (m *mockSystem) Recover(context.Context) (int, error) { return 0, nil }

func (m *mockSystem) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters jobs.Filters) (*pagination.PageResult[jobs.Job], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) Create(ctx context.Context, cmd jobs.CreateCommand) (*jobs.Job, error) {
	return m.createFn(ctx, cmd)
}

func (m *mockSystem) CreateFromURL(ctx context.Context, cmd jobs.URLCommand) (*jobs.Job, error) {
	return m.fromURLFn(ctx, cmd)
}

func (m *mockSystem) Result(ctx context.Context, id uuid.UUID) (*storage.Blob, error) {
	return m.resultFn(ctx, id)
}

func newTestHandler(sys jobs.System) *jobs.Handler {
	return jobs.NewHandler(
		sys,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
		1024*1024,
	)
}

func setupMux(sys jobs.System) *http.ServeMux {
	mux := http.NewServeMux()
	routes.Register(mux, newTestHandler(sys).Routes())
	return mux
}

var sampleID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

func sampleJob() *jobs.Job {
	return &jobs.Job{
		ID:            sampleID,
		Template:      "restore",
		Instruction:   "remove the scratches",
		InputFilename: "photo.png",
		InputKey:      "jobs/550e8400-e29b-41d4-a716-446655440000/input/photo.png",
		Status:        engine.StatusPending,
		CreatedAt:     time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandlerList(t *testing.T) {
	var (
		capturedPage    pagination.PageRequest
		capturedFilters jobs.Filters
	)
	sys := &mockSystem{
		listFn: func(_ context.Context, page pagination.PageRequest, f jobs.Filters) (*pagination.PageResult[jobs.Job], error) {
			capturedPage, capturedFilters = page, f
			result := pagination.NewPageResult([]jobs.Job{*sampleJob()}, 1, 1, 20)
			return &result, nil
		},
	}

	rec := httptest.NewRecorder()
	setupMux(sys).ServeHTTP(rec, httptest.NewRequest("GET", "/jobs?status=failed&template=restore&sort=-created_at&page_size=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var result pagination.PageResult[jobs.Job]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, sampleID, result.Data[0].ID)

	assert.Equal(t, 5, capturedPage.PageSize)
	require.Len(t, capturedPage.Sort, 1)
	assert.True(t, capturedPage.Sort[0].Descending)
	assert.Equal(t, []string{"failed"}, capturedFilters.Status)
	assert.Equal(t, "restore", *capturedFilters.Template)
}

func TestHandlerFind(t *testing.T) {
	sys := &mockSystem{
		findFn: func(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
			if id != sampleID {
				return nil, jobs.ErrNotFound
			}
			return sampleJob(), nil
		},
	}
	mux := setupMux(sys)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"found", "/jobs/" + sampleID.String(), http.StatusOK},
		{"not found", "/jobs/" + uuid.NewString(), http.StatusNotFound},
		{"invalid id", "/jobs/not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlerUpload(t *testing.T) {
	var captured jobs.CreateCommand
	sys := &mockSystem{
		createFn: func(_ context.Context, cmd jobs.CreateCommand) (*jobs.Job, error) {
			captured = cmd
			return sampleJob(), nil
		},
	}

	body, contentType := multipartBody(t, map[string]string{
		"instruction": "remove the scratches",
		"template":    "restore",
	}, "photo.png", []byte("\x89PNG\r\n\x1a\nrest"))

	req := httptest.NewRequest("POST", "/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	setupMux(sys).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "photo.png", captured.Filename)
	assert.Equal(t, "remove the scratches", captured.Instruction)
	assert.Equal(t, "restore", captured.Template)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\nrest"), captured.Data)

	var job jobs.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, engine.StatusPending, job.Status)
}

func TestHandlerUploadErrors(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"instruction": "x"}, "", nil)
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		setupMux(&mockSystem{}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, "big.png", bytes.Repeat([]byte{0}, 3*1024*1024))
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		setupMux(&mockSystem{}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("system busy", func(t *testing.T) {
		sys := &mockSystem{
			createFn: func(context.Context, jobs.CreateCommand) (*jobs.Job, error) {
				return nil, jobs.ErrBusy
			},
		}
		body, contentType := multipartBody(t, map[string]string{"instruction": "x"}, "photo.png", []byte("data"))
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		setupMux(sys).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandlerFromURL(t *testing.T) {
	var captured jobs.URLCommand
	sys := &mockSystem{
		fromURLFn: func(_ context.Context, cmd jobs.URLCommand) (*jobs.Job, error) {
			captured = cmd
			return sampleJob(), nil
		},
	}
	mux := setupMux(sys)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs/url",
		strings.NewReader(`{"image_url":"https://example.com/a.png","instruction":"fix"}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://example.com/a.png", captured.ImageURL)
	assert.Equal(t, "fix", captured.Instruction)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs/url", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerResult(t *testing.T) {
	t.Run("streams blob", func(t *testing.T) {
		sys := &mockSystem{
			resultFn: func(context.Context, uuid.UUID) (*storage.Blob, error) {
				return &storage.Blob{
					Name:          "restored%20photo.png",
					Body:          io.NopCloser(strings.NewReader("pixels")),
					ContentType:   "image/png",
					ContentLength: 6,
				}, nil
			},
		}

		rec := httptest.NewRecorder()
		setupMux(sys).ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/"+sampleID.String()+"/result", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "6", rec.Header().Get("Content-Length"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "restored photo.png")
		assert.Equal(t, "pixels", rec.Body.String())
	})

	t.Run("no result yet", func(t *testing.T) {
		sys := &mockSystem{
			resultFn: func(context.Context, uuid.UUID) (*storage.Blob, error) {
				return nil, jobs.ErrNoResult
			},
		}

		rec := httptest.NewRecorder()
		setupMux(sys).ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/"+sampleID.String()+"/result", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandlerDelete(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"still running", jobs.ErrActive, http.StatusConflict},
		{"missing", jobs.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := &mockSystem{deleteFn: func(context.Context, uuid.UUID) error { return tt.err }}

			rec := httptest.NewRecorder()
			setupMux(sys).ServeHTTP(rec, httptest.NewRequest("DELETE", "/jobs/"+sampleID.String(), nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
