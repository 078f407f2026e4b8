package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JaimeStill/mender/pkg/middleware"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestApplyOrder(t *testing.T) {
	var order []string
	var mw middleware.Stack

	for _, name := range []string{"first", "second"} {
		mw.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		})
	}

	handler := mw.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestCORS(t *testing.T) {
	full := middleware.CORSConfig{
		Enabled:        true,
		Origins:        []string{"http://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         3600,
	}

	tests := []struct {
		name      string
		cfg       middleware.CORSConfig
		method    string
		origin    string
		status    int
		reachNext bool
		headers   map[string]string
	}{
		{
			name:      "disabled",
			cfg:       middleware.CORSConfig{Enabled: false, Origins: []string{"http://example.com"}},
			method:    "GET",
			origin:    "http://example.com",
			status:    http.StatusOK,
			reachNext: true,
			headers:   map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:      "allowed origin",
			cfg:       full,
			method:    "GET",
			origin:    "http://example.com",
			status:    http.StatusOK,
			reachNext: true,
			headers: map[string]string{
				"Access-Control-Allow-Origin":  "http://example.com",
				"Access-Control-Allow-Methods": "",
				"Vary":                         "Origin",
			},
		},
		{
			name:      "disallowed origin",
			cfg:       middleware.CORSConfig{Enabled: true, Origins: []string{"http://allowed.com"}},
			method:    "GET",
			origin:    "http://denied.com",
			status:    http.StatusOK,
			reachNext: true,
			headers:   map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:      "wildcard",
			cfg:       middleware.CORSConfig{Enabled: true, Origins: []string{"*"}},
			method:    "GET",
			origin:    "http://anything.dev",
			status:    http.StatusOK,
			reachNext: true,
			headers:   map[string]string{"Access-Control-Allow-Origin": "http://anything.dev"},
		},
		{
			name:      "credentials",
			cfg:       middleware.CORSConfig{Enabled: true, Origins: []string{"http://example.com"}, AllowCredentials: true},
			method:    "GET",
			origin:    "http://example.com",
			status:    http.StatusOK,
			reachNext: true,
			headers:   map[string]string{"Access-Control-Allow-Credentials": "true"},
		},
		{
			name:   "preflight",
			cfg:    full,
			method: "OPTIONS",
			origin: "http://example.com",
			status: http.StatusNoContent,
			headers: map[string]string{
				"Access-Control-Allow-Methods": "GET, POST",
				"Access-Control-Allow-Headers": "Content-Type",
				"Access-Control-Max-Age":       "3600",
			},
		},
		{
			name:   "preflight disallowed",
			cfg:    full,
			method: "OPTIONS",
			origin: "http://denied.com",
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reached bool
			handler := middleware.CORS(&tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.reachNext, reached)
			for k, want := range tt.headers {
				assert.Equal(t, want, rec.Header().Get(k), k)
			}
		})
	}
}

func TestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := middleware.Logger(logger)(okHandler(http.StatusServiceUnavailable))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, buf.String(), "status=503")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "uri=/api/jobs")
}

func TestLoggerImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := middleware.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Contains(t, buf.String(), "status=200")
	assert.Contains(t, buf.String(), "bytes=5")
	assert.Contains(t, buf.String(), "level=INFO")
}

func TestTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	handler := middleware.Trace(tp.Tracer("test"))(okHandler(http.StatusInternalServerError))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/jobs", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/jobs", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestTraceNilTracer(t *testing.T) {
	handler := middleware.Trace(nil)(okHandler(http.StatusTeapot))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCORSConfigFinalizeDefaults(t *testing.T) {
	cfg := middleware.CORSConfig{}
	require.NoError(t, cfg.Finalize(nil))

	assert.Equal(t, []string{"GET", "POST", "DELETE", "OPTIONS"}, cfg.AllowedMethods)
	assert.Len(t, cfg.AllowedHeaders, 2)
	assert.Equal(t, 3600, cfg.MaxAge)
}

func TestCORSConfigFinalizeEnv(t *testing.T) {
	t.Setenv("TEST_CORS_ENABLED", "true")
	t.Setenv("TEST_CORS_ORIGINS", "http://a.com, ,http://b.com")
	t.Setenv("TEST_CORS_CREDS", "true")

	env := &middleware.CORSEnv{
		Enabled:          "TEST_CORS_ENABLED",
		Origins:          "TEST_CORS_ORIGINS",
		AllowCredentials: "TEST_CORS_CREDS",
	}

	cfg := middleware.CORSConfig{}
	require.NoError(t, cfg.Finalize(env))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"http://a.com", "http://b.com"}, cfg.Origins)
	assert.True(t, cfg.AllowCredentials)
}

func TestCORSConfigMerge(t *testing.T) {
	base := middleware.CORSConfig{
		Origins:        []string{"http://base.com"},
		AllowedMethods: []string{"GET"},
		MaxAge:         3600,
	}
	base.Merge(&middleware.CORSConfig{
		Enabled: true,
		Origins: []string{"http://overlay.com"},
		MaxAge:  7200,
	})

	assert.True(t, base.Enabled)
	assert.Equal(t, []string{"http://overlay.com"}, base.Origins)
	assert.Equal(t, []string{"GET"}, base.AllowedMethods)
	assert.Equal(t, 7200, base.MaxAge)
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, raw string) (*oidc.IDToken, error) {
	if raw != "good" {
		return nil, errors.New("invalid token")
	}
	return &oidc.IDToken{Subject: "user-1"}, nil
}

func TestAuth(t *testing.T) {
	var subject string
	handler := middleware.Auth(fakeVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.Subject(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"rejected", "Bearer bad", http.StatusUnauthorized},
		{"accepted", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "user-1", subject)
}

func TestAuthNilVerifier(t *testing.T) {
	handler := middleware.Auth(nil)(okHandler(http.StatusOK))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthConfigFinalize(t *testing.T) {
	cfg := middleware.AuthConfig{Enabled: true, Issuer: "https://issuer.example"}
	assert.Error(t, cfg.Finalize(nil), "audience required")

	t.Setenv("TEST_AUTH_AUDIENCE", "mender")
	require.NoError(t, cfg.Finalize(&middleware.AuthEnv{Audience: "TEST_AUTH_AUDIENCE"}))
	assert.Equal(t, "mender", cfg.Audience)

	disabled := middleware.AuthConfig{}
	require.NoError(t, disabled.Finalize(nil))
	v, err := middleware.NewVerifier(t.Context(), &disabled)
	require.NoError(t, err)
	assert.Nil(t, v)
}
