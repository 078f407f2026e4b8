package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newFetchRepo(srv *httptest.Server) *repo {
	return &repo{
		maxUploadSize: 64,
		extensions:    []string{"jpg", "jpeg", "png", "webp"},
		fetch:         srv.Client(),
	}
}

func TestFetchImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	})
	mux.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("\xff\xd8\xff"))
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(strings.Repeat("x", 200)))
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	r := newFetchRepo(srv)

	t.Run("keeps url filename", func(t *testing.T) {
		img, err := r.fetchImage(context.Background(), srv.URL+"/photo.png")
		require.NoError(t, err)
		assert.Equal(t, "photo.png", img.name)
		assert.Equal(t, "image/png", img.contentType)
		assert.Equal(t, pngHeader, img.data)
	})

	t.Run("derives name from media type", func(t *testing.T) {
		img, err := r.fetchImage(context.Background(), srv.URL+"/render")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", img.contentType)
		assert.True(t, strings.HasPrefix(img.name, "image."))
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			url    string
			target error
		}{
			{"not an image", srv.URL + "/page.html", ErrInvalidImage},
			{"too large", srv.URL + "/huge.png", ErrFileTooLarge},
			{"missing", srv.URL + "/absent.png", ErrFetch},
			{"bad scheme", "file:///etc/passwd", ErrInvalidImage},
			{"no host", "http:///photo.png", ErrInvalidImage},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := r.fetchImage(context.Background(), tt.url)
				assert.ErrorIs(t, err, tt.target)
			})
		}
	})

	t.Run("timeout", func(t *testing.T) {
		slow := newFetchRepo(srv)
		slow.fetch = &http.Client{Timeout: 50 * time.Millisecond}

		_, err := slow.fetchImage(context.Background(), srv.URL+"/slow.png")
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func TestCreateFromURLRequiresInstruction(t *testing.T) {
	r := &repo{}
	_, err := r.CreateFromURL(context.Background(), URLCommand{ImageURL: "https://example.com/a.png", Instruction: "  "})
	assert.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestValidate(t *testing.T) {
	r := &repo{maxUploadSize: 64, extensions: []string{"png", "jpg"}}

	tests := []struct {
		name   string
		cmd    CreateCommand
		target error
	}{
		{"blank instruction", CreateCommand{Data: pngHeader, Filename: "a.png", Instruction: " "}, ErrInvalidInstruction},
		{"empty file", CreateCommand{Filename: "a.png", Instruction: "x"}, ErrInvalidImage},
		{"too large", CreateCommand{Data: make([]byte, 65), Filename: "a.png", Instruction: "x"}, ErrFileTooLarge},
		{"extension", CreateCommand{Data: pngHeader, Filename: "a.gif", Instruction: "x"}, ErrInvalidImage},
		{"not an image", CreateCommand{Data: []byte("plain text"), Filename: "a.png", Instruction: "x"}, ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.validate(&tt.cmd), tt.target)
		})
	}

	cmd := CreateCommand{Data: pngHeader, Filename: "A.PNG", Instruction: "  fix  "}
	require.NoError(t, r.validate(&cmd))
	assert.Equal(t, "fix", cmd.Instruction)
	assert.Equal(t, "image/png", cmd.ContentType)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"photo.png":     "photo.png",
		"dir/photo.png": "photo.png",
		"my photo.png":  "my%20photo.png",
		"evil...png":    "evil.png",
		"":              "image",
		"/":             "image",
	}

	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
}

func TestThrottle(t *testing.T) {
	th := newThrottle(time.Hour)

	assert.True(t, th.allow(false))
	assert.False(t, th.allow(false))
	assert.True(t, th.allow(true))
}
