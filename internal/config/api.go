package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/JaimeStill/mender/pkg/formatting"
	"github.com/JaimeStill/mender/pkg/middleware"
	"github.com/JaimeStill/mender/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "MENDER_CORS_ENABLED",
	Origins:          "MENDER_CORS_ORIGINS",
	AllowedMethods:   "MENDER_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "MENDER_CORS_ALLOWED_HEADERS",
	AllowCredentials: "MENDER_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "MENDER_CORS_MAX_AGE",
}

var authEnv = &middleware.AuthEnv{
	Enabled:  "MENDER_AUTH_ENABLED",
	Issuer:   "MENDER_AUTH_ISSUER",
	Audience: "MENDER_AUTH_AUDIENCE",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "MENDER_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "MENDER_PAGINATION_MAX_PAGE_SIZE",
	MaxSearchLength: "MENDER_PAGINATION_MAX_SEARCH_LENGTH",
}

// APIConfig holds the HTTP API surface: mount point, upload bound, and the
// nested CORS, auth and pagination sections.
type APIConfig struct {
	// BasePath is the single-segment prefix the API module mounts at.
	BasePath      string                `toml:"base_path"`
	MaxUploadSize string                `toml:"max_upload_size"`
	CORS          middleware.CORSConfig `toml:"cors"`
	Auth          middleware.AuthConfig `toml:"auth"`
	Pagination    pagination.Config     `toml:"pagination"`

	maxUploadBytes int64
}

// MaxUploadSizeBytes bounds uploaded and fetched input images.
func (c *APIConfig) MaxUploadSizeBytes() int64 {
	if c.maxUploadBytes > 0 {
		return c.maxUploadBytes
	}
	if size, err := formatting.ParseBytes(c.MaxUploadSize); err == nil && size > 0 {
		return size
	}
	return defaultMaxUpload
}

const defaultMaxUpload = 10 << 20

// Finalize resolves the API section and each nested section in turn.
func (c *APIConfig) Finalize() error {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = formatting.FormatBytes(defaultMaxUpload, 0)
	}
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}

	nested := []struct {
		name     string
		finalize func() error
	}{
		{"cors", func() error { return c.CORS.Finalize(corsEnv) }},
		{"auth", func() error { return c.Auth.Finalize(authEnv) }},
		{"pagination", func() error { return c.Pagination.Finalize(paginationEnv) }},
	}
	for _, n := range nested {
		if err := n.finalize(); err != nil {
			return fmt.Errorf("%s: %w", n.name, err)
		}
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MaxUploadSize != "" {
		c.MaxUploadSize = overlay.MaxUploadSize
	}

	c.CORS.Merge(&overlay.CORS)
	c.Auth.Merge(&overlay.Auth)
	c.Pagination.Merge(&overlay.Pagination)
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("MENDER_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("MENDER_API_MAX_UPLOAD_SIZE"); v != "" {
		c.MaxUploadSize = v
	}
}

func (c *APIConfig) validate() error {
	rest, ok := strings.CutPrefix(c.BasePath, "/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return fmt.Errorf("base_path %q must be a single segment such as /api", c.BasePath)
	}

	size, err := formatting.ParseBytes(c.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("max_upload_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}
	c.maxUploadBytes = size
	return nil
}
