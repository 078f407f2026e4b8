package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/mender/internal/config"
)

const baseConfig = `
shutdown_timeout = "20s"
version = "0.2.0"

[server]
port = 8080
log_level = "debug"

[database]
name = "mender"
user = "mender"
password = "mender"

[storage]
container_name = "results"
connection_string = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

[api]
max_upload_size = "5MB"

[api.pagination]
default_page_size = 25
max_page_size = 50

[engine]
base_url = "http://comfy:8188"
transport = "poll"
timeout = "5m"

[templates]
dir = "workflows"
watch = true

[jobs]
max_concurrent = 2
allowed_extensions = [".PNG", "jpg"]
`

const overlayConfig = `
[server]
port = 9090

[engine]
base_url = "http://comfy-gpu:8188"

[jobs]
max_concurrent = 8
`

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return filepath.Join(dir, config.BaseConfigFile)
}

func TestLoadBase(t *testing.T) {
	path := writeConfig(t, map[string]string{config.BaseConfigFile: baseConfig})

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.ShutdownTimeoutDuration())
	assert.Equal(t, "0.2.0", cfg.Version)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "text", cfg.Server.LogFormat)
	assert.Equal(t, "results", cfg.Storage.ContainerName)
	assert.Equal(t, int64(5*1024*1024), cfg.API.MaxUploadSizeBytes())
	assert.Equal(t, 25, cfg.API.Pagination.DefaultPageSize)
	assert.Equal(t, "http://comfy:8188", cfg.Engine.BaseURL)
	assert.Equal(t, "poll", cfg.Engine.Transport)
	assert.Equal(t, 5*time.Minute, cfg.Engine.TimeoutDuration())
	assert.Equal(t, "workflows", cfg.Templates.Dir)
	assert.Equal(t, "restore", cfg.Templates.Default)
	assert.True(t, cfg.Templates.Watch)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, []string{"png", "jpg"}, cfg.Jobs.AllowedExtensions)
}

func TestLoadOverlay(t *testing.T) {
	t.Setenv(config.EnvMenderEnv, "prod")
	path := writeConfig(t, map[string]string{
		config.BaseConfigFile: baseConfig,
		"config.prod.toml":    overlayConfig,
	})

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://comfy-gpu:8188", cfg.Engine.BaseURL)
	assert.Equal(t, "poll", cfg.Engine.Transport)
	assert.Equal(t, 8, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "prod", cfg.Env())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MENDER_SERVER_PORT", "7000")
	t.Setenv("MENDER_ENGINE_TRANSPORT", "websocket")
	t.Setenv("MENDER_TEMPLATES_WATCH", "false")
	t.Setenv("MENDER_JOBS_ALLOWED_EXTENSIONS", "png, webp")
	t.Setenv("MENDER_DB_URL", "postgres://u:p@db:5432/mender")

	path := writeConfig(t, map[string]string{config.BaseConfigFile: baseConfig})
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "websocket", cfg.Engine.Transport)
	assert.False(t, cfg.Templates.Watch)
	assert.Equal(t, []string{"png", "webp"}, cfg.Jobs.AllowedExtensions)
	assert.Equal(t, "postgres://u:p@db:5432/mender", cfg.Database.Dsn())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("MENDER_DB_NAME", "mender")
	t.Setenv("MENDER_DB_USER", "mender")
	t.Setenv("MENDER_STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")

	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), config.BaseConfigFile))
	require.NoError(t, err)

	assert.Equal(t, "/api", cfg.API.BasePath)
	assert.Equal(t, int64(10*1024*1024), cfg.API.MaxUploadSizeBytes())
	assert.Equal(t, "http://localhost:8188", cfg.Engine.BaseURL)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Jobs.FetchTimeoutDuration())
	assert.Equal(t, 10*time.Minute, cfg.Templates.CacheTTLDuration())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"bad log level", "[server]\nlog_level = \"loud\"\n"},
		{"bad log format", "[server]\nlog_format = \"xml\"\n"},
		{"bad upload size", "[api]\nmax_upload_size = \"lots\"\n"},
		{"zero upload size", "[api]\nmax_upload_size = \"0\"\n"},
		{"nested base path", "[api]\nbase_path = \"/api/v1\"\n"},
		{"relative base path", "[api]\nbase_path = \"api\"\n"},
		{"bad engine transport", "[engine]\ntransport = \"pigeon\"\n"},
		{"bad cache ttl", "[templates]\ncache_ttl = \"0s\"\n"},
		{"bad concurrency", "[jobs]\nmax_concurrent = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := "[database]\nname = \"m\"\nuser = \"m\"\n[storage]\nconnection_string = \"x\"\n" + tt.extra
			path := writeConfig(t, map[string]string{config.BaseConfigFile: body})

			_, err := config.LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, map[string]string{config.BaseConfigFile: "[server\nport = "})
	_, err := config.LoadFile(path)
	assert.Error(t, err)
}

func TestLoadLocalSkipsServiceSections(t *testing.T) {
	path := writeConfig(t, map[string]string{config.BaseConfigFile: "[engine]\nbase_url = \"http://gpu:8188\"\n"})

	_, err := config.LoadFile(path)
	assert.Error(t, err, "database settings are required for the service")

	cfg, err := config.LoadLocal(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu:8188", cfg.Engine.BaseURL)
	assert.Equal(t, "restore", cfg.Templates.Default)
}

func TestServerConfig(t *testing.T) {
	t.Setenv(config.EnvServerLogSource, "true")
	t.Setenv(config.EnvServerReadHeaderTimeout, "3s")

	cfg := config.ServerConfig{Host: "::1", WriteTimeout: "20m"}
	cfg.Merge(&config.ServerConfig{Port: 9000, LogLevel: "warn"})
	require.NoError(t, cfg.Finalize())

	assert.Equal(t, "[::1]:9000", cfg.Addr())
	assert.Equal(t, 20*time.Minute, cfg.WriteTimeoutDuration())
	assert.Equal(t, time.Minute, cfg.ReadTimeoutDuration())
	assert.Equal(t, 3*time.Second, cfg.ReadHeaderTimeoutDuration())
	assert.Equal(t, slog.LevelWarn, cfg.Level())
	assert.True(t, cfg.LogSource)

	bad := config.ServerConfig{ReadHeaderTimeout: "soon"}
	assert.ErrorContains(t, bad.Finalize(), "read_header_timeout")
}
