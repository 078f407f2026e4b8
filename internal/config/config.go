package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/mender/pkg/database"
	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/storage"
	"github.com/JaimeStill/mender/pkg/tracing"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvMenderEnv             = "MENDER_ENV"
	EnvMenderShutdownTimeout = "MENDER_SHUTDOWN_TIMEOUT"
	EnvMenderVersion         = "MENDER_VERSION"

	// EnvDatabaseURL holds a complete connection string and takes precedence
	// over the individual MENDER_DB_* settings.
	EnvDatabaseURL = "MENDER_DB_URL"
)

var databaseEnv = &database.Env{
	URL:             EnvDatabaseURL,
	Host:            "MENDER_DB_HOST",
	Port:            "MENDER_DB_PORT",
	Name:            "MENDER_DB_NAME",
	User:            "MENDER_DB_USER",
	Password:        "MENDER_DB_PASSWORD",
	SSLMode:         "MENDER_DB_SSL_MODE",
	MaxOpenConns:    "MENDER_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "MENDER_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "MENDER_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "MENDER_DB_CONN_TIMEOUT",
	AutoMigrate:     "MENDER_DB_AUTO_MIGRATE",
}

var storageEnv = &storage.Env{
	ContainerName:    "MENDER_STORAGE_CONTAINER_NAME",
	ConnectionString: "MENDER_STORAGE_CONNECTION_STRING",
	AccountURL:       "MENDER_STORAGE_ACCOUNT_URL",
	Prefix:           "MENDER_STORAGE_PREFIX",
}

var engineEnv = &engine.Env{
	BaseURL:           "MENDER_ENGINE_BASE_URL",
	ClientID:          "MENDER_ENGINE_CLIENT_ID",
	Transport:         "MENDER_ENGINE_TRANSPORT",
	Timeout:           "MENDER_ENGINE_TIMEOUT",
	PollInterval:      "MENDER_ENGINE_POLL_INTERVAL",
	ReconcileInterval: "MENDER_ENGINE_RECONCILE_INTERVAL",
	RequestTimeout:    "MENDER_ENGINE_REQUEST_TIMEOUT",
}

var tracingEnv = &tracing.Env{
	Enabled:      "MENDER_TRACING_ENABLED",
	Exporter:     "MENDER_TRACING_EXPORTER",
	OTLPEndpoint: "MENDER_TRACING_OTLP_ENDPOINT",
	SampleRate:   "MENDER_TRACING_SAMPLE_RATE",
	ServiceName:  "MENDER_TRACING_SERVICE_NAME",
}

// Config is the root configuration for the mender service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Engine          engine.Config   `toml:"engine"`
	Templates       TemplatesConfig `toml:"templates"`
	Jobs            JobsConfig      `toml:"jobs"`
	Tracing         tracing.Config  `toml:"tracing"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
}

// Env returns the MENDER_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvMenderEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	return LoadFile(BaseConfigFile)
}

// LoadFile is Load with an explicit base config path. The overlay is looked
// up next to the base file.
func LoadFile(base string) (*Config, error) {
	cfg, err := read(base)
	if err != nil {
		return nil, err
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// LoadLocal reads the same files as LoadFile but finalizes only the sections
// a command-line client needs: server logging, engine, templates and
// tracing. Database and storage settings are left unvalidated.
func LoadLocal(base string) (*Config, error) {
	cfg, err := read(base)
	if err != nil {
		return nil, err
	}

	if err := cfg.finalizeLocal(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

func read(base string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(base); err == nil {
		loaded, err := load(base)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(base); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Engine.Merge(&overlay.Engine)
	c.Templates.Merge(&overlay.Templates)
	c.Jobs.Merge(&overlay.Jobs)
	c.Tracing.Merge(&overlay.Tracing)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Engine.Finalize(engineEnv); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Templates.Finalize(); err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	if err := c.Jobs.Finalize(); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	if err := c.Tracing.Finalize(tracingEnv); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}
func (c *Config) finalizeLocal() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Engine.Finalize(engineEnv); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Templates.Finalize(); err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	if err := c.Tracing.Finalize(tracingEnv); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvMenderShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvMenderVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath(base string) string {
	if env := os.Getenv(EnvMenderEnv); env != "" {
		path := filepath.Join(filepath.Dir(base), fmt.Sprintf(OverlayConfigPattern, env))
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
