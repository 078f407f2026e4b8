package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvServerHost              = "MENDER_SERVER_HOST"
	EnvServerPort              = "MENDER_SERVER_PORT"
	EnvServerReadTimeout       = "MENDER_SERVER_READ_TIMEOUT"
	EnvServerReadHeaderTimeout = "MENDER_SERVER_READ_HEADER_TIMEOUT"
	EnvServerWriteTimeout      = "MENDER_SERVER_WRITE_TIMEOUT"
	EnvServerShutdownTimeout   = "MENDER_SERVER_SHUTDOWN_TIMEOUT"
	EnvServerLogLevel          = "MENDER_SERVER_LOG_LEVEL"
	EnvServerLogFormat         = "MENDER_SERVER_LOG_FORMAT"
	EnvServerLogSource         = "MENDER_SERVER_LOG_SOURCE"
)

// ServerConfig holds HTTP listener and process logging settings. The CLI
// reads only the logging fields.
type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	ReadTimeout       string `toml:"read_timeout"`
	ReadHeaderTimeout string `toml:"read_header_timeout"`
	// WriteTimeout must outlast result downloads of large images.
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	LogLevel        string `toml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`
	LogSource bool   `toml:"log_source"`
}

func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return mustDuration(c.ReadTimeout)
}

func (c *ServerConfig) ReadHeaderTimeoutDuration() time.Duration {
	return mustDuration(c.ReadHeaderTimeout)
}

func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return mustDuration(c.WriteTimeout)
}

func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(c.ShutdownTimeout)
}

// Level returns LogLevel as a slog.Level, falling back to info.
func (c *ServerConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ServerConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ServerConfig) Merge(overlay *ServerConfig) {
	if overlay.Host != "" {
		c.Host = overlay.Host
	}
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	for dst, v := range c.stringFields(overlay) {
		if v != "" {
			*dst = v
		}
	}
	if overlay.LogSource {
		c.LogSource = true
	}
}

// stringFields pairs each string field of c with the same field of other.
func (c *ServerConfig) stringFields(other *ServerConfig) map[*string]string {
	return map[*string]string{
		&c.ReadTimeout:       other.ReadTimeout,
		&c.ReadHeaderTimeout: other.ReadHeaderTimeout,
		&c.WriteTimeout:      other.WriteTimeout,
		&c.ShutdownTimeout:   other.ShutdownTimeout,
		&c.LogLevel:          other.LogLevel,
		&c.LogFormat:         other.LogFormat,
	}
}

func (c *ServerConfig) loadDefaults() {
	defaults := ServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		ReadTimeout:       "1m",
		ReadHeaderTimeout: "10s",
		WriteTimeout:      "15m",
		ShutdownTimeout:   "30s",
		LogLevel:          "info",
		LogFormat:         "text",
	}
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	for dst, v := range c.stringFields(&defaults) {
		if *dst == "" {
			*dst = v
		}
	}
}

func (c *ServerConfig) loadEnv() {
	for name, dst := range map[string]*string{
		EnvServerHost:              &c.Host,
		EnvServerReadTimeout:       &c.ReadTimeout,
		EnvServerReadHeaderTimeout: &c.ReadHeaderTimeout,
		EnvServerWriteTimeout:      &c.WriteTimeout,
		EnvServerShutdownTimeout:   &c.ShutdownTimeout,
		EnvServerLogLevel:          &c.LogLevel,
		EnvServerLogFormat:         &c.LogFormat,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if port, err := strconv.Atoi(os.Getenv(EnvServerPort)); err == nil {
		c.Port = port
	}
	if b, err := strconv.ParseBool(os.Getenv(EnvServerLogSource)); err == nil {
		c.LogSource = b
	}
}

func (c *ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	for _, d := range []struct{ name, value string }{
		{"read_timeout", c.ReadTimeout},
		{"read_header_timeout", c.ReadHeaderTimeout},
		{"write_timeout", c.WriteTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q: want text or json", c.LogFormat)
	}
	return nil
}

// mustDuration parses a duration already checked by validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
