package engine

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

const (
	TransportWebSocket = "websocket"
	TransportPoll      = "poll"
)

// Config holds connection and tracking parameters for the engine.
type Config struct {
	BaseURL           string `toml:"base_url"`
	ClientID          string `toml:"client_id"`
	Transport         string `toml:"transport"`
	Timeout           string `toml:"timeout"`
	PollInterval      string `toml:"poll_interval"`
	ReconcileInterval string `toml:"reconcile_interval"`
	RequestTimeout    string `toml:"request_timeout"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BaseURL           string
	ClientID          string
	Transport         string
	Timeout           string
	PollInterval      string
	ReconcileInterval string
	RequestTimeout    string
}

// TimeoutDuration returns the per-job deadline.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// PollIntervalDuration returns the history polling period.
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// ReconcileIntervalDuration returns how often the event watcher confirms
// state through history while waiting for events.
func (c *Config) ReconcileIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.ReconcileInterval)
	return d
}

// RequestTimeoutDuration returns the timeout of a single HTTP request.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.Transport != "" {
		c.Transport = overlay.Transport
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.PollInterval != "" {
		c.PollInterval = overlay.PollInterval
	}
	if overlay.ReconcileInterval != "" {
		c.ReconcileInterval = overlay.ReconcileInterval
	}
	if overlay.RequestTimeout != "" {
		c.RequestTimeout = overlay.RequestTimeout
	}
}

func (c *Config) loadDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8188"
	}
	if c.ClientID == "" {
		c.ClientID = "mender"
	}
	if c.Transport == "" {
		c.Transport = TransportWebSocket
	}
	if c.Timeout == "" {
		c.Timeout = "10m"
	}
	if c.PollInterval == "" {
		c.PollInterval = "2s"
	}
	if c.ReconcileInterval == "" {
		c.ReconcileInterval = "15s"
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = "30s"
	}
}

func (c *Config) loadEnv(env *Env) {
	set := func(name string, field *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	set(env.BaseURL, &c.BaseURL)
	set(env.ClientID, &c.ClientID)
	set(env.Transport, &c.Transport)
	set(env.Timeout, &c.Timeout)
	set(env.PollInterval, &c.PollInterval)
	set(env.ReconcileInterval, &c.ReconcileInterval)
	set(env.RequestTimeout, &c.RequestTimeout)
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https: %s", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url has no host: %s", c.BaseURL)
	}

	switch c.Transport {
	case TransportWebSocket, TransportPoll:
	default:
		return fmt.Errorf("invalid transport: %s", c.Transport)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"timeout", c.Timeout},
		{"poll_interval", c.PollInterval},
		{"reconcile_interval", c.ReconcileInterval},
		{"request_timeout", c.RequestTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	return nil
}
