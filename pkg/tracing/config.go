package tracing

import (
	"fmt"
	"os"
	"strconv"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config selects whether spans are recorded and where they are exported.
type Config struct {
	Enabled      bool    `toml:"enabled"`
	Exporter     string  `toml:"exporter"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	SampleRate   float64 `toml:"sample_rate"`
	ServiceName  string  `toml:"service_name"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled      string
	Exporter     string
	OTLPEndpoint string
	SampleRate   string
	ServiceName  string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. Enabled can only be switched
// on by an overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Exporter != "" {
		c.Exporter = overlay.Exporter
	}
	if overlay.OTLPEndpoint != "" {
		c.OTLPEndpoint = overlay.OTLPEndpoint
	}
	if overlay.SampleRate != 0 {
		c.SampleRate = overlay.SampleRate
	}
	if overlay.ServiceName != "" {
		c.ServiceName = overlay.ServiceName
	}
}

func (c *Config) loadDefaults() {
	if c.Exporter == "" {
		c.Exporter = ExporterNone
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "mender"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				c.Enabled = enabled
			}
		}
	}
	if env.Exporter != "" {
		if v := os.Getenv(env.Exporter); v != "" {
			c.Exporter = v
		}
	}
	if env.OTLPEndpoint != "" {
		if v := os.Getenv(env.OTLPEndpoint); v != "" {
			c.OTLPEndpoint = v
		}
	}
	if env.SampleRate != "" {
		if v := os.Getenv(env.SampleRate); v != "" {
			if rate, err := strconv.ParseFloat(v, 64); err == nil {
				c.SampleRate = rate
			}
		}
	}
	if env.ServiceName != "" {
		if v := os.Getenv(env.ServiceName); v != "" {
			c.ServiceName = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported exporter %q", c.Exporter)
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in (0, 1]")
	}
	return nil
}
