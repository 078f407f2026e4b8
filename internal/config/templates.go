package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvTemplatesDir      = "MENDER_TEMPLATES_DIR"
	EnvTemplatesDefault  = "MENDER_TEMPLATES_DEFAULT"
	EnvTemplatesCacheTTL = "MENDER_TEMPLATES_CACHE_TTL"
	EnvTemplatesWatch    = "MENDER_TEMPLATES_WATCH"
)

// TemplatesConfig locates workflow templates and controls how they are cached.
type TemplatesConfig struct {
	Dir      string `toml:"dir"`
	Default  string `toml:"default"`
	CacheTTL string `toml:"cache_ttl"`
	// Watch evicts cached templates when their files change on disk.
	Watch bool `toml:"watch"`
}

// CacheTTLDuration returns CacheTTL as a time.Duration.
func (c *TemplatesConfig) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *TemplatesConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. Watch can only be switched
// on by an overlay.
func (c *TemplatesConfig) Merge(overlay *TemplatesConfig) {
	if overlay.Dir != "" {
		c.Dir = overlay.Dir
	}
	if overlay.Default != "" {
		c.Default = overlay.Default
	}
	if overlay.CacheTTL != "" {
		c.CacheTTL = overlay.CacheTTL
	}
	if overlay.Watch {
		c.Watch = true
	}
}

func (c *TemplatesConfig) loadDefaults() {
	if c.Dir == "" {
		c.Dir = "templates"
	}
	if c.Default == "" {
		c.Default = "restore"
	}
	if c.CacheTTL == "" {
		c.CacheTTL = "10m"
	}
}

func (c *TemplatesConfig) loadEnv() {
	if v := os.Getenv(EnvTemplatesDir); v != "" {
		c.Dir = v
	}
	if v := os.Getenv(EnvTemplatesDefault); v != "" {
		c.Default = v
	}
	if v := os.Getenv(EnvTemplatesCacheTTL); v != "" {
		c.CacheTTL = v
	}
	if v := os.Getenv(EnvTemplatesWatch); v != "" {
		if watch, err := strconv.ParseBool(v); err == nil {
			c.Watch = watch
		}
	}
}

func (c *TemplatesConfig) validate() error {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return fmt.Errorf("invalid cache_ttl: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	return nil
}
