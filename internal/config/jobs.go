package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvJobsMaxConcurrent     = "MENDER_JOBS_MAX_CONCURRENT"
	EnvJobsAllowedExtensions = "MENDER_JOBS_ALLOWED_EXTENSIONS"
	EnvJobsFetchTimeout      = "MENDER_JOBS_FETCH_TIMEOUT"
)

// JobsConfig bounds job intake and background processing.
type JobsConfig struct {
	MaxConcurrent     int      `toml:"max_concurrent"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	FetchTimeout      string   `toml:"fetch_timeout"`
}

// FetchTimeoutDuration returns FetchTimeout as a time.Duration.
func (c *JobsConfig) FetchTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.FetchTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *JobsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *JobsConfig) Merge(overlay *JobsConfig) {
	if overlay.MaxConcurrent != 0 {
		c.MaxConcurrent = overlay.MaxConcurrent
	}
	if overlay.AllowedExtensions != nil {
		c.AllowedExtensions = overlay.AllowedExtensions
	}
	if overlay.FetchTimeout != "" {
		c.FetchTimeout = overlay.FetchTimeout
	}
}

func (c *JobsConfig) loadDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{"jpg", "jpeg", "png", "webp"}
	}
	if c.FetchTimeout == "" {
		c.FetchTimeout = "30s"
	}
}

func (c *JobsConfig) loadEnv() {
	if v := os.Getenv(EnvJobsMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrent = n
		}
	}
	if v := os.Getenv(EnvJobsAllowedExtensions); v != "" {
		var exts []string
		for e := range strings.SplitSeq(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
		c.AllowedExtensions = exts
	}
	if v := os.Getenv(EnvJobsFetchTimeout); v != "" {
		c.FetchTimeout = v
	}
}

func (c *JobsConfig) validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions required")
	}
	for i, e := range c.AllowedExtensions {
		c.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(e, "."))
	}
	if _, err := time.ParseDuration(c.FetchTimeout); err != nil {
		return fmt.Errorf("invalid fetch_timeout: %w", err)
	}
	return nil
}
