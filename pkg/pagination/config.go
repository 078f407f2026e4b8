// Package pagination parses page requests and shapes paged results for list
// endpoints.
package pagination

import (
	"errors"
	"os"
	"strconv"
)

// Config bounds page requests.
type Config struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
	// MaxSearchLength caps the search term in runes. Longer terms are truncated.
	MaxSearchLength int `toml:"max_search_length"`
}

// ConfigEnv names the environment variables that override Config.
type ConfigEnv struct {
	DefaultPageSize string
	MaxPageSize     string
	MaxSearchLength string
}

// Finalize applies defaults, then env overrides, then validates.
func (c *Config) Finalize(env *ConfigEnv) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge takes every non-zero field of overlay.
func (c *Config) Merge(overlay *Config) {
	mergeInt(&c.DefaultPageSize, overlay.DefaultPageSize)
	mergeInt(&c.MaxPageSize, overlay.MaxPageSize)
	mergeInt(&c.MaxSearchLength, overlay.MaxSearchLength)
}

func (c *Config) loadDefaults() {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if c.MaxSearchLength <= 0 {
		c.MaxSearchLength = 200
	}
}

func (c *Config) loadEnv(env *ConfigEnv) {
	envInt(env.DefaultPageSize, &c.DefaultPageSize)
	envInt(env.MaxPageSize, &c.MaxPageSize)
	envInt(env.MaxSearchLength, &c.MaxSearchLength)
}

func (c *Config) validate() error {
	switch {
	case c.DefaultPageSize < 1:
		return errors.New("default_page_size must be positive")
	case c.MaxPageSize < 1:
		return errors.New("max_page_size must be positive")
	case c.DefaultPageSize > c.MaxPageSize:
		return errors.New("default_page_size cannot exceed max_page_size")
	case c.MaxSearchLength < 1:
		return errors.New("max_search_length must be positive")
	}
	return nil
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// envInt sets dst from the named variable when it holds an integer.
func envInt(name string, dst *int) {
	if name == "" {
		return
	}
	if n, err := strconv.Atoi(os.Getenv(name)); err == nil {
		*dst = n
	}
}
