package records

import (
	"fmt"
	"os"
	"time"
)

// Config holds record store settings.
type Config struct {
	DedupWindow string `toml:"dedup_window"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	DedupWindow string
}

// DedupWindowDuration parses DedupWindow.
func (c *Config) DedupWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.DedupWindow)
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
	if overlay.DedupWindow != "" {
		c.DedupWindow = overlay.DedupWindow
	}
}

func (c *Config) loadDefaults() {
	if c.DedupWindow == "" {
		c.DedupWindow = "24h"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.DedupWindow != "" {
		if v := os.Getenv(env.DedupWindow); v != "" {
			c.DedupWindow = v
		}
	}
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.DedupWindow)
	if err != nil {
		return fmt.Errorf("invalid dedup_window: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("dedup_window must not be negative")
	}
	return nil
}
