package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/formatting"
)

// DefaultMaxPixels admits an 8192x8192 image, above full-field digital
// mammography detectors.
const DefaultMaxPixels = 8192 * 8192

// Config holds image acceptance and normalization settings.
type Config struct {
	Formats      []string `toml:"formats"`
	MaxSize      string   `toml:"max_size"`
	MaxPixels    int64    `toml:"max_pixels"`
	TargetWidth  int      `toml:"target_width"`
	TargetHeight int      `toml:"target_height"`
	Enhance      *bool    `toml:"enhance"`
	Enhancer     string   `toml:"enhancer"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Formats      string
	MaxSize      string
	MaxPixels    string
	TargetWidth  string
	TargetHeight string
	Enhance      string
	Enhancer     string
}

// MaxSizeBytes returns MaxSize as a byte count.
func (c *Config) MaxSizeBytes() int64 {
	n, _ := formatting.ParseBytes(c.MaxSize)
	return n
}

// EnhanceEnabled reports whether enhancement runs before letterboxing.
func (c *Config) EnhanceEnabled() bool {
	return c.Enhance != nil && *c.Enhance
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
	if overlay.Formats != nil {
		c.Formats = overlay.Formats
	}
	if overlay.MaxSize != "" {
		c.MaxSize = overlay.MaxSize
	}
	if overlay.MaxPixels > 0 {
		c.MaxPixels = overlay.MaxPixels
	}
	if overlay.TargetWidth > 0 {
		c.TargetWidth = overlay.TargetWidth
	}
	if overlay.TargetHeight > 0 {
		c.TargetHeight = overlay.TargetHeight
	}
	if overlay.Enhance != nil {
		c.Enhance = overlay.Enhance
	}
	if overlay.Enhancer != "" {
		c.Enhancer = overlay.Enhancer
	}
}

func (c *Config) loadDefaults() {
	if len(c.Formats) == 0 {
		c.Formats = []string{string(PNG), string(JPEG), string(TIFF), string(DICOM)}
	}
	if c.MaxSize == "" {
		c.MaxSize = "50MB"
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = DefaultMaxPixels
	}
	if c.TargetWidth <= 0 {
		c.TargetWidth = 640
	}
	if c.TargetHeight <= 0 {
		c.TargetHeight = 640
	}
	if c.Enhance == nil {
		enabled := true
		c.Enhance = &enabled
	}
	if c.Enhancer == "" {
		c.Enhancer = "stretch"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Formats != "" {
		if v := os.Getenv(env.Formats); v != "" {
			c.Formats = strings.Split(v, ",")
		}
	}
	if env.MaxSize != "" {
		if v := os.Getenv(env.MaxSize); v != "" {
			c.MaxSize = v
		}
	}
	if env.MaxPixels != "" {
		if v := os.Getenv(env.MaxPixels); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				c.MaxPixels = n
			}
		}
	}
	if env.TargetWidth != "" {
		if v := os.Getenv(env.TargetWidth); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.TargetWidth = n
			}
		}
	}
	if env.TargetHeight != "" {
		if v := os.Getenv(env.TargetHeight); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.TargetHeight = n
			}
		}
	}
	if env.Enhance != "" {
		if v := os.Getenv(env.Enhance); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Enhance = &b
			}
		}
	}
	if env.Enhancer != "" {
		if v := os.Getenv(env.Enhancer); v != "" {
			c.Enhancer = v
		}
	}
}

func (c *Config) validate() error {
	for _, f := range c.Formats {
		if _, err := ParseFormat(f); err != nil {
			return fmt.Errorf("formats: %w", err)
		}
	}
	if n, err := formatting.ParseBytes(c.MaxSize); err != nil || n <= 0 {
		return fmt.Errorf("invalid max_size: %q", c.MaxSize)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be positive: %d", c.MaxPixels)
	}
	if c.Enhancer != "stretch" && c.Enhancer != "clahe" {
		return fmt.Errorf("unsupported enhancer: %s", c.Enhancer)
	}
	return nil
}
