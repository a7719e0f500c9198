package workflow

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
)

// Config holds the default thresholds and the run limits.
type Config struct {
	ConfidenceThreshold *float64 `toml:"confidence_threshold"`
	IoUThreshold        *float64 `toml:"iou_threshold"`
	InferenceTimeout    string   `toml:"inference_timeout"`
	MaxConcurrency      int      `toml:"max_concurrency"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	ConfidenceThreshold string
	IoUThreshold        string
	InferenceTimeout    string
	MaxConcurrency      string
}

// Thresholds returns the defaults applied when a request carries none.
func (c *Config) Thresholds() detection.Thresholds {
	return detection.Thresholds{
		Confidence: *c.ConfidenceThreshold,
		IoU:        *c.IoUThreshold,
	}
}

// InferenceTimeoutDuration returns InferenceTimeout as a time.Duration.
func (c *Config) InferenceTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.InferenceTimeout)
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
	if overlay.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = overlay.ConfidenceThreshold
	}
	if overlay.IoUThreshold != nil {
		c.IoUThreshold = overlay.IoUThreshold
	}
	if overlay.InferenceTimeout != "" {
		c.InferenceTimeout = overlay.InferenceTimeout
	}
	if overlay.MaxConcurrency > 0 {
		c.MaxConcurrency = overlay.MaxConcurrency
	}
}

func (c *Config) loadDefaults() {
	if c.ConfidenceThreshold == nil {
		v := 0.5
		c.ConfidenceThreshold = &v
	}
	if c.IoUThreshold == nil {
		v := 0.45
		c.IoUThreshold = &v
	}
	if c.InferenceTimeout == "" {
		c.InferenceTimeout = "30s"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = runtime.NumCPU()
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.ConfidenceThreshold != "" {
		if v := os.Getenv(env.ConfidenceThreshold); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.ConfidenceThreshold = &f
			}
		}
	}
	if env.IoUThreshold != "" {
		if v := os.Getenv(env.IoUThreshold); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.IoUThreshold = &f
			}
		}
	}
	if env.InferenceTimeout != "" {
		if v := os.Getenv(env.InferenceTimeout); v != "" {
			c.InferenceTimeout = v
		}
	}
	if env.MaxConcurrency != "" {
		if v := os.Getenv(env.MaxConcurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxConcurrency = n
			}
		}
	}
}

func (c *Config) validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	d, err := time.ParseDuration(c.InferenceTimeout)
	if err != nil {
		return fmt.Errorf("invalid inference_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("inference_timeout must be positive")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	return nil
}
