package inference

import (
	"fmt"
	"os"
	"strconv"
)

// Provider selects the Detector implementation.
type Provider string

const (
	ProviderHTTP   Provider = "http"
	ProviderVision Provider = "vision"
	ProviderONNX   Provider = "onnx"
)

// Config holds model selection and connection settings.
type Config struct {
	Provider   Provider `toml:"provider"`
	Endpoint   string   `toml:"endpoint"`
	Model      string   `toml:"model"`
	Device     string   `toml:"device"`
	LabelsFile string   `toml:"labels_file"`
	APIKey     string   `toml:"api_key"`
	HealthPath string   `toml:"health_path"`
	Serialize  *bool    `toml:"serialize"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Provider   string
	Endpoint   string
	Model      string
	Device     string
	LabelsFile string
	APIKey     string
	HealthPath string
	Serialize  string
}

// ModelConfig returns the model reference passed to every detect call.
func (c *Config) ModelConfig() ModelConfig {
	return ModelConfig{Model: c.Model, Device: c.Device}
}

// SerializeEnabled reports whether detect calls share a single slot.
func (c *Config) SerializeEnabled() bool {
	return c.Serialize != nil && *c.Serialize
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
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
	}
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.Model != "" {
		c.Model = overlay.Model
	}
	if overlay.Device != "" {
		c.Device = overlay.Device
	}
	if overlay.LabelsFile != "" {
		c.LabelsFile = overlay.LabelsFile
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.HealthPath != "" {
		c.HealthPath = overlay.HealthPath
	}
	if overlay.Serialize != nil {
		c.Serialize = overlay.Serialize
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderHTTP
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.Serialize == nil {
		enabled := true
		c.Serialize = &enabled
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Provider != "" {
		if v := os.Getenv(env.Provider); v != "" {
			c.Provider = Provider(v)
		}
	}
	if env.Endpoint != "" {
		if v := os.Getenv(env.Endpoint); v != "" {
			c.Endpoint = v
		}
	}
	if env.Model != "" {
		if v := os.Getenv(env.Model); v != "" {
			c.Model = v
		}
	}
	if env.Device != "" {
		if v := os.Getenv(env.Device); v != "" {
			c.Device = v
		}
	}
	if env.LabelsFile != "" {
		if v := os.Getenv(env.LabelsFile); v != "" {
			c.LabelsFile = v
		}
	}
	if env.APIKey != "" {
		if v := os.Getenv(env.APIKey); v != "" {
			c.APIKey = v
		}
	}
	if env.HealthPath != "" {
		if v := os.Getenv(env.HealthPath); v != "" {
			c.HealthPath = v
		}
	}
	if env.Serialize != "" {
		if v := os.Getenv(env.Serialize); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Serialize = &b
			}
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("http provider: endpoint required")
		}
	case ProviderVision:
		if c.Model == "" {
			return fmt.Errorf("vision provider: model required")
		}
		if c.APIKey == "" && c.Endpoint == "" {
			return fmt.Errorf("vision provider: api_key or endpoint required")
		}
	case ProviderONNX:
		if c.Model == "" {
			return fmt.Errorf("onnx provider: model path required")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, c.Provider)
	}
	if c.Device != "cpu" && c.Device != "cuda" {
		return fmt.Errorf("unsupported device: %s", c.Device)
	}
	return nil
}
