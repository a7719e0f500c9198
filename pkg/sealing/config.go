package sealing

import (
	"encoding/base64"
	"fmt"
	"os"
)

// Config holds base64-encoded key material. Keys are normally supplied
// through the environment rather than config files.
type Config struct {
	Key      string `toml:"key"`
	IndexKey string `toml:"index_key"`
	KeyID    string `toml:"key_id"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Key      string
	IndexKey string
	KeyID    string
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
	if overlay.Key != "" {
		c.Key = overlay.Key
	}
	if overlay.IndexKey != "" {
		c.IndexKey = overlay.IndexKey
	}
	if overlay.KeyID != "" {
		c.KeyID = overlay.KeyID
	}
}

func (c *Config) loadDefaults() {
	if c.KeyID == "" {
		c.KeyID = "default"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Key != "" {
		if v := os.Getenv(env.Key); v != "" {
			c.Key = v
		}
	}
	if env.IndexKey != "" {
		if v := os.Getenv(env.IndexKey); v != "" {
			c.IndexKey = v
		}
	}
	if env.KeyID != "" {
		if v := os.Getenv(env.KeyID); v != "" {
			c.KeyID = v
		}
	}
}

func (c *Config) validate() error {
	if c.Key == "" {
		return fmt.Errorf("key required")
	}
	if c.IndexKey == "" {
		return fmt.Errorf("index_key required")
	}
	if _, _, err := c.decode(); err != nil {
		return err
	}
	return nil
}

func (c *Config) decode() (key, indexKey []byte, err error) {
	key, err = base64.StdEncoding.DecodeString(c.Key)
	if err != nil || len(key) != 32 {
		return nil, nil, fmt.Errorf("%w: key must be base64 encoded 32 bytes", ErrInvalidKey)
	}
	indexKey, err = base64.StdEncoding.DecodeString(c.IndexKey)
	if err != nil || len(indexKey) != 32 {
		return nil, nil, fmt.Errorf("%w: index_key must be base64 encoded 32 bytes", ErrInvalidKey)
	}
	return key, indexKey, nil
}
