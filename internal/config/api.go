package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/formatting"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/middleware"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "MAMMO_CORS_ENABLED",
	Origins:          "MAMMO_CORS_ORIGINS",
	AllowedMethods:   "MAMMO_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "MAMMO_CORS_ALLOWED_HEADERS",
	AllowCredentials: "MAMMO_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "MAMMO_CORS_MAX_AGE",
}

var authEnv = &middleware.AuthEnv{
	Enabled:     "MAMMO_AUTH_ENABLED",
	Issuer:      "MAMMO_AUTH_ISSUER",
	ClientID:    "MAMMO_AUTH_CLIENT_ID",
	ActorClaim:  "MAMMO_AUTH_ACTOR_CLAIM",
	ActorHeader: "MAMMO_AUTH_ACTOR_HEADER",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "MAMMO_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "MAMMO_PAGINATION_MAX_PAGE_SIZE",
}

// APIConfig holds API routing, CORS, caller identity, and pagination settings.
type APIConfig struct {
	BasePath      string                `toml:"base_path"`
	MaxUploadSize string                `toml:"max_upload_size"`
	CORS          middleware.CORSConfig `toml:"cors"`
	Auth          middleware.AuthConfig `toml:"auth"`
	Pagination    pagination.Config     `toml:"pagination"`
}

const defaultMaxUpload = 256 << 20

// MaxUploadSizeBytes bounds a multipart analysis submission, all files included.
func (c *APIConfig) MaxUploadSizeBytes() int64 {
	if size, err := formatting.ParseBytes(c.MaxUploadSize); err == nil && size > 0 {
		return size
	}
	return defaultMaxUpload
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("base_path must start with /: %q", c.BasePath)
	}
	if size, err := formatting.ParseBytes(c.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid max_upload_size: %w", err)
	} else if size <= 0 {
		return fmt.Errorf("max_upload_size must be positive: %s", c.MaxUploadSize)
	}
	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MaxUploadSize != "" {
		c.MaxUploadSize = overlay.MaxUploadSize
	}

	c.CORS.Merge(&overlay.CORS)
	c.Auth.Merge(&overlay.Auth)
	c.Pagination.Merge(&overlay.Pagination)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "256MB"
	}
}

func (c *APIConfig) loadEnv() {
	for name, field := range map[string]*string{
		"MAMMO_API_BASE_PATH":       &c.BasePath,
		"MAMMO_API_MAX_UPLOAD_SIZE": &c.MaxUploadSize,
	} {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}
