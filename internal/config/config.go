package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/workflow"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvMammoEnv             = "MAMMO_ENV"
	EnvMammoShutdownTimeout = "MAMMO_SHUTDOWN_TIMEOUT"
	EnvMammoVersion         = "MAMMO_VERSION"
	EnvMammoLogLevel        = "MAMMO_LOG_LEVEL"
)

// DatabaseEnv lists the MAMMO_DB_* overrides shared by the server and the migrator.
var DatabaseEnv = &database.Env{
	Driver:          "MAMMO_DB_DRIVER",
	Path:            "MAMMO_DB_PATH",
	Host:            "MAMMO_DB_HOST",
	Port:            "MAMMO_DB_PORT",
	Name:            "MAMMO_DB_NAME",
	User:            "MAMMO_DB_USER",
	Password:        "MAMMO_DB_PASSWORD",
	SSLMode:         "MAMMO_DB_SSL_MODE",
	MaxOpenConns:    "MAMMO_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "MAMMO_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "MAMMO_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "MAMMO_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "MAMMO_STORAGE_PROVIDER",
	ContainerName:    "MAMMO_STORAGE_CONTAINER_NAME",
	ConnectionString: "MAMMO_STORAGE_CONNECTION_STRING",
	ServiceURL:       "MAMMO_STORAGE_SERVICE_URL",
	Endpoint:         "MAMMO_STORAGE_ENDPOINT",
	AccessKey:        "MAMMO_STORAGE_ACCESS_KEY",
	SecretKey:        "MAMMO_STORAGE_SECRET_KEY",
	Region:           "MAMMO_STORAGE_REGION",
	UseSSL:           "MAMMO_STORAGE_USE_SSL",
	Root:             "MAMMO_STORAGE_ROOT",
}

var sealingEnv = &sealing.Env{
	Key:      "MAMMO_SEALING_KEY",
	IndexKey: "MAMMO_SEALING_INDEX_KEY",
	KeyID:    "MAMMO_SEALING_KEY_ID",
}

var ingestEnv = &ingest.Env{
	Formats:      "MAMMO_INGEST_FORMATS",
	MaxSize:      "MAMMO_INGEST_MAX_SIZE",
	MaxPixels:    "MAMMO_INGEST_MAX_PIXELS",
	TargetWidth:  "MAMMO_INGEST_TARGET_WIDTH",
	TargetHeight: "MAMMO_INGEST_TARGET_HEIGHT",
	Enhance:      "MAMMO_INGEST_ENHANCE",
	Enhancer:     "MAMMO_INGEST_ENHANCER",
}

var inferenceEnv = &inference.Env{
	Provider:   "MAMMO_INFERENCE_PROVIDER",
	Endpoint:   "MAMMO_INFERENCE_ENDPOINT",
	Model:      "MAMMO_INFERENCE_MODEL",
	Device:     "MAMMO_INFERENCE_DEVICE",
	LabelsFile: "MAMMO_INFERENCE_LABELS_FILE",
	APIKey:     "MAMMO_INFERENCE_API_KEY",
	HealthPath: "MAMMO_INFERENCE_HEALTH_PATH",
	Serialize:  "MAMMO_INFERENCE_SERIALIZE",
}

var analysisEnv = &workflow.Env{
	ConfidenceThreshold: "MAMMO_ANALYSIS_CONFIDENCE_THRESHOLD",
	IoUThreshold:        "MAMMO_ANALYSIS_IOU_THRESHOLD",
	InferenceTimeout:    "MAMMO_ANALYSIS_INFERENCE_TIMEOUT",
	MaxConcurrency:      "MAMMO_ANALYSIS_MAX_CONCURRENCY",
}

var recordsEnv = &records.Env{
	DedupWindow: "MAMMO_RECORDS_DEDUP_WINDOW",
}

// Config is the root configuration for the mammography service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	Database        database.Config  `toml:"database"`
	Storage         storage.Config   `toml:"storage"`
	Sealing         sealing.Config   `toml:"sealing"`
	Ingest          ingest.Config    `toml:"ingest"`
	Inference       inference.Config `toml:"inference"`
	Analysis        workflow.Config  `toml:"analysis"`
	Records         records.Config   `toml:"records"`
	API             APIConfig        `toml:"api"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
	LogLevel        string           `toml:"log_level"`
}

// Env returns the MAMMO_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvMammoEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads config.toml and the config.<MAMMO_ENV>.toml overlay when they
// exist, then finalizes every section. Without files, defaults and
// MAMMO_* variables supply everything.
func Load() (*Config, error) {
	cfg, err := readFiles()
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// LoadDatabase resolves only the [database] section, for tools such as
// the migrator that must not require sealing keys or a model endpoint.
func LoadDatabase() (*database.Config, error) {
	cfg, err := readFiles()
	if err != nil {
		return nil, err
	}
	if err := cfg.Database.Finalize(DatabaseEnv); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &cfg.Database, nil
}

func readFiles() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}
	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Sealing.Merge(&overlay.Sealing)
	c.Ingest.Merge(&overlay.Ingest)
	c.Inference.Merge(&overlay.Inference)
	c.Analysis.Merge(&overlay.Analysis)
	c.Records.Merge(&overlay.Records)
	c.API.Merge(&overlay.API)
}

// Finalize applies defaults, environment overrides, and validation to the
// root config and every sub-config.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(DatabaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Sealing.Finalize(sealingEnv); err != nil {
		return fmt.Errorf("sealing: %w", err)
	}
	if err := c.Ingest.Finalize(ingestEnv); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Inference.Finalize(inferenceEnv); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if err := c.Analysis.Finalize(analysisEnv); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := c.Records.Finalize(recordsEnv); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvMammoShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvMammoVersion); v != "" {
		c.Version = v
	}
	if v := os.Getenv(EnvMammoLogLevel); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvMammoEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
