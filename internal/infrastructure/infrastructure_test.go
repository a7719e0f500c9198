package infrastructure_test

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/infrastructure"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: database.Config{
			Driver:          database.SQLite,
			Path:            filepath.Join(t.TempDir(), "mammo.db"),
			ConnMaxLifetime: "15m",
			ConnTimeout:     "5s",
		},
		Storage: storage.Config{
			Provider: storage.ProviderMemory,
		},
		Sealing: sealing.Config{
			Key:      base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{5}, 32)),
			IndexKey: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{6}, 32)),
			KeyID:    "k1",
		},
		LogLevel: "debug",
		Version:  "0.1.0",
	}
}

func TestNew(t *testing.T) {
	infra, err := infrastructure.New(validConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if infra.Lifecycle == nil {
		t.Error("Lifecycle is nil")
	}
	if infra.Logger == nil {
		t.Error("Logger is nil")
	}
	if infra.Database == nil {
		t.Error("Database is nil")
	}
	if infra.Storage == nil {
		t.Error("Storage is nil")
	}
	if infra.Keys == nil || infra.Keys.KeyID() != "k1" {
		t.Errorf("Keys = %v, want key id k1", infra.Keys)
	}
}

func TestNewInvalidSealingKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sealing.Key = "short"

	if _, err := infrastructure.New(cfg); err == nil {
		t.Fatal("expected error for invalid sealing key")
	}
}

func TestNewUnsupportedStorage(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.Provider = "ftp"

	if _, err := infrastructure.New(cfg); err == nil {
		t.Fatal("expected error for unsupported storage provider")
	}
}

func TestStartAndShutdown(t *testing.T) {
	infra, err := infrastructure.New(validConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := infra.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	infra.Lifecycle.WaitForStartup()

	if !infra.Lifecycle.Ready() {
		t.Error("lifecycle not ready after startup")
	}
	if err := infra.Database.Connection().Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	if err := infra.Lifecycle.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := infrastructure.NewLogger(tt.level)
			if !logger.Enabled(t.Context(), tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(t.Context(), tt.want-1) {
				t.Errorf("level below %s should be disabled", tt.want)
			}
		})
	}
}

func TestScoped(t *testing.T) {
	infra, err := infrastructure.New(validConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	scoped := infra.Scoped("api")
	if scoped == infra || scoped.Logger == infra.Logger {
		t.Error("Scoped() should return a copy with its own logger")
	}
	if scoped.Database != infra.Database || scoped.Lifecycle != infra.Lifecycle {
		t.Error("Scoped() should share systems")
	}
}
