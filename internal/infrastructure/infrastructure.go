// Package infrastructure builds the process-wide systems every domain
// package is handed: logger, database pool, image blob store and sealing keys.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/lifecycle"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Keys      sealing.KeyHandle
}

// New constructs every system without connecting anything; Start does that.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := NewLogger(cfg.LogLevel)

	keys, err := sealing.New(&cfg.Sealing)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	logger.Info("infrastructure ready",
		"database", string(cfg.Database.Driver),
		"storage", string(cfg.Storage.Provider),
		"key_id", keys.KeyID(),
	)

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Keys:      keys,
	}, nil
}

// NewLogger returns the process text logger at the named level.
// Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// Scoped shares every system but tags log lines with module=name.
func (i *Infrastructure) Scoped(name string) *Infrastructure {
	scoped := *i
	scoped.Logger = i.Logger.With("module", name)
	return &scoped
}

// Start registers the database and storage hooks and readiness checks.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start: %w", err)
	}
	return nil
}
