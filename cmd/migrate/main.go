// Command migrate applies the embedded record store schema. Without -url it
// targets the database described by config.toml and the MAMMO_DB_* variables,
// the same one the server connects to.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/migrations"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
)

const envURL = "MAMMO_DB_URL"

type options struct {
	url     string
	dialect string
	up      bool
	down    bool
	steps   int
	version bool
	force   int
	forced  bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var o options
	flag.StringVar(&o.url, "url", "", "database URL (postgres://... or sqlite://path); overrides config")
	flag.StringVar(&o.dialect, "dialect", "", "migration set (postgres|sqlite); inferred from the URL when empty")
	flag.BoolVar(&o.up, "up", false, "apply all pending migrations")
	flag.BoolVar(&o.down, "down", false, "revert all migrations")
	flag.IntVar(&o.steps, "steps", 0, "apply N migrations, negative to revert")
	flag.BoolVar(&o.version, "version", false, "print the current schema version")
	flag.IntVar(&o.force, "force", -1, "mark the schema as version N without running scripts")
	flag.Parse()
	flag.Visit(func(f *flag.Flag) { o.forced = o.forced || f.Name == "force" })

	_ = godotenv.Load()

	if err := run(o, logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(o options, logger *slog.Logger) error {
	url, err := resolveURL(o.url)
	if err != nil {
		return err
	}

	dialect := database.Dialect(o.dialect)
	if dialect == "" {
		if dialect, err = migrations.DialectFromURL(url); err != nil {
			return err
		}
	}

	m, err := migrations.New(dialect, url)
	if err != nil {
		return err
	}
	defer m.Close()

	logger = logger.With("dialect", string(dialect))

	switch {
	case o.version:
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("read version: %w", err)
		}
		logger.Info("schema version", "version", v, "dirty", dirty)
	case o.forced:
		if err := m.Force(o.force); err != nil {
			return fmt.Errorf("force version %d: %w", o.force, err)
		}
		logger.Warn("schema version forced", "version", o.force)
	case o.up:
		return report(logger, "migrations applied", m.Up())
	case o.down:
		return report(logger, "migrations reverted", m.Down())
	case o.steps != 0:
		return report(logger.With("steps", o.steps), "migration steps applied", m.Steps(o.steps))
	default:
		fmt.Fprintln(os.Stderr, "usage: migrate [-url <database-url>] [-dialect postgres|sqlite] -up|-down|-steps N|-version|-force N")
		flag.PrintDefaults()
	}
	return nil
}

// resolveURL prefers the flag, then MAMMO_DB_URL, then the configured database.
func resolveURL(flagURL string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if v := os.Getenv(envURL); v != "" {
		return v, nil
	}
	db, err := config.LoadDatabase()
	if err != nil {
		return "", err
	}
	return db.MigrationURL(), nil
}

func report(logger *slog.Logger, msg string, err error) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("schema already current")
		return nil
	case err != nil:
		return err
	}
	logger.Info(msg)
	return nil
}
