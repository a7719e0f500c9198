// Package migrations embeds the record store schema for each supported dialect.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// DialectFromURL infers the dialect from a migration URL scheme.
func DialectFromURL(url string) (database.Dialect, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return database.Postgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		return database.SQLite, nil
	default:
		return "", fmt.Errorf("unsupported migration url scheme: %s", url)
	}
}

// New creates a migrator over the embedded scripts for dialect, targeting url.
func New(dialect database.Dialect, url string) (*migrate.Migrate, error) {
	source, err := iofs.New(files, string(dialect))
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. An already current schema is not an error.
func Up(dialect database.Dialect, url string) error {
	m, err := New(dialect, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
