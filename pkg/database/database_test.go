package database_test

import (
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/lifecycle"
)

func TestNewReturnsSystem(t *testing.T) {
	cfg := database.Config{
		Driver:          database.Postgres,
		Host:            "localhost",
		Port:            5432,
		Name:            "mammo",
		User:            "mammo",
		Password:        "secret",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: "15m",
		ConnTimeout:     "5s",
	}

	sys, err := database.New(&cfg, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conn := sys.Connection()
	if conn == nil {
		t.Fatal("Connection() returned nil")
	}
	if sys.Dialect() != database.Postgres {
		t.Errorf("Dialect() = %s, want postgres", sys.Dialect())
	}

	// sql.Open is lazy, Close succeeds without a server
	conn.Close()
}

func TestNewSetsPoolParams(t *testing.T) {
	cfg := database.Config{
		Driver:          database.Postgres,
		Host:            "localhost",
		Port:            5432,
		Name:            "mammo",
		User:            "mammo",
		SSLMode:         "disable",
		MaxOpenConns:    42,
		MaxIdleConns:    7,
		ConnMaxLifetime: "10m",
		ConnTimeout:     "3s",
	}

	sys, err := database.New(&cfg, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conn := sys.Connection()
	defer conn.Close()

	if got := conn.Stats().MaxOpenConnections; got != 42 {
		t.Errorf("MaxOpenConnections = %d, want 42", got)
	}
}

func TestOpenSQLiteSingleConnection(t *testing.T) {
	cfg := database.Config{
		Driver:       database.SQLite,
		Path:         filepath.Join(t.TempDir(), "records.db"),
		MaxOpenConns: 25,
	}

	db, err := database.Open(&cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect database.Dialect
		query   string
		want    string
	}{
		{
			name:    "postgres positional",
			dialect: database.Postgres,
			query:   "SELECT id FROM patients WHERE id = ? AND archived = ?",
			want:    "SELECT id FROM patients WHERE id = $1 AND archived = $2",
		},
		{
			name:    "postgres quoted literal",
			dialect: database.Postgres,
			query:   "SELECT '?' FROM patients WHERE id = ?",
			want:    "SELECT '?' FROM patients WHERE id = $1",
		},
		{
			name:    "sqlite unchanged",
			dialect: database.SQLite,
			query:   "SELECT id FROM patients WHERE id = ?",
			want:    "SELECT id FROM patients WHERE id = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartReadiness(t *testing.T) {
	cfg := database.Config{
		Driver:      database.SQLite,
		Path:        filepath.Join(t.TempDir(), "records.db"),
		ConnTimeout: "5s",
	}

	sys, err := database.New(&cfg, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lc := lifecycle.New()
	if err := sys.Start(lc); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !slices.Contains(lc.Pending(), "database") && !sys.Ready() {
		t.Error("database check not registered")
	}

	lc.WaitForStartup()
	if !sys.Ready() || !lc.Ready() {
		t.Fatalf("not ready after startup, pending %v", lc.Pending())
	}

	if err := lc.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if sys.Ready() {
		t.Error("database still ready after shutdown")
	}
}
