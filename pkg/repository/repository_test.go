package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate")
)

func TestMapErrorNil(t *testing.T) {
	if got := repository.MapError(nil, errNotFound, errDuplicate); got != nil {
		t.Errorf("MapError(nil) = %v, want nil", got)
	}
}

func TestMapErrorNotFound(t *testing.T) {
	got := repository.MapError(sql.ErrNoRows, errNotFound, errDuplicate)
	if !errors.Is(got, errNotFound) {
		t.Errorf("MapError(ErrNoRows) = %v, want %v", got, errNotFound)
	}
}

func TestMapErrorDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	got := repository.MapError(pgErr, errNotFound, errDuplicate)
	if !errors.Is(got, errDuplicate) {
		t.Errorf("MapError(PgError 23505) = %v, want %v", got, errDuplicate)
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	original := errors.New("some other error")
	if got := repository.MapError(original, errNotFound, errDuplicate); got != original {
		t.Errorf("MapError(other) = %v, want %v", got, original)
	}
}

func TestMapErrorPgNonDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23503"}
	if got := repository.MapError(pgErr, errNotFound, errDuplicate); got != pgErr {
		t.Errorf("MapError(PgError 23503) should pass through, got %v", got)
	}
}

type item struct {
	ID   int
	Name string
}

func scanItem(s repository.Scanner) (item, error) {
	var i item
	err := s.Scan(&i.ID, &i.Name)
	return i, err
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(&database.Config{
		Driver: database.SQLite,
		Path:   filepath.Join(t.TempDir(), "repo.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func TestWithTxCommitAndQuery(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		for i, name := range []string{"alpha", "beta"} {
			if _, err := tx.ExecContext(ctx, "INSERT INTO items(id, name) VALUES (?, ?)", i+1, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	items, err := repository.QueryMany(ctx, db, "SELECT id, name FROM items ORDER BY id", nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany() error = %v", err)
	}
	if len(items) != 2 || items[1].Name != "beta" {
		t.Errorf("QueryMany() = %+v", items)
	}

	one, err := repository.QueryOne(ctx, db, "SELECT id, name FROM items WHERE id = ?", []any{1}, scanItem)
	if err != nil {
		t.Fatalf("QueryOne() error = %v", err)
	}
	if one.Name != "alpha" {
		t.Errorf("QueryOne() = %+v", one)
	}
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	boom := errors.New("boom")
	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO items(id, name) VALUES (1, 'alpha')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	items, err := repository.QueryMany(ctx, db, "SELECT id, name FROM items", nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany() error = %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("rolled back insert is visible or result is nil: %+v", items)
	}
}

func TestMapErrorSQLiteUnique(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	if _, err := db.ExecContext(ctx, "INSERT INTO items(id, name) VALUES (1, 'alpha')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := db.ExecContext(ctx, "INSERT INTO items(id, name) VALUES (2, 'alpha')")
	if err == nil {
		t.Fatal("expected unique violation")
	}

	if got := repository.MapError(err, errNotFound, errDuplicate); !errors.Is(got, errDuplicate) {
		t.Errorf("MapError(sqlite unique) = %v, want %v", got, errDuplicate)
	}
}

func TestExecExpectOne(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	err := repository.ExecExpectOne(ctx, db, "UPDATE items SET name = 'x' WHERE id = ?", 99)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ExecExpectOne() on missing row = %v, want sql.ErrNoRows", err)
	}
}
