package migrations_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangtdhdhcn/mammo-ai-app/migrations"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
)

func migrated(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &database.Config{Driver: database.SQLite, Path: filepath.Join(t.TempDir(), "records.db")}
	require.NoError(t, migrations.Up(database.SQLite, cfg.MigrationURL()))
	require.NoError(t, migrations.Up(database.SQLite, cfg.MigrationURL()), "second run is a no-op")

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDialectFromURL(t *testing.T) {
	d, err := migrations.DialectFromURL("postgres://u:p@localhost/mammo")
	require.NoError(t, err)
	assert.Equal(t, database.Postgres, d)

	d, err = migrations.DialectFromURL("sqlite://data/mammo.db")
	require.NoError(t, err)
	assert.Equal(t, database.SQLite, d)

	_, err = migrations.DialectFromURL("mysql://localhost")
	assert.Error(t, err)
}

func TestAppendOnlyTriggers(t *testing.T) {
	db := migrated(t)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO patients (id, payload, key_id, archived, created_at, updated_at) VALUES ('p1', x'00', 'k', 0, ?, ?)`, now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO image_assets (id, patient_id, content_hash, format, size_bytes, storage_key, payload, key_id, archived, created_at)
		VALUES ('i1', 'p1', 'abc', 'png', 10, 'k/i1', x'00', 'k', 0, ?)`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO analysis_results (id, patient_id, image_id, content_hash, status, payload, key_id, created_at)
		VALUES ('a1', 'p1', 'i1', 'abc', 'completed', x'00', 'k', ?)`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO detections (analysis_id, ordinal, payload) VALUES ('a1', 0, x'00')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO audit_entries (id, actor, operation, entity_kind, entity_id, outcome, occurred_at)
		VALUES ('e1', 'tester', 'create', 'patient', 'p1', 'success', ?)`, now)
	require.NoError(t, err)

	rejected := []string{
		`UPDATE analysis_results SET status = 'failed'`,
		`DELETE FROM analysis_results`,
		`DELETE FROM detections`,
		`UPDATE audit_entries SET actor = 'someone-else'`,
		`DELETE FROM audit_entries`,
		`DELETE FROM patients`,
		`DELETE FROM image_assets`,
		`UPDATE image_assets SET content_hash = 'def'`,
	}
	for _, stmt := range rejected {
		_, err := db.Exec(stmt)
		assert.Error(t, err, stmt)
	}

	_, err = db.Exec(`UPDATE image_assets SET archived = 1 WHERE id = 'i1'`)
	assert.NoError(t, err, "archiving an image is allowed")
	_, err = db.Exec(`UPDATE patients SET archived = 1 WHERE id = 'p1'`)
	assert.NoError(t, err, "archiving a patient is allowed")
}

func TestImageUniquePerPatient(t *testing.T) {
	db := migrated(t)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO patients (id, payload, key_id, archived, created_at, updated_at) VALUES ('p1', x'00', 'k', 0, ?, ?)`, now, now)
	require.NoError(t, err)

	insert := `INSERT INTO image_assets (id, patient_id, content_hash, format, size_bytes, storage_key, payload, key_id, archived, created_at)
		VALUES (?, 'p1', 'abc', 'png', 10, 'k', x'00', 'k', 0, ?)`
	_, err = db.Exec(insert, "i1", now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "i2", now)
	assert.Error(t, err)
}
