package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsOnce(t *testing.T) {
	sqlDB := openTestDB(t)
	fsys := fstest.MapFS{
		"0001_init.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
CREATE TABLE things (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE things;
`)},
	}

	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// Re-running must be a no-op.
	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied count = %d, want 1", count)
	}
	if _, err := sqlDB.Exec("INSERT INTO things (id) VALUES ('a')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestApplyMigrationsOrder(t *testing.T) {
	sqlDB := openTestDB(t)
	fsys := fstest.MapFS{
		"0002_add.sql":  &fstest.MapFile{Data: []byte("-- +migrate Up\nALTER TABLE things ADD COLUMN label TEXT;\n")},
		"0001_init.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE things (id TEXT PRIMARY KEY);\n")},
	}

	if err := ApplyMigrations(sqlDB, fsys, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec("INSERT INTO things (id, label) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("insert with migrated column: %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	up := ExtractUpMigration(content)
	if up != "\nCREATE TABLE a (id TEXT);\n" {
		t.Fatalf("unexpected up section: %q", up)
	}
	if got := ExtractUpMigration("CREATE TABLE b (id TEXT);"); got != "CREATE TABLE b (id TEXT);" {
		t.Fatalf("expected passthrough without markers, got %q", got)
	}
}
