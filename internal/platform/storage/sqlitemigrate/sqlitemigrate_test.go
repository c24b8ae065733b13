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
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"settle/0001_init.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
CREATE TABLE things (id TEXT PRIMARY KEY, name TEXT NOT NULL);
-- +migrate Down
DROP TABLE things;
`)},
		"settle/0002_add_column.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
ALTER TABLE things ADD COLUMN created_at INTEGER NOT NULL DEFAULT 0;
`)},
	}

	sqlDB := openTestDB(t)
	if err := ApplyMigrations(sqlDB, fsys, "settle"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec(`INSERT INTO things (id, name, created_at) VALUES ('a', 'first', 1)`); err != nil {
		t.Fatalf("insert after migrations: %v", err)
	}

	// A second run must be a no-op, not a re-execution.
	if err := ApplyMigrations(sqlDB, fsys, "settle"); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	var applied int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}
}

func TestExtractUpMigration(t *testing.T) {
	tcs := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "up and down",
			content: "-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;",
			want:    "\nCREATE TABLE a (x);\n",
		},
		{
			name:    "up only",
			content: "-- +migrate Up\nCREATE TABLE b (y);",
			want:    "\nCREATE TABLE b (y);",
		},
		{
			name:    "no markers",
			content: "CREATE TABLE c (z);",
			want:    "CREATE TABLE c (z);",
		},
	}
	for _, tc := range tcs {
		if got := ExtractUpMigration(tc.content); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
