package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var quiet = slog.New(slog.DiscardHandler)

func TestRun_embeddedSchema(t *testing.T) {
	ctx := context.Background()
	db := openMemDB(t)

	if err := Run(ctx, db, quiet); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ingest_files (path, first_seen, last_seen) VALUES ('a', 'x', 'x')`); err != nil {
		t.Fatalf("ingest_files not usable: %v", err)
	}
	var idx int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_ingest_files_last_seen'`).Scan(&idx); err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if idx != 1 {
		t.Errorf("last_seen index count = %d, want 1 (every statement in a file runs)", idx)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if !applied["0001"] {
		t.Errorf("applied = %v, want 0001", applied)
	}

	// A second run is a no-op.
	if err := Run(ctx, db, quiet); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
}

func TestRun_ordersAndSkipsApplied(t *testing.T) {
	ctx := context.Background()
	db := openMemDB(t)
	fsys := fstest.MapFS{
		"sql/0002_add_col.sql": {Data: []byte(`ALTER TABLE t ADD COLUMN name TEXT;`)},
		"sql/0001_create.sql":  {Data: []byte(`CREATE TABLE t (id INTEGER);`)},
		"sql/README.md":        {Data: []byte(`ignored`)},
	}
	if err := run(ctx, db, fsys, quiet); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (1, 'a')`); err != nil {
		t.Fatalf("migrations not applied in order: %v", err)
	}

	fsys["sql/0003_add_other.sql"] = &fstest.MapFile{Data: []byte(`ALTER TABLE t ADD COLUMN other TEXT;`)}
	if err := run(ctx, db, fsys, quiet); err != nil {
		t.Fatalf("rerun error = %v (applied migrations must not rerun)", err)
	}
	applied, _ := AppliedVersions(ctx, db)
	if len(applied) != 3 {
		t.Errorf("applied = %v, want 3 versions", applied)
	}
}

func TestRun_failedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openMemDB(t)
	fsys := fstest.MapFS{
		"sql/0001_broken.sql": {Data: []byte(`CREATE TABLE ok (id INTEGER); CREATE TABLE ok (id INTEGER);`)},
	}
	err := run(ctx, db, fsys, quiet)
	if err == nil || !strings.Contains(err.Error(), "0001_broken.sql") {
		t.Fatalf("run() error = %v, want failure naming the file", err)
	}
	applied, _ := AppliedVersions(ctx, db)
	if applied["0001"] {
		t.Error("failed migration recorded as applied")
	}
	var n int
	_ = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'ok'`).Scan(&n)
	if n != 0 {
		t.Error("partial migration was not rolled back")
	}
}

func TestRun_duplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte(`SELECT 1;`)},
		"sql/0001_b.sql": {Data: []byte(`SELECT 1;`)},
	}
	if err := run(context.Background(), openMemDB(t), fsys, quiet); err == nil {
		t.Fatal("run() error = nil, want duplicate version error")
	}
}
