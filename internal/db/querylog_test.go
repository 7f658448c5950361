package db

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"windmon/internal/migrate"
	"windmon/internal/wind/repository"
	"windmon/internal/wind/types"
)

type loggedStatement struct {
	op       string
	sql      string
	args     []string
	err      bool
	duration bool
}

// sqlLog collects the "sql" records written by the logging connector.
type sqlLog struct {
	mu    sync.Mutex
	stmts []loggedStatement
}

func (h *sqlLog) Enabled(context.Context, slog.Level) bool { return true }

func (h *sqlLog) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "sql" {
		return nil
	}
	var s loggedStatement
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "op":
			s.op = a.Value.String()
		case "sql":
			s.sql = a.Value.String()
		case "args":
			s.args, _ = a.Value.Any().([]string)
		case "error":
			s.err = true
		case "duration":
			s.duration = a.Value.Kind() == slog.KindDuration
		}
		return true
	})
	h.mu.Lock()
	h.stmts = append(h.stmts, s)
	h.mu.Unlock()
	return nil
}

func (h *sqlLog) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *sqlLog) WithGroup(string) slog.Handler      { return h }

func (h *sqlLog) statements() []loggedStatement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]loggedStatement(nil), h.stmts...)
}

// matching returns the logged statements whose SQL contains fragment.
func (h *sqlLog) matching(fragment string) []loggedStatement {
	var out []loggedStatement
	for _, s := range h.statements() {
		if strings.Contains(s.sql, fragment) {
			out = append(out, s)
		}
	}
	return out
}

func (h *sqlLog) reset() {
	h.mu.Lock()
	h.stmts = nil
	h.mu.Unlock()
}

// openLedger opens an in-memory database through the logging connector and
// applies the embedded ledger schema.
func openLedger(t *testing.T, h *sqlLog) *sql.DB {
	t.Helper()
	connector, err := NewLoggingConnector(":memory:", slog.New(h))
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := migrate.Run(context.Background(), db, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("migrate.Run: %v", err)
	}
	return db
}

func TestNewLoggingConnector_nilLoggerUsesDefault(t *testing.T) {
	conn, err := NewLoggingConnector(":memory:", nil)
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	if lc := conn.(*loggingConnector); lc.logger != slog.Default() {
		t.Error("nil logger was not replaced by slog.Default()")
	}
	db := sql.OpenDB(conn)
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestLoggingConnector_migrationRunsEveryStatement(t *testing.T) {
	h := &sqlLog{}
	db := openLedger(t, h)

	// The schema file holds a CREATE TABLE and a CREATE INDEX; both must run.
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_ingest_files_last_seen'`).Scan(&n)
	if err != nil {
		t.Fatalf("lookup index: %v", err)
	}
	if n != 1 {
		t.Fatal("index from the second statement of the migration is missing")
	}

	script := h.matching("CREATE INDEX IF NOT EXISTS idx_ingest_files_last_seen")
	if len(script) != 1 {
		t.Fatalf("migration script logged %d times, want 1", len(script))
	}
	if script[0].op != "exec" || !strings.Contains(script[0].sql, "CREATE TABLE IF NOT EXISTS ingest_files") {
		t.Errorf("migration record = %+v; want one exec of the whole file", script[0])
	}
	if script[0].err {
		t.Error("migration record carries an error")
	}
}

func TestLoggingConnector_ledgerUpsertAndListLogged(t *testing.T) {
	h := &sqlLog{}
	db := openLedger(t, h)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	h.reset()

	path := "/logs/serial_1_combined.log"
	for _, d := range []types.IngestCounts{
		{BytesRead: 70, LinesParsed: 1},
		{BytesRead: 20, LinesIgnored: 1},
	} {
		if err := repo.RecordTick(ctx, path, d); err != nil {
			t.Fatalf("RecordTick: %v", err)
		}
	}

	upserts := h.matching("ON CONFLICT (path) DO UPDATE")
	if len(upserts) != 2 {
		t.Fatalf("got %d upsert records, want 2", len(upserts))
	}
	for _, u := range upserts {
		if u.op != "exec" || u.err || !u.duration {
			t.Errorf("upsert record = %+v", u)
		}
		if len(u.args) != 7 || u.args[0] != path {
			t.Errorf("upsert args = %v; want 7 args starting with the path", u.args)
		}
	}
	if got := upserts[1].args[3:]; strings.Join(got, ",") != "20,0,0,1" {
		t.Errorf("second upsert deltas = %v; want [20 0 0 1]", got)
	}

	files, err := repo.ListFiles(ctx, 5)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].BytesRead != 90 || files[0].LinesParsed != 1 || files[0].LinesIgnored != 1 {
		t.Errorf("ListFiles = %+v; want accumulated totals", files)
	}
	lists := h.matching("FROM ingest_files")
	if len(lists) != 1 || lists[0].op != "query" || strings.Join(lists[0].args, ",") != "5" {
		t.Errorf("list records = %+v; want one query with args [5]", lists)
	}
}

func TestLoggingConnector_failedLedgerWriteLogged(t *testing.T) {
	h := &sqlLog{}
	db := openLedger(t, h)
	h.reset()

	_, err := db.Exec(`INSERT INTO ingest_files (path, first_seen, last_seen) VALUES (?, ?, ?)`,
		"/logs/a.log", nil, []byte("2024-01-01T00:00:00.000000000Z"))
	if err == nil {
		t.Fatal("insert with NULL first_seen succeeded")
	}

	recs := h.statements()
	if len(recs) != 1 {
		t.Fatalf("got %d sql records, want 1", len(recs))
	}
	got := recs[0]
	if !got.err || !got.duration {
		t.Errorf("record = %+v; want error and duration", got)
	}
	if strings.Join(got.args, "|") != "/logs/a.log|NULL|2024-01-01T00:00:00.000000000Z" {
		t.Errorf("args = %v", got.args)
	}
}

func TestFormatArg(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{[]byte("abc"), "abc"},
		{int64(42), "42"},
		{time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), "2024-01-01T10:00:00Z"},
	}
	for _, tt := range tests {
		if got := formatArg(tt.in); got != tt.want {
			t.Errorf("formatArg(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
