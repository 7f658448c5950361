package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"windmon/internal/wind/types"
)

//go:embed sql/record-tick.sql
var recordTickSQL string

//go:embed sql/list-files.sql
var listFilesSQL string

const (
	// DefaultListLimit caps ListFiles when the caller passes limit <= 0.
	DefaultListLimit = 100

	// timeLayout is fixed width so last_seen orders correctly as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// IngestRepository is the per-file ingestion ledger. It stores counts only,
// never readings.
type IngestRepository interface {
	RecordTick(ctx context.Context, path string, delta types.IngestCounts) error
	ListFiles(ctx context.Context, limit int) ([]types.IngestFile, error)
}

type repositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) IngestRepository {
	return &repositoryImpl{db: db, now: time.Now}
}

// RecordTick adds delta to the row for path, creating it on first sight.
func (r *repositoryImpl) RecordTick(ctx context.Context, path string, delta types.IngestCounts) error {
	if path == "" {
		return errors.New("record tick: empty path")
	}
	ts := r.now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx, recordTickSQL,
		path, ts, ts,
		delta.BytesRead, delta.LinesParsed, delta.LinesMalformed, delta.LinesIgnored,
	)
	if err != nil {
		return fmt.Errorf("record tick %s: %w", path, err)
	}
	return nil
}

// ListFiles returns ledger rows, most recently active first.
func (r *repositoryImpl) ListFiles(ctx context.Context, limit int) ([]types.IngestFile, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, listFilesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close ingest file rows", "error", err)
		}
	}()

	var out []types.IngestFile
	for rows.Next() {
		var (
			f                   types.IngestFile
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&f.Path, &firstSeen, &lastSeen,
			&f.BytesRead, &f.LinesParsed, &f.LinesMalformed, &f.LinesIgnored); err != nil {
			return nil, err
		}
		if f.FirstSeen, err = time.Parse(timeLayout, firstSeen); err != nil {
			return nil, fmt.Errorf("parse first_seen %q: %w", firstSeen, err)
		}
		if f.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen %q: %w", lastSeen, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
