// Package tail follows the newest serial log file in a directory and feeds
// every complete line through the parser into the latest-value store.
//
// A single Engine owns one cursor (active file, byte offset, buffered partial
// line). Ticks are serialised, so the offset only ever moves forward over
// bytes that were handed to the parser in file order. Store writes happen
// after the file has been read, never while it is open.
package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"windmon/internal/wind/locator"
	"windmon/internal/wind/parser"
	"windmon/internal/wind/store"
	"windmon/internal/wind/types"
)

const (
	DefaultInterval = time.Second
	DefaultBackoff  = 2 * time.Second

	// readChunkSize bounds how much of the file is held in memory at once.
	readChunkSize = 1 << 20
	// maxPartialLine is the longest unterminated tail kept between ticks.
	maxPartialLine = 1 << 20
)

// Sink receives every accepted reading after it has been stored. Publish
// must not block.
type Sink interface {
	Publish(key types.SensorKey, r types.Reading)
}

// Ledger records per-file ingestion counts.
type Ledger interface {
	RecordTick(ctx context.Context, path string, delta types.IngestCounts) error
}

type Options struct {
	Dir      string
	Pattern  string
	Interval time.Duration
	Backoff  time.Duration
	// Debug enables per-line diagnostics (rejected line content and reason).
	Debug bool
	// Notify adds an fsnotify trigger on Dir next to the periodic tick.
	Notify bool

	Store  *store.Store
	Sink   Sink
	Ledger Ledger
	Logger *slog.Logger
}

// Cursor is the read position in the active file.
type Cursor struct {
	Path    string
	Offset  int64
	Partial []byte
}

// CursorState is a read-only view of the cursor, safe to hand to other
// goroutines.
type CursorState struct {
	Path     string `json:"active_file"`
	Offset   int64  `json:"byte_offset"`
	Buffered int    `json:"buffered_bytes"`
}

// Stats are running totals since the engine was created.
type Stats struct {
	Ticks       int64 `json:"ticks"`
	Rotations   int64 `json:"rotations"`
	Truncations int64 `json:"truncations"`
	ReadErrors  int64 `json:"read_errors"`
	types.IngestCounts
}

// logFile is the subset of *os.File the reader needs.
type logFile interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

func openLogFile(name string) (logFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type counters struct {
	ticks, rotations, truncations, readErrors atomic.Int64
	bytesRead, parsed, malformed, ignored     atomic.Int64
}

type Engine struct {
	dir      string
	pattern  string
	interval time.Duration
	backoff  time.Duration
	debug    bool
	notify   bool

	store  *store.Store
	sink   Sink
	ledger Ledger
	logger *slog.Logger

	// mu serialises ticks and guards cursor.
	mu     sync.Mutex
	cursor Cursor
	// noMatch is set while the locator finds nothing.
	noMatch bool

	open func(name string) (logFile, error)

	state   atomic.Pointer[CursorState]
	stats   counters
	running atomic.Bool
}

func New(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, errors.New("tail: directory is required")
	}
	if opts.Store == nil {
		return nil, errors.New("tail: store is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = locator.DefaultPattern
	}
	if err := locator.ValidatePattern(opts.Pattern); err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		dir:      opts.Dir,
		pattern:  opts.Pattern,
		interval: opts.Interval,
		backoff:  opts.Backoff,
		debug:    opts.Debug,
		notify:   opts.Notify,
		store:    opts.Store,
		sink:     opts.Sink,
		ledger:   opts.Ledger,
		logger:   opts.Logger,
		open:     openLogFile,
	}
	e.state.Store(&CursorState{})
	return e, nil
}

// Run ticks immediately and then every interval until ctx is cancelled. A
// failed tick is logged and followed by a backoff pause. The cursor is kept
// when Run returns, so a later Run resumes where this one stopped.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("tail: engine already running")
	}
	defer e.running.Store(false)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if e.notify {
		n, err := newDirNotifier(e.dir, e.pattern, e.logger)
		if err != nil {
			e.logger.Warn("file notifications unavailable, polling only", "dir", e.dir, "error", err)
		} else {
			defer func() {
				if err := n.Close(); err != nil {
					e.logger.Warn("close file notifier", "error", err)
				}
			}()
			wake = n.C
		}
	}

	e.logger.Info("tail engine started",
		"dir", e.dir,
		"pattern", e.pattern,
		"interval", e.interval,
		"notify", wake != nil,
	)
	defer e.logFinalStats()

	for {
		if err := e.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("tail tick failed", "error", err, "backoff", e.backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.backoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Tick runs one rotation check, read and dispatch cycle. Errors are I/O
// failures on the active file; the cursor is left as it was before the
// failed read.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publishState()

	e.stats.ticks.Add(1)
	e.checkRotation()
	if e.cursor.Path == "" {
		return nil
	}

	path := e.cursor.Path
	delta, err := e.readNew(ctx)
	e.addCounts(delta)
	if !delta.IsZero() {
		e.record(ctx, path, delta)
		if delta.LinesParsed > 0 || delta.LinesMalformed > 0 {
			e.logger.Debug("tick processed",
				"file", filepath.Base(path),
				"bytes", delta.BytesRead,
				"parsed", delta.LinesParsed,
				"malformed", delta.LinesMalformed,
				"ignored", delta.LinesIgnored,
				"sensors", e.store.Len(),
			)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			e.stats.readErrors.Add(1)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Cursor returns the cursor as of the last completed tick. It never waits
// for a tick in progress.
func (e *Engine) Cursor() CursorState {
	return *e.state.Load()
}

// ActiveFile returns the path being followed, or "" when none.
func (e *Engine) ActiveFile() string {
	return e.Cursor().Path
}

// Stats returns running totals. It never waits for a tick in progress.
func (e *Engine) Stats() Stats {
	return Stats{
		Ticks:       e.stats.ticks.Load(),
		Rotations:   e.stats.rotations.Load(),
		Truncations: e.stats.truncations.Load(),
		ReadErrors:  e.stats.readErrors.Load(),
		IngestCounts: types.IngestCounts{
			BytesRead:      e.stats.bytesRead.Load(),
			LinesParsed:    e.stats.parsed.Load(),
			LinesMalformed: e.stats.malformed.Load(),
			LinesIgnored:   e.stats.ignored.Load(),
		},
	}
}

// checkRotation switches the cursor when a different file is newest. When
// nothing matches the cursor is kept, so a directory that is briefly
// unreadable does not replay a file that is still active.
func (e *Engine) checkRotation() {
	latest, _ := locator.Latest(e.dir, e.pattern)
	if latest == "" {
		if !e.noMatch {
			e.noMatch = true
			attrs := []any{"dir", e.dir}
			if e.cursor.Path != "" {
				attrs = append(attrs, "active_file", filepath.Base(e.cursor.Path))
			}
			e.logger.Warn("no log file matches, keeping current cursor", attrs...)
		}
		return
	}
	e.noMatch = false
	if latest == e.cursor.Path {
		return
	}

	if e.cursor.Path == "" {
		e.logger.Info("following log file", "to", filepath.Base(latest))
	} else {
		e.stats.rotations.Add(1)
		if len(e.cursor.Partial) > 0 {
			e.logger.Warn("dropping unterminated line from previous file",
				"file", filepath.Base(e.cursor.Path),
				"bytes", len(e.cursor.Partial),
			)
		}
		e.logger.Info("switching log file",
			"from", filepath.Base(e.cursor.Path),
			"to", filepath.Base(latest),
		)
	}
	e.cursor = Cursor{Path: latest}
}

// readNew reads [offset, size) of the active file in chunks, assembling and
// dispatching lines as it goes. The offset advances only past bytes that
// were consumed.
func (e *Engine) readNew(ctx context.Context) (types.IngestCounts, error) {
	var delta types.IngestCounts

	f, err := e.open(e.cursor.Path)
	if err != nil {
		return delta, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return delta, fmt.Errorf("stat: %w", err)
	}
	size := info.Size()
	if size < e.cursor.Offset {
		e.stats.truncations.Add(1)
		e.logger.Warn("log file shrank, restarting from offset 0",
			"file", filepath.Base(e.cursor.Path),
			"offset", e.cursor.Offset,
			"size", size,
		)
		e.cursor.Offset = 0
		e.cursor.Partial = nil
	}

	buf := make([]byte, min(size-e.cursor.Offset, readChunkSize))
	for e.cursor.Offset < size {
		if err := ctx.Err(); err != nil {
			return delta, err
		}
		want := min(size-e.cursor.Offset, int64(len(buf)))
		n, err := f.ReadAt(buf[:want], e.cursor.Offset)
		if n > 0 {
			e.cursor.Offset += int64(n)
			delta.BytesRead += int64(n)
			e.consume(buf[:n], &delta)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return delta, err
		}
	}
	return delta, nil
}

// consume splits the buffered partial line plus chunk on '\n'. Complete
// lines are dispatched; the unterminated remainder is kept for next time.
func (e *Engine) consume(chunk []byte, delta *types.IngestCounts) {
	data := chunk
	if len(e.cursor.Partial) > 0 {
		data = append(e.cursor.Partial, chunk...)
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		e.dispatch(data[:i], delta)
		data = data[i+1:]
	}

	switch {
	case len(data) == 0:
		e.cursor.Partial = nil
	case len(data) > maxPartialLine:
		e.logger.Warn("dropping oversized unterminated line",
			"file", filepath.Base(e.cursor.Path),
			"bytes", len(data),
		)
		e.cursor.Partial = nil
	default:
		e.cursor.Partial = bytes.Clone(data)
	}
}

func (e *Engine) dispatch(line []byte, delta *types.IngestCounts) {
	text := string(line)
	if strings.TrimSpace(text) == "" {
		return
	}
	r, err := parser.ParseLine(text)
	switch {
	case err == nil:
		key := r.Key()
		e.store.Upsert(key, r)
		if e.sink != nil {
			e.sink.Publish(key, r)
		}
		delta.LinesParsed++
		if e.debug {
			e.logger.Debug("reading stored",
				"sensor", key.String(),
				"speed", r.Speed,
				"direction", r.Direction,
			)
		}
	case errors.Is(err, parser.ErrMalformed):
		delta.LinesMalformed++
		if e.debug {
			e.logger.Debug("rejected line", "line", parser.Clean(text), "error", err)
		}
	default:
		delta.LinesIgnored++
	}
}

func (e *Engine) record(ctx context.Context, path string, delta types.IngestCounts) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.RecordTick(ctx, path, delta); err != nil {
		e.logger.Warn("ingest ledger update failed", "file", filepath.Base(path), "error", err)
	}
}

func (e *Engine) addCounts(d types.IngestCounts) {
	e.stats.bytesRead.Add(d.BytesRead)
	e.stats.parsed.Add(d.LinesParsed)
	e.stats.malformed.Add(d.LinesMalformed)
	e.stats.ignored.Add(d.LinesIgnored)
}

func (e *Engine) publishState() {
	e.state.Store(&CursorState{
		Path:     e.cursor.Path,
		Offset:   e.cursor.Offset,
		Buffered: len(e.cursor.Partial),
	})
}

func (e *Engine) logFinalStats() {
	s := e.Stats()
	e.logger.Info("tail engine stopped",
		"active_file", e.Cursor().Path,
		"ticks", s.Ticks,
		"rotations", s.Rotations,
		"bytes_read", s.BytesRead,
		"lines_parsed", s.LinesParsed,
		"lines_malformed", s.LinesMalformed,
		"lines_ignored", s.LinesIgnored,
		"read_errors", s.ReadErrors,
	)
}
