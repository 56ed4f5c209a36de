package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

// OpenErrorDB opens (creating if needed) the DuckDB file that error records
// are written to.
func OpenErrorDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open error database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open error database %s: %w", path, err)
	}
	return db, nil
}

// DuckDBHandler is a slog.Handler that forwards every record to next and
// also stores error records in the merge_errors table.
type DuckDBHandler struct {
	next  slog.Handler
	db    *sql.DB
	runID string
	attrs []slog.Attr
}

// NewDuckDBHandler creates the merge_errors table if needed. Rows written
// through the handler share one run ID.
func NewDuckDBHandler(next slog.Handler, db *sql.DB) (*DuckDBHandler, error) {
	h := &DuckDBHandler{
		next:  next,
		db:    db,
		runID: uuid.NewString(),
	}

	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// RunID identifies the rows written by this handler.
func (h *DuckDBHandler) RunID() string {
	return h.runID
}

func (h *DuckDBHandler) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS merge_errors (
		id VARCHAR,
		run_id VARCHAR,
		timestamp TIMESTAMP,
		level VARCHAR,
		message VARCHAR,
		rule VARCHAR,
		source_file VARCHAR,
		line_number INTEGER,
		attributes JSON
	);
	`
	_, err := h.db.Exec(query)
	return err
}

// Enabled implements slog.Handler
func (h *DuckDBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *DuckDBHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.next.Enabled(ctx, r.Level) {
		if err := h.next.Handle(ctx, r); err != nil {
			return err
		}
	}

	if r.Level < slog.LevelError {
		return nil
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	var rule string
	if v, ok := attrs["rule"].(string); ok {
		rule = v
	}

	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		attrsJSON = []byte("{}")
	}

	var sourceFile string
	var line int
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		sourceFile, line = f.File, f.Line
	}

	query := `
	INSERT INTO merge_errors (
		id, run_id, timestamp, level, message,
		rule, source_file, line_number, attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = h.db.ExecContext(context.WithoutCancel(ctx), query,
		uuid.NewString(), h.runID, r.Time.UTC(), r.Level.String(), r.Message,
		rule, sourceFile, line, string(attrsJSON),
	)
	if err != nil {
		// the record already reached next, so losing the row must not fail the caller
		fmt.Fprintf(os.Stderr, "Failed to log error to DuckDB: %v\n", err)
	}
	return nil
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

// WithAttrs implements slog.Handler
func (h *DuckDBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

// WithGroup implements slog.Handler
func (h *DuckDBHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}
