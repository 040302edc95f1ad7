// Package export reads SQLite databases and serializes their rows to
// JSON or JSONL files.
//
// The exporter is stateless and single-shot: open a database, select
// rows, write a file. Values pass through untyped; binary column values
// are base64-encoded so they round-trip losslessly, and anything the
// driver returns that has no JSON representation is stringified rather
// than failing the row.
package export

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/midah/vscsync/internal/config"
)

var (
	// ErrSourceUnavailable indicates the database file is missing or
	// cannot be opened. Callers skip the source and continue.
	ErrSourceUnavailable = errors.New("source database unavailable")

	// ErrOutputWrite indicates the output file could not be written
	// (disk full, permissions). This aborts the source's export and
	// must propagate to the caller.
	ErrOutputWrite = errors.New("output write failed")
)

// Record is one database row as an opaque key/value mapping.
type Record = map[string]any

// Stats summarizes a completed export.
type Stats struct {
	Tables int
	Rows   int
}

// Exporter converts SQLite databases to JSON/JSONL files.
type Exporter struct {
	logger *log.Logger
}

// New creates an Exporter. A nil logger defaults to stderr.
func New(logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	return &Exporter{logger: logger}
}

// open opens the database read-only with a busy timeout so a briefly
// locked IDE database reads instead of failing outright.
func (e *Exporter) open(ctx context.Context, dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, dbPath, err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, dbPath, err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, dbPath, err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, dbPath, err)
	}

	return conn, nil
}

// Export reads all rows of all tables (or the given subset) from the
// database at dbPath and writes them to outPath in the given format.
//
// The JSON format produces a single document mapping table name to a
// list of records; empty tables appear as empty lists. The JSONL
// format produces one record object per line, tables in enumeration
// order. The output is written atomically via a temp file so a crash
// never leaves a torn file at outPath.
func (e *Exporter) Export(ctx context.Context, dbPath, outPath string, format config.Format, tables []string) (Stats, error) {
	var stats Stats

	conn, err := e.open(ctx, dbPath)
	if err != nil {
		return stats, err
	}
	defer conn.Close()

	names, err := listTables(ctx, conn, tables)
	if err != nil {
		return stats, fmt.Errorf("failed to list tables in %s: %w", dbPath, err)
	}

	doc := make(map[string][]Record, len(names))
	for _, name := range names {
		records, err := e.readTable(ctx, conn, name)
		if err != nil {
			return stats, fmt.Errorf("failed to read table %s: %w", name, err)
		}
		doc[name] = records
		stats.Tables++
		stats.Rows += len(records)
	}

	switch format {
	case config.FormatJSONL:
		err = writeJSONL(outPath, names, doc)
	default:
		err = writeJSON(outPath, doc)
	}
	if err != nil {
		return stats, err
	}

	e.logger.Printf("Exported %s: %d tables, %d rows -> %s", dbPath, stats.Tables, stats.Rows, outPath)
	return stats, nil
}

// ExportIncremental appends rows of one table whose key column exceeds
// after, in key order, as JSONL lines to outPath. It returns the new
// maximum key value seen (or after when no rows matched).
//
// Appending is not atomic; a crash between append and cursor save leads
// to the same rows being appended again on retry. That is the intended
// at-least-once behavior.
func (e *Exporter) ExportIncremental(ctx context.Context, dbPath, outPath, table, key string, after int64, limit int) (int, int64, error) {
	conn, err := e.open(ctx, dbPath)
	if err != nil {
		return 0, after, err
	}
	defer conn.Close()

	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s > ? ORDER BY %s LIMIT ?`,
		quoteIdent(table), quoteIdent(key), quoteIdent(key))

	rows, err := conn.QueryContext(ctx, query, after, limit)
	if err != nil {
		return 0, after, fmt.Errorf("incremental query on %s failed: %w", table, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return 0, after, fmt.Errorf("failed to scan %s: %w", table, err)
	}

	if len(records) == 0 {
		return 0, after, nil
	}

	maxKey := after
	for _, rec := range records {
		if v, ok := rec[key].(int64); ok && v > maxKey {
			maxKey = v
		}
	}

	if err := appendJSONL(outPath, records); err != nil {
		return 0, after, err
	}

	e.logger.Printf("Appended %d rows of %s (key %s > %d) -> %s", len(records), table, key, after, outPath)
	return len(records), maxKey, nil
}

// MaxKey returns the largest value of the key column, or 0 for an
// empty table.
func (e *Exporter) MaxKey(ctx context.Context, dbPath, table, key string) (int64, error) {
	conn, err := e.open(ctx, dbPath)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var max sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(%s) FROM %s`, quoteIdent(key), quoteIdent(table))
	if err := conn.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max %s.%s: %w", table, key, err)
	}
	return max.Int64, nil
}

// listTables enumerates user tables, optionally restricted to subset.
// Internal sqlite_* tables are never exported.
func listTables(ctx context.Context, conn *sql.DB, subset []string) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(subset) == 0 {
		return names, nil
	}

	want := make(map[string]bool, len(subset))
	for _, s := range subset {
		want[s] = true
	}
	var filtered []string
	for _, name := range names {
		if want[name] {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

// readTable selects every row of the table in natural retrieval order.
func (e *Exporter) readTable(ctx context.Context, conn *sql.DB, table string) ([]Record, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// scanRecords drains rows into records, converting driver values to
// JSON-safe ones. It always returns a non-nil slice so empty tables
// serialize as [] rather than null.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col] = convertValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// convertValue maps a driver value to a JSON-representable one.
// Binary values are base64-encoded; a value of an unexpected type is
// stringified best-effort rather than failing the row.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil, int64, float64, string, bool:
		return val
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

// quoteIdent quotes a SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
