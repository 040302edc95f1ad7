package export

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/logging"
)

// makeDB creates a fixture database and runs the given statements.
func makeDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("Failed to open fixture database: %v", err)
	}
	defer conn.Close()

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("Failed to exec %q: %v", stmt, err)
		}
	}
	return path
}

func newTestExporter() *Exporter {
	return New(logging.Discard())
}

// TestExport_PromptsDocument checks the canonical document shape:
// a mapping of table name to a list of row records.
func TestExport_PromptsDocument(t *testing.T) {
	dbPath := makeDB(t,
		`CREATE TABLE prompts (id INTEGER PRIMARY KEY, text TEXT)`,
		`INSERT INTO prompts VALUES (1, 'hello'), (2, 'world')`,
	)
	outPath := filepath.Join(t.TempDir(), "out.json")

	stats, err := newTestExporter().Export(context.Background(), dbPath, outPath, config.FormatJSON, nil)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if stats.Tables != 1 || stats.Rows != 2 {
		t.Errorf("stats = %+v, want 1 table, 2 rows", stats)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}

	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	rows, ok := doc["prompts"]
	if !ok {
		t.Fatal("Output missing prompts table")
	}
	if len(rows) != 2 {
		t.Fatalf("len(prompts) = %d, want 2", len(rows))
	}
	if rows[0]["id"] != float64(1) || rows[0]["text"] != "hello" {
		t.Errorf("prompts[0] = %v, want {id:1, text:hello}", rows[0])
	}
	if rows[1]["id"] != float64(2) || rows[1]["text"] != "world" {
		t.Errorf("prompts[1] = %v, want {id:2, text:world}", rows[1])
	}
}

// TestExport_EmptyTable verifies an empty table yields an empty list,
// not a missing key and not an error.
func TestExport_EmptyTable(t *testing.T) {
	dbPath := makeDB(t, `CREATE TABLE empty_one (id INTEGER)`)
	outPath := filepath.Join(t.TempDir(), "out.json")

	if _, err := newTestExporter().Export(context.Background(), dbPath, outPath, config.FormatJSON, nil); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	data, _ := os.ReadFile(outPath)
	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	rows, ok := doc["empty_one"]
	if !ok {
		t.Fatal("Empty table key missing from document")
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("empty_one = %v, want []", rows)
	}
	if !bytes.Contains(data, []byte(`"empty_one": []`)) {
		t.Errorf("Document does not serialize the empty table as []: %s", data)
	}
}

// TestExport_BinaryRoundTrip verifies BLOB values decode back to the
// original bytes.
func TestExport_BinaryRoundTrip(t *testing.T) {
	original := []byte{0x00, 0x01, 0xfe, 0xff, 'v', 's', 'c'}

	path := filepath.Join(t.TempDir(), "blob.db")
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("Failed to open fixture database: %v", err)
	}
	if _, err := conn.Exec(`CREATE TABLE blobs (id INTEGER PRIMARY KEY, payload BLOB)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO blobs VALUES (1, ?)`, original); err != nil {
		t.Fatalf("Failed to insert blob: %v", err)
	}
	conn.Close()

	outPath := filepath.Join(t.TempDir(), "out.json")
	if _, err := newTestExporter().Export(context.Background(), path, outPath, config.FormatJSON, nil); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	data, _ := os.ReadFile(outPath)
	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	encoded, ok := doc["blobs"][0]["payload"].(string)
	if !ok {
		t.Fatalf("payload is %T, want base64 string", doc["blobs"][0]["payload"])
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("Round trip mismatch: got %x, want %x", decoded, original)
	}
}

// TestExport_MissingDatabase verifies the skip-not-fatal error kind.
func TestExport_MissingDatabase(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.json")
	_, err := newTestExporter().Export(context.Background(),
		filepath.Join(t.TempDir(), "gone.db"), outPath, config.FormatJSON, nil)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("No output file should be created for an unavailable source")
	}
}

// TestExport_JSONL verifies one valid JSON object per line.
func TestExport_JSONL(t *testing.T) {
	dbPath := makeDB(t,
		`CREATE TABLE prompts (id INTEGER PRIMARY KEY, text TEXT)`,
		`INSERT INTO prompts VALUES (1, 'hello'), (2, 'world')`,
	)
	outPath := filepath.Join(t.TempDir(), "out.jsonl")

	if _, err := newTestExporter().Export(context.Background(), dbPath, outPath, config.FormatJSONL, nil); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("Output has %d lines, want 2", lines)
	}
}

// TestExport_TableSubset restricts export to configured tables.
func TestExport_TableSubset(t *testing.T) {
	dbPath := makeDB(t,
		`CREATE TABLE wanted (id INTEGER)`,
		`CREATE TABLE ignored (id INTEGER)`,
		`INSERT INTO wanted VALUES (1)`,
		`INSERT INTO ignored VALUES (1)`,
	)
	outPath := filepath.Join(t.TempDir(), "out.json")

	if _, err := newTestExporter().Export(context.Background(), dbPath, outPath, config.FormatJSON, []string{"wanted"}); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	data, _ := os.ReadFile(outPath)
	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if _, ok := doc["wanted"]; !ok {
		t.Error("wanted table missing")
	}
	if _, ok := doc["ignored"]; ok {
		t.Error("ignored table should not be exported")
	}
}

// TestExportIncremental walks a cursor through a table in batches and
// only appends rows past the cursor.
func TestExportIncremental(t *testing.T) {
	dbPath := makeDB(t,
		`CREATE TABLE api_activity (id INTEGER PRIMARY KEY, endpoint TEXT)`,
		`INSERT INTO api_activity VALUES (1, '/a'), (2, '/b'), (3, '/c')`,
	)
	outPath := filepath.Join(t.TempDir(), "activity.jsonl")
	exp := newTestExporter()
	ctx := context.Background()

	// First batch of 2.
	n, max, err := exp.ExportIncremental(ctx, dbPath, outPath, "api_activity", "id", 0, 2)
	if err != nil {
		t.Fatalf("ExportIncremental() failed: %v", err)
	}
	if n != 2 || max != 2 {
		t.Fatalf("First batch: n=%d max=%d, want n=2 max=2", n, max)
	}

	// Remainder.
	n, max, err = exp.ExportIncremental(ctx, dbPath, outPath, "api_activity", "id", max, 100)
	if err != nil {
		t.Fatalf("ExportIncremental() failed: %v", err)
	}
	if n != 1 || max != 3 {
		t.Fatalf("Second batch: n=%d max=%d, want n=1 max=3", n, max)
	}

	// Cursor caught up: nothing appended, file unchanged.
	before, _ := os.ReadFile(outPath)
	n, max, err = exp.ExportIncremental(ctx, dbPath, outPath, "api_activity", "id", max, 100)
	if err != nil {
		t.Fatalf("ExportIncremental() failed: %v", err)
	}
	if n != 0 || max != 3 {
		t.Fatalf("Third batch: n=%d max=%d, want n=0 max=3", n, max)
	}
	after, _ := os.ReadFile(outPath)
	if !bytes.Equal(before, after) {
		t.Error("File changed even though the cursor was caught up")
	}

	// All three rows present, in key order.
	var ids []float64
	scanner := bufio.NewScanner(bytes.NewReader(after))
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Bad JSONL line: %v", err)
		}
		ids = append(ids, rec["id"].(float64))
	}
	want := []float64{1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("Got %d lines, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %v, want %v", i, ids[i], want[i])
		}
	}
}

// TestMaxKey reads the current high-water mark of a key column.
func TestMaxKey(t *testing.T) {
	dbPath := makeDB(t,
		`CREATE TABLE t (id INTEGER PRIMARY KEY)`,
		`INSERT INTO t VALUES (7), (41)`,
	)
	max, err := newTestExporter().MaxKey(context.Background(), dbPath, "t", "id")
	if err != nil {
		t.Fatalf("MaxKey() failed: %v", err)
	}
	if max != 41 {
		t.Errorf("MaxKey() = %d, want 41", max)
	}

	empty := makeDB(t, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	max, err = newTestExporter().MaxKey(context.Background(), empty, "t", "id")
	if err != nil {
		t.Fatalf("MaxKey() on empty table failed: %v", err)
	}
	if max != 0 {
		t.Errorf("MaxKey() on empty table = %d, want 0", max)
	}
}
