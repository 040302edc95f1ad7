package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeJSON writes the table->records document atomically.
// encoding/json sorts map keys, so re-exporting unchanged data
// produces byte-identical output.
func writeJSON(outPath string, doc map[string][]Record) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	data = append(data, '\n')
	return writeAtomic(outPath, data)
}

// writeJSONL writes one record per line, tables in the given order,
// atomically.
func writeJSONL(outPath string, order []string, doc map[string][]Record) error {
	var buf []byte
	for _, table := range order {
		for _, rec := range doc[table] {
			line, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrOutputWrite, err)
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}
	return writeAtomic(outPath, buf)
}

// appendJSONL appends records as lines to an existing (or new) file,
// syncing before close so a saved cursor never points past data that
// did not reach disk.
func appendJSONL(outPath string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("%w: %v", ErrOutputWrite, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("%w: %v", ErrOutputWrite, err)
		}
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return nil
}

// writeAtomic writes data to a temp file beside path, fsyncs, then
// renames into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	// The rename itself must reach disk, or a power loss could keep
	// the advanced cursor while losing the renamed output.
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return nil
}

// syncDir fsyncs a directory so renames inside it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if closeErr := d.Close(); err == nil {
		err = closeErr
	}
	return err
}
