// Package marker persists per-source sync cursors.
//
// The store is one JSON object mapping source path to cursor. A cursor
// is only advanced by callers after the corresponding export has been
// durably written; a crash in between re-exports the source on the
// next run instead of losing data. Entries are never removed
// automatically, even when a source disappears.
package marker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Cursor records how far a source has been synced.
type Cursor struct {
	// ModTime is the source file's modification time at the last
	// successful export.
	ModTime time.Time `json:"mod_time"`
	// Size is the source file's size in bytes at that time.
	Size int64 `json:"size"`
	// Checksum is the SHA-256 of the source file, when change
	// detection by content is enabled. Empty otherwise.
	Checksum string `json:"checksum,omitempty"`
	// Rows maps table name to the last exported key value for
	// incremental sources.
	Rows map[string]int64 `json:"rows,omitempty"`
	// SyncedAt is when the cursor was last advanced.
	SyncedAt time.Time `json:"synced_at"`
}

// Store is the persisted path -> cursor mapping.
type Store struct {
	path    string
	cursors map[string]Cursor
	logger  *log.Logger
}

// Load reads the store at path. A missing file yields an empty store.
// An unreadable or corrupt file also yields an empty store, with a
// warning: the consequence is a harmless full re-sync, not data loss.
func Load(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[marker] ", log.LstdFlags)
	}

	s := &Store{
		path:    path,
		cursors: make(map[string]Cursor),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Printf("WARNING: cannot read marker store %s: %v (treating as empty, full re-sync)", path, err)
		}
		return s
	}

	if err := json.Unmarshal(data, &s.cursors); err != nil {
		logger.Printf("WARNING: marker store %s is corrupt: %v (treating as empty, full re-sync)", path, err)
		s.cursors = make(map[string]Cursor)
	}
	return s
}

// Cursor returns the cursor for a source path.
func (s *Store) Cursor(source string) (Cursor, bool) {
	c, ok := s.cursors[source]
	return c, ok
}

// Set records a cursor for a source path in memory. Call Save to
// persist it.
func (s *Store) Set(source string, c Cursor) {
	if c.SyncedAt.IsZero() {
		c.SyncedAt = time.Now().UTC()
	}
	s.cursors[source] = c
}

// Len returns the number of tracked sources.
func (s *Store) Len() int {
	return len(s.cursors)
}

// Sources returns the tracked source paths in sorted order.
func (s *Store) Sources() []string {
	paths := make([]string, 0, len(s.cursors))
	for p := range s.cursors {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Save writes the store atomically. A failure here is the one marker
// error that must escalate: without a durable store every future run
// degrades to a full re-sync.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create marker store directory: %w", err)
	}

	data, err := json.MarshalIndent(s.cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write marker store: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write marker store: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync marker store: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close marker store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace marker store: %w", err)
	}

	// Make the rename durable so the store never outlives the outputs
	// it points at.
	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("failed to open marker store directory: %w", err)
	}
	syncErr := dir.Sync()
	if closeErr := dir.Close(); syncErr == nil {
		syncErr = closeErr
	}
	if syncErr != nil {
		return fmt.Errorf("failed to sync marker store directory: %w", syncErr)
	}
	return nil
}
