package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/export"
	"github.com/midah/vscsync/internal/lockfile"
	"github.com/midah/vscsync/internal/marker"
)

// SourceError records one source's failure within a run.
type SourceError struct {
	Name string
	Path string
	Err  error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s (%s): %v", e.Name, e.Path, e.Err)
}

// Result summarizes one sync run.
type Result struct {
	// SkippedLock is true when another invocation held the advisory
	// lock and this run did nothing.
	SkippedLock bool

	Synced  int
	Skipped int
	Failed  int
	Rows    int

	// Errors holds the per-source failures that were tolerated.
	Errors []SourceError
}

// Options configures a Syncer.
type Options struct {
	// Checksum enables SHA-256 content comparison in addition to
	// mtime/size, catching rewrites that preserve both.
	Checksum bool
	// Logger defaults to stderr.
	Logger *log.Logger
	// OnEvent, when set, receives syncer notifications.
	OnEvent func(Event)
}

type syncer struct {
	cfg      *config.Config
	exporter *export.Exporter
	checksum bool
	logger   *log.Logger
	onEvent  func(Event)
}

// New creates a Syncer over the given configuration.
func New(cfg *config.Config, opts *Options) Syncer {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		cfg:      cfg,
		exporter: export.New(logger),
		checksum: opts.Checksum,
		logger:   logger,
		onEvent:  opts.OnEvent,
	}
}

func (s *syncer) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// SyncAll implements Syncer.SyncAll.
func (s *syncer) SyncAll(ctx context.Context) (*Result, error) {
	return s.run(ctx, "")
}

// SyncPath implements Syncer.SyncPath.
func (s *syncer) SyncPath(ctx context.Context, path string) (*Result, error) {
	return s.run(ctx, filepath.Clean(path))
}

// run executes one sync pass. When only is non-empty, sources whose
// database path differs are left alone.
func (s *syncer) run(ctx context.Context, only string) (*Result, error) {
	result := &Result{}

	lock, err := lockfile.Acquire(s.cfg.StatePath("sync.lock"))
	if errors.Is(err, lockfile.ErrLocked) {
		s.logger.Printf("Another sync invocation holds the lock, skipping this run")
		result.SkippedLock = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	defer lock.Release()

	store := marker.Load(s.cfg.StatePath("markers.json"), s.logger)

	sources, err := s.gather()
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		resolved := s.cfg.Resolve(src.Path)
		if only != "" && filepath.Clean(resolved) != only {
			continue
		}

		rows, err := s.syncOne(ctx, store, src, resolved)
		switch {
		case err == nil:
			if rows < 0 {
				// Unchanged since the cursor.
				result.Skipped++
				continue
			}
			result.Synced++
			result.Rows += rows
			s.emit(Event{Type: EventSourceSynced, Source: src.Name, Rows: rows})

		case errors.Is(err, export.ErrSourceUnavailable):
			s.logger.Printf("WARNING: skipping %s: %v", src.Name, err)
			result.Skipped++
			s.emit(Event{Type: EventSyncError, Source: src.Name, Error: err.Error()})

		case errors.Is(err, export.ErrOutputWrite):
			// Unrecoverable I/O: abort the run, cursor untouched.
			result.Failed++
			result.Errors = append(result.Errors, SourceError{src.Name, resolved, err})
			s.emit(Event{Type: EventSyncError, Source: src.Name, Error: err.Error()})
			s.emitComplete(result)
			return result, fmt.Errorf("output write failed for %s: %w", src.Name, err)

		default:
			// Tolerated per-source failure: log and continue.
			s.logger.Printf("ERROR: failed to sync %s: %v", src.Name, err)
			result.Failed++
			result.Errors = append(result.Errors, SourceError{src.Name, resolved, err})
			s.emit(Event{Type: EventSyncError, Source: src.Name, Error: err.Error()})
		}
	}

	// Persist all advanced cursors. Losing the store entirely is the
	// one marker failure that escalates.
	if err := store.Save(); err != nil {
		return result, fmt.Errorf("failed to save marker store: %w", err)
	}

	s.logger.Printf("Sync run complete: synced=%d skipped=%d failed=%d rows=%d",
		result.Synced, result.Skipped, result.Failed, result.Rows)
	s.emitComplete(result)
	return result, nil
}

func (s *syncer) emitComplete(r *Result) {
	s.emit(Event{
		Type:    EventSyncComplete,
		Synced:  r.Synced,
		Skipped: r.Skipped,
		Failed:  r.Failed,
	})
}

// syncOne exports a single source if it changed. It returns the number
// of rows exported, or -1 when the source was unchanged. The cursor is
// advanced in memory only after the export function returned, which in
// turn only happens after the output is durably on disk.
func (s *syncer) syncOne(ctx context.Context, store *marker.Store, src config.SourceConfig, resolved string) (int, error) {
	fi, err := os.Stat(resolved)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", export.ErrSourceUnavailable, resolved, err)
	}

	cursor, known := store.Cursor(resolved)

	var sum string
	if s.checksum {
		sum, err = fileChecksum(resolved)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", export.ErrSourceUnavailable, resolved, err)
		}
	}

	if known && !changed(fi, cursor, sum) {
		return -1, nil
	}

	// Snapshot the stat before exporting. Writes that land during the
	// export make the next comparison see a change and re-export.
	next := marker.Cursor{
		ModTime:  fi.ModTime(),
		Size:     fi.Size(),
		Checksum: sum,
		Rows:     cursor.Rows,
	}

	outPath := s.outputPath(src)

	var rows int
	if src.Incremental != nil {
		inc := src.Incremental
		after := int64(0)
		if cursor.Rows != nil {
			after = cursor.Rows[inc.Table]
		}
		// Drain in batches so a large backlog still lands in one run.
		for {
			n, newMax, err := s.exporter.ExportIncremental(ctx, resolved, outPath, inc.Table, inc.Key, after, inc.BatchSize)
			if err != nil {
				return 0, err
			}
			rows += n
			// Only integer key values advance the cursor. A batch
			// that moves nothing would refetch the same rows forever.
			if n > 0 && newMax == after {
				return 0, fmt.Errorf("incremental key %s.%s did not advance past %d; the key column must hold integer values", inc.Table, inc.Key, after)
			}
			after = newMax
			if n < inc.BatchSize {
				break
			}
		}
		if next.Rows == nil {
			next.Rows = make(map[string]int64, 1)
		}
		next.Rows[inc.Table] = after
	} else {
		stats, err := s.exporter.Export(ctx, resolved, outPath, src.Format, src.Tables)
		if err != nil {
			return 0, err
		}
		rows = stats.Rows
	}

	store.Set(resolved, next)
	return rows, nil
}

// Changed implements Syncer.Changed.
func (s *syncer) Changed(ctx context.Context) ([]config.SourceConfig, error) {
	store := marker.Load(s.cfg.StatePath("markers.json"), s.logger)

	sources, err := s.gather()
	if err != nil {
		return nil, err
	}

	var out []config.SourceConfig
	for _, src := range sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resolved := s.cfg.Resolve(src.Path)
		fi, err := os.Stat(resolved)
		if err != nil {
			continue
		}
		cursor, known := store.Cursor(resolved)
		var sum string
		if s.checksum {
			if sum, err = fileChecksum(resolved); err != nil {
				continue
			}
		}
		if !known || changed(fi, cursor, sum) {
			out = append(out, src)
		}
	}
	return out, nil
}

// gather combines the configured sources with those found by the
// discovery rules, deduplicated by resolved path.
func (s *syncer) gather() ([]config.SourceConfig, error) {
	sources := make([]config.SourceConfig, 0, len(s.cfg.Sources))
	seen := make(map[string]bool)

	for _, src := range s.cfg.Sources {
		seen[filepath.Clean(s.cfg.Resolve(src.Path))] = true
		sources = append(sources, src)
	}

	for _, rule := range s.cfg.Discover {
		dir := s.cfg.Resolve(rule.Dir)
		matches, err := filepath.Glob(filepath.Join(dir, rule.Pattern))
		if err != nil {
			return nil, fmt.Errorf("discover rule %s/%s is invalid: %w", rule.Dir, rule.Pattern, err)
		}
		for _, match := range matches {
			clean := filepath.Clean(match)
			if seen[clean] {
				continue
			}
			seen[clean] = true
			sources = append(sources, config.SourceConfig{
				Name:   discoveredName(dir, clean),
				Path:   clean,
				Format: rule.Format,
			})
		}
	}

	return sources, nil
}

// outputPath places the export next to its peers, named after the
// source with the format's extension.
func (s *syncer) outputPath(src config.SourceConfig) string {
	ext := ".json"
	if src.Format == config.FormatJSONL {
		ext = ".jsonl"
	}
	return filepath.Join(s.cfg.Resolve(s.cfg.OutputDir), src.Name+ext)
}

// changed reports whether the on-disk state moved past the cursor.
func changed(fi fs.FileInfo, c marker.Cursor, sum string) bool {
	if fi.ModTime().After(c.ModTime) {
		return true
	}
	if fi.Size() != c.Size {
		return true
	}
	if sum != "" && sum != c.Checksum {
		return true
	}
	return false
}

// discoveredName derives a stable source name from the path relative
// to the discovery root: workspaceStorage/abc123/state.vscdb becomes
// abc123-state.
func discoveredName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, string(filepath.Separator), "-")
}

// fileChecksum hashes a file with SHA-256.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
