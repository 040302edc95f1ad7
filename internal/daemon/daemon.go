// Package daemon runs the continuous sync loop.
//
// The daemon:
// 1. Watches the directories holding the source databases
// 2. Debounces bursts of writes and syncs the affected database
// 3. Periodically runs a full sync pass on a jittered interval
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/syncer"
)

// watchedExts are the database filename extensions that trigger a
// sync. Paths named explicitly in the configuration always trigger,
// whatever their extension.
var watchedExts = map[string]bool{
	".db":      true,
	".vscdb":   true,
	".sqlite":  true,
	".sqlite3": true,
}

// Daemon watches source databases and keeps their exports current.
type Daemon struct {
	cfg    *config.Config
	syncer syncer.Syncer
	logger *log.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // database path -> last event
	changeQueueMu sync.Mutex

	// explicit paths from the configuration, always eligible
	explicit map[string]bool

	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around an existing syncer.
func New(cfg *config.Config, s syncer.Syncer, logger *log.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	explicit := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		explicit[filepath.Clean(cfg.Resolve(src.Path))] = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		cfg:         cfg,
		syncer:      s,
		logger:      logger,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		explicit:    explicit,
		trigger:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// It performs one full sync pass up front so the exports are current
// before the watch loop takes over.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	if _, err := d.syncer.SyncAll(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	dirs := d.watchDirs()
	for _, dir := range dirs {
		if err := d.watcher.Add(dir); err != nil {
			d.logger.Printf("WARNING: cannot watch %s: %v", dir, err)
			continue
		}
		d.logger.Printf("Watching: %s", dir)
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.scheduleFullSync()

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.logger.Println("Daemon stopped")
	return nil
}

// Trigger requests a full sync pass outside the schedule, for example
// from a webhook. It never blocks; overlapping triggers coalesce.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// watchDirs collects the directories worth watching: the parents of
// the explicit sources plus the discovery roots and their immediate
// subdirectories, deduplicated.
func (d *Daemon) watchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	for _, src := range d.cfg.Sources {
		add(filepath.Dir(d.cfg.Resolve(src.Path)))
	}

	for _, rule := range d.cfg.Discover {
		root := d.cfg.Resolve(rule.Dir)
		add(root)
		// Patterns like */state.vscdb live one level down, and
		// fsnotify does not recurse.
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				add(filepath.Join(root, entry.Name()))
			}
		}
	}

	return dirs
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New directory under a discovery root: start watching
			// it so databases created inside are seen.
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := d.watcher.Add(event.Name); err == nil {
						d.logger.Printf("Watching new directory: %s", event.Name)
					}
					continue
				}
			}

			if !d.eligible(event.Name) {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// eligible reports whether an event path belongs to a database we
// export.
func (d *Daemon) eligible(path string) bool {
	clean := filepath.Clean(path)
	if d.explicit[clean] {
		return true
	}
	return watchedExts[filepath.Ext(clean)]
}

// queueChange records a file event for debounced processing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[filepath.Clean(path)] = time.Now()
}

// processChangeQueue drains the change queue on a short ticker.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	debounce := d.cfg.Scheduler.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(debounce)
		}
	}
}

// processPendingChanges syncs queued paths whose last event is at
// least the debounce interval old. SQLite writes arrive in bursts
// (main file, then -wal, then -shm), and waiting lets a burst settle
// into a single export.
func (d *Daemon) processPendingChanges(debounce time.Duration) {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) >= debounce {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.logger.Printf("Change detected: %s", path)
		if _, err := d.syncer.SyncPath(d.ctx, path); err != nil {
			d.logger.Printf("ERROR: sync of %s failed: %v", path, err)
		}
	}
}

// scheduleFullSync runs full passes on the configured interval with
// jitter, and on demand via Trigger.
func (d *Daemon) scheduleFullSync() {
	defer d.wg.Done()

	interval := d.cfg.Scheduler.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	timer := time.NewTimer(d.nextDelay(interval))
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-timer.C:
			d.fullSync("scheduled")
			timer.Reset(d.nextDelay(interval))

		case <-d.trigger:
			d.fullSync("triggered")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.nextDelay(interval))
		}
	}
}

// nextDelay spreads scheduled passes so many daemons started together
// do not sync in lockstep.
func (d *Daemon) nextDelay(interval time.Duration) time.Duration {
	jitter := d.cfg.Scheduler.Jitter
	if jitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(int64(jitter)))
}

func (d *Daemon) fullSync(reason string) {
	d.logger.Printf("Full sync pass (%s)", reason)
	if _, err := d.syncer.SyncAll(d.ctx); err != nil {
		d.logger.Printf("ERROR: full sync failed: %v", err)
	}
}
