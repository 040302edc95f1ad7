package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/logging"
	"github.com/midah/vscsync/internal/syncer"
)

// fakeSyncer records the calls the daemon makes.
type fakeSyncer struct {
	mu       sync.Mutex
	allCalls int
	paths    []string
}

func (f *fakeSyncer) SyncAll(ctx context.Context) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	return &syncer.Result{}, nil
}

func (f *fakeSyncer) SyncPath(ctx context.Context, path string) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return &syncer.Result{}, nil
}

func (f *fakeSyncer) Changed(ctx context.Context) ([]config.SourceConfig, error) {
	return nil, nil
}

func (f *fakeSyncer) syncedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Sources = []config.SourceConfig{{Name: "state", Path: "state.vscdb"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Test config invalid: %v", err)
	}
	return cfg
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeSyncer{}

	if _, err := New(nil, fake, logging.Discard()); err == nil {
		t.Error("New() accepted a nil config")
	}
	if _, err := New(cfg, nil, logging.Discard()); err == nil {
		t.Error("New() accepted a nil syncer")
	}

	d, err := New(cfg, fake, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() on idle daemon failed: %v", err)
	}
}

func TestEligible(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "odd", Path: "data.custom"})

	d, err := New(cfg, &fakeSyncer{}, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(cfg.BaseDir, "state.vscdb"), true},
		{filepath.Join(cfg.BaseDir, "anything.db"), true},
		{filepath.Join(cfg.BaseDir, "history.sqlite"), true},
		{filepath.Join(cfg.BaseDir, "data.custom"), true}, // explicit source
		{filepath.Join(cfg.BaseDir, "notes.txt"), false},
		{filepath.Join(cfg.BaseDir, "state.vscdb-journal"), false},
	}
	for _, tc := range cases {
		if got := d.eligible(tc.path); got != tc.want {
			t.Errorf("eligible(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestWatchDirs(t *testing.T) {
	cfg := testConfig(t)

	wsDir := filepath.Join(cfg.BaseDir, "workspaceStorage")
	for _, id := range []string{"aaa", "bbb"} {
		if err := os.MkdirAll(filepath.Join(wsDir, id), 0755); err != nil {
			t.Fatalf("Failed to create workspace dir: %v", err)
		}
	}
	cfg.Discover = []config.DiscoverRule{{Dir: "workspaceStorage", Pattern: "*/state.vscdb", Format: config.FormatJSON}}

	d, err := New(cfg, &fakeSyncer{}, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	dirs := d.watchDirs()
	want := map[string]bool{
		filepath.Clean(cfg.BaseDir): true,
		filepath.Clean(wsDir):       true,
		filepath.Join(wsDir, "aaa"): true,
		filepath.Join(wsDir, "bbb"): true,
	}
	if len(dirs) != len(want) {
		t.Fatalf("watchDirs() = %v, want %d directories", dirs, len(want))
	}
	for _, dir := range dirs {
		if !want[dir] {
			t.Errorf("Unexpected watch directory: %s", dir)
		}
	}
}

func TestProcessPendingChanges_Debounce(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeSyncer{}

	d, err := New(cfg, fake, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	settled := filepath.Join(cfg.BaseDir, "state.vscdb")
	fresh := filepath.Join(cfg.BaseDir, "other.db")

	d.queueChange(settled)
	d.changeQueueMu.Lock()
	d.changeQueue[settled] = time.Now().Add(-time.Second)
	d.changeQueueMu.Unlock()
	d.queueChange(fresh)

	d.processPendingChanges(200 * time.Millisecond)

	paths := fake.syncedPaths()
	if len(paths) != 1 || paths[0] != settled {
		t.Errorf("Synced paths %v, want only the settled one", paths)
	}

	d.changeQueueMu.Lock()
	_, stillQueued := d.changeQueue[fresh]
	d.changeQueueMu.Unlock()
	if !stillQueued {
		t.Error("Fresh change should remain queued until it settles")
	}
}

func TestQueueChange_CoalescesBurst(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, &fakeSyncer{}, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	// A SQLite write burst produces several events for the same path.
	path := filepath.Join(cfg.BaseDir, "state.vscdb")
	for i := 0; i < 10; i++ {
		d.queueChange(path)
	}

	d.changeQueueMu.Lock()
	queued := len(d.changeQueue)
	d.changeQueueMu.Unlock()
	if queued != 1 {
		t.Errorf("Queue holds %d entries after a burst, want 1", queued)
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, &fakeSyncer{}, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	// A burst of triggers must never block the caller.
	for i := 0; i < 5; i++ {
		d.Trigger()
	}
	if len(d.trigger) != 1 {
		t.Errorf("Trigger queue depth = %d, want 1", len(d.trigger))
	}
}

func TestStart_InitialSyncAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeSyncer{}

	d, err := New(cfg, fake, logging.Discard())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Daemon did not shut down")
	}

	fake.mu.Lock()
	calls := fake.allCalls
	fake.mu.Unlock()
	if calls < 1 {
		t.Error("Daemon never ran the initial full sync")
	}
}
