// Package syncer drives incremental export: it decides which sources
// changed since their persisted cursor, delegates to the exporter, and
// advances cursors only after the export has been durably written.
package syncer

import (
	"context"

	"github.com/midah/vscsync/internal/config"
)

// Syncer re-exports sources that changed since their cursor.
//
// One source failing to export does not block the others. Only
// output-write failures and a marker store that cannot be saved
// escalate to a failed run.
type Syncer interface {
	// SyncAll processes every configured and discovered source once,
	// under the advisory lock. If the lock is held by another
	// invocation the run is skipped and the result says so.
	SyncAll(ctx context.Context) (*Result, error)

	// SyncPath processes only sources whose database path matches
	// the given file path. Used by the watch trigger, which knows
	// which file changed.
	SyncPath(ctx context.Context, path string) (*Result, error)

	// Changed returns the sources whose on-disk state differs from
	// the stored cursor, without exporting anything.
	Changed(ctx context.Context) ([]config.SourceConfig, error)
}

// EventType classifies syncer notifications.
type EventType string

const (
	// EventSourceSynced is emitted after one source exports cleanly.
	EventSourceSynced EventType = "source_synced"
	// EventSyncError is emitted when one source fails.
	EventSyncError EventType = "sync_error"
	// EventSyncComplete is emitted at the end of a run.
	EventSyncComplete EventType = "sync_complete"
)

// Event is a syncer notification, consumed by the watch daemon and
// the event server.
type Event struct {
	Type    EventType `json:"type"`
	Source  string    `json:"source,omitempty"`
	Rows    int       `json:"rows,omitempty"`
	Synced  int       `json:"synced,omitempty"`
	Skipped int       `json:"skipped,omitempty"`
	Failed  int       `json:"failed,omitempty"`
	Error   string    `json:"error,omitempty"`
}
