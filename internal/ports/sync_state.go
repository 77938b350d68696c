package ports

import (
	"context"
	"time"
)

// FileState snapshots the on-disk identity of a processed message file so a
// later run can detect out-of-band modification.
type FileState struct {
	Path  string
	Inode uint64
	MTime time.Time
}

// SyncState is the durable per-mailbox-root cursor. LastRowID never
// decreases.
type SyncState struct {
	LastRowID int64
	Files     map[int64]FileState
}

// SyncStateRepository persists sync cursors keyed by mailbox root.
type SyncStateRepository interface {
	// Load returns the stored state for the root, or a fresh zero state if
	// none exists yet.
	Load(ctx context.Context, mailboxRoot string) (*SyncState, error)

	// Commit advances the cursor to lastRowID and records the file states of
	// the newly accepted rows. Implementations must ignore a lastRowID lower
	// than the stored one.
	Commit(ctx context.Context, mailboxRoot string, lastRowID int64, files map[int64]FileState) error

	// Reset removes all stored state for the root.
	Reset(ctx context.Context, mailboxRoot string) error

	// Close releases the underlying store.
	Close() error
}
