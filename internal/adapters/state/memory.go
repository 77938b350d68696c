// Package state persists per-mailbox-root sync cursors. Three backends are
// provided: in-memory for tests, SQLite for single-host deployments and
// MySQL for shared ones.
package state

import (
	"context"
	"sync"

	"github.com/mikey/mail-ingest/internal/ports"
)

// MemoryStore is an in-memory SyncStateRepository.
type MemoryStore struct {
	mu    sync.Mutex
	roots map[string]*ports.SyncState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roots: make(map[string]*ports.SyncState)}
}

func (s *MemoryStore) Load(_ context.Context, mailboxRoot string) (*ports.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.roots[mailboxRoot]
	if !ok {
		return &ports.SyncState{Files: make(map[int64]ports.FileState)}, nil
	}

	out := &ports.SyncState{
		LastRowID: stored.LastRowID,
		Files:     make(map[int64]ports.FileState, len(stored.Files)),
	}
	for k, v := range stored.Files {
		out.Files[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Commit(_ context.Context, mailboxRoot string, lastRowID int64, files map[int64]ports.FileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.roots[mailboxRoot]
	if !ok {
		stored = &ports.SyncState{Files: make(map[int64]ports.FileState)}
		s.roots[mailboxRoot] = stored
	}
	// The cursor never moves backwards.
	if lastRowID > stored.LastRowID {
		stored.LastRowID = lastRowID
	}
	for k, v := range files {
		stored.Files[k] = v
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, mailboxRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roots, mailboxRoot)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
