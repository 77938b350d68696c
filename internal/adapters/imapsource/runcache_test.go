package imapsource

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestFinalizeMakesFileVisible(t *testing.T) {
	cache := NewRunCache(t.TempDir(), 0, zap.NewNop())
	if _, err := cache.CreateRunRoot(); err != nil {
		t.Fatalf("CreateRunRoot() error = %v", err)
	}

	tempPath, err := cache.WriteTemp([]byte("raw message"))
	if err != nil {
		t.Fatalf("WriteTemp() error = %v", err)
	}
	if !strings.HasSuffix(tempPath, ".tmp") {
		t.Errorf("temp path %q lacks .tmp suffix", tempPath)
	}

	finalPath, err := cache.Finalize(tempPath)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if strings.HasSuffix(finalPath, ".tmp") {
		t.Errorf("final path %q still has .tmp suffix", finalPath)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Errorf("temp file still present after finalize")
	}
	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("finalized file unreadable: %v", err)
	}
	if !bytes.Equal(data, []byte("raw message")) {
		t.Errorf("finalized content = %q", data)
	}
}

func TestEnforceCapEvictsProcessedOldestFirst(t *testing.T) {
	cache := NewRunCache(t.TempDir(), 100, zap.NewNop())
	if _, err := cache.CreateRunRoot(); err != nil {
		t.Fatalf("CreateRunRoot() error = %v", err)
	}

	payload := make([]byte, 40)
	var finals []string
	for i := 0; i < 4; i++ {
		tempPath, err := cache.WriteTemp(payload)
		if err != nil {
			t.Fatalf("WriteTemp() error = %v", err)
		}
		finalPath, err := cache.Finalize(tempPath)
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		finals = append(finals, finalPath)
	}

	// Nothing processed yet: over cap, but unprocessed entries are never
	// evicted.
	cache.EnforceCap()
	if got := cache.TotalBytes(); got != 160 {
		t.Fatalf("TotalBytes() = %d, want 160 with nothing evictable", got)
	}

	cache.MarkProcessed(finals[0])
	cache.MarkProcessed(finals[1])
	cache.MarkProcessed(finals[2])
	cache.EnforceCap()

	if got := cache.TotalBytes(); got > 100 {
		t.Errorf("TotalBytes() = %d, want <= 100 after eviction", got)
	}
	// Oldest processed entries go first.
	if _, err := os.Stat(finals[0]); !os.IsNotExist(err) {
		t.Errorf("oldest processed entry survived eviction")
	}
	if _, err := os.Stat(finals[3]); err != nil {
		t.Errorf("unprocessed entry was evicted: %v", err)
	}
}

func TestCleanupRunRemovesRoot(t *testing.T) {
	base := t.TempDir()
	cache := NewRunCache(base, 0, zap.NewNop())
	root, err := cache.CreateRunRoot()
	if err != nil {
		t.Fatalf("CreateRunRoot() error = %v", err)
	}
	if tempPath, err := cache.WriteTemp([]byte("leftover")); err != nil {
		t.Fatalf("WriteTemp() error = %v", err)
	} else if _, err := cache.Finalize(tempPath); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if err := cache.CleanupRun(); err != nil {
		t.Fatalf("CleanupRun() error = %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("run root still present after cleanup")
	}
	// A second cleanup is a no-op.
	if err := cache.CleanupRun(); err != nil {
		t.Errorf("repeated CleanupRun() error = %v", err)
	}
}

func TestSweepStaleRuns(t *testing.T) {
	base := t.TempDir()
	// Pid far beyond any real pid range, so the owner is certainly dead.
	stale := filepath.Join(base, "run-1000-999999999")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "msg-1.tmp"), []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}
	unrelated := filepath.Join(base, "keep")
	if err := os.MkdirAll(unrelated, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	NewRunCache(base, 0, zap.NewNop()).SweepStaleRuns()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale run root survived sweep")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("unrelated directory was swept: %v", err)
	}
}

func TestSweepStaleRunsSkipsLiveOwner(t *testing.T) {
	base := t.TempDir()
	live := filepath.Join(base, fmt.Sprintf("run-2000-%d", os.Getpid()))
	if err := os.MkdirAll(live, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dead := filepath.Join(base, "run-3000-999999998")
	if err := os.MkdirAll(dead, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	NewRunCache(base, 0, zap.NewNop()).SweepStaleRuns()

	if _, err := os.Stat(live); err != nil {
		t.Errorf("run root owned by a live process was swept: %v", err)
	}
	if _, err := os.Stat(dead); !os.IsNotExist(err) {
		t.Errorf("run root of a dead owner survived sweep")
	}
}

func TestFinalizeRecountsForgottenEntry(t *testing.T) {
	cache := NewRunCache(t.TempDir(), 0, zap.NewNop())
	if _, err := cache.CreateRunRoot(); err != nil {
		t.Fatalf("CreateRunRoot() error = %v", err)
	}

	payload := []byte("twelve bytes")
	tempPath, err := cache.WriteTemp(payload)
	if err != nil {
		t.Fatalf("WriteTemp() error = %v", err)
	}
	cache.forget(tempPath)
	if got := cache.TotalBytes(); got != 0 {
		t.Fatalf("TotalBytes() = %d after forget, want 0", got)
	}

	// Finalizing a forgotten entry restores the real on-disk size to the
	// tracked total.
	if _, err := cache.Finalize(tempPath); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got := cache.TotalBytes(); got != int64(len(payload)) {
		t.Errorf("TotalBytes() = %d, want %d", got, len(payload))
	}
}
