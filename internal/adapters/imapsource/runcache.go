// Package imapsource backfills mail from an IMAP server through time-windowed
// search/fetch cycles, staging message bytes in a run-scoped disk cache.
package imapsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
)

type entryStatus int

const (
	statusWriting entryStatus = iota
	statusFinalized
	statusProcessed
)

type cacheEntry struct {
	path   string
	size   int64
	status entryStatus
	seq    int64
}

// RunCache is the run-scoped staging area for fetched message bytes. All
// bookkeeping lives behind one mutex so the size-cap invariant stays exact
// under concurrent fetch workers.
//
// Files become visible to consumers only through Finalize's atomic rename;
// a crash can leave at most ".tmp" files and a stale run root, both cleaned
// by SweepStaleRuns on the next start.
type RunCache struct {
	baseDir  string
	maxBytes int64
	logger   *zap.Logger

	mu         chan struct{} // semaphore-style mutex; the single owner token
	root       string
	entries    map[string]*cacheEntry
	totalBytes int64
	nextSeq    int64
	nextTemp   int64
}

// NewRunCache creates a cache manager rooted under baseDir. The run root
// itself is created by CreateRunRoot.
func NewRunCache(baseDir string, maxBytes int64, logger *zap.Logger) *RunCache {
	c := &RunCache{
		baseDir:  baseDir,
		maxBytes: maxBytes,
		logger:   logger,
		mu:       make(chan struct{}, 1),
		entries:  make(map[string]*cacheEntry),
	}
	c.mu <- struct{}{}
	return c
}

func (c *RunCache) lock()   { <-c.mu }
func (c *RunCache) unlock() { c.mu <- struct{}{} }

const runRootPrefix = "run-"

// CreateRunRoot creates this run's private directory, named from the start
// timestamp and process id so concurrent processes never collide.
func (c *RunCache) CreateRunRoot() (string, error) {
	c.lock()
	defer c.unlock()

	if c.root != "" {
		return c.root, nil
	}
	root := filepath.Join(c.baseDir, fmt.Sprintf("%s%d-%d", runRootPrefix, time.Now().UnixNano(), os.Getpid()))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", &core.ResourceError{Resource: "cache root", Err: err}
	}
	c.root = root
	return root, nil
}

// WriteTemp stages message bytes under a ".tmp" name invisible to consumers.
func (c *RunCache) WriteTemp(data []byte) (string, error) {
	c.lock()
	if c.root == "" {
		c.unlock()
		return "", fmt.Errorf("run root not created")
	}
	c.nextTemp++
	tempPath := filepath.Join(c.root, fmt.Sprintf("msg-%d.tmp", c.nextTemp))
	c.entries[tempPath] = &cacheEntry{path: tempPath, size: int64(len(data)), status: statusWriting}
	c.totalBytes += int64(len(data))
	c.unlock()

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		c.forget(tempPath)
		return "", &core.ResourceError{Resource: tempPath, Err: err}
	}
	return tempPath, nil
}

// Finalize renames a staged file to its final name, making it visible to the
// decoder. The rename is atomic within the run root.
func (c *RunCache) Finalize(tempPath string) (string, error) {
	finalPath := strings.TrimSuffix(tempPath, ".tmp") + ".eml"
	if err := os.Rename(tempPath, finalPath); err != nil {
		c.forget(tempPath)
		return "", &core.ResourceError{Resource: tempPath, Err: err}
	}

	c.lock()
	defer c.unlock()
	entry, ok := c.entries[tempPath]
	if !ok {
		// The entry fell out of bookkeeping; recover its size from disk so
		// the cap still accounts for these bytes.
		var size int64
		if info, err := os.Stat(finalPath); err == nil {
			size = info.Size()
		}
		entry = &cacheEntry{size: size}
		c.totalBytes += size
		c.entries[finalPath] = entry
	} else {
		delete(c.entries, tempPath)
		c.entries[finalPath] = entry
	}
	entry.path = finalPath
	entry.status = statusFinalized
	c.nextSeq++
	entry.seq = c.nextSeq
	return finalPath, nil
}

// MarkProcessed flags a finalized file as consumed, making it evictable.
func (c *RunCache) MarkProcessed(path string) {
	c.lock()
	defer c.unlock()
	if entry, ok := c.entries[path]; ok && entry.status == statusFinalized {
		entry.status = statusProcessed
	}
}

// EnforceCap evicts already-processed entries oldest-first until total
// tracked bytes fit the configured cap. Unprocessed entries are never
// evicted, so the total can exceed the cap by the in-flight tail.
func (c *RunCache) EnforceCap() {
	c.lock()
	defer c.unlock()
	if c.maxBytes <= 0 || c.totalBytes <= c.maxBytes {
		return
	}

	var processed []*cacheEntry
	for _, e := range c.entries {
		if e.status == statusProcessed {
			processed = append(processed, e)
		}
	}
	sort.Slice(processed, func(i, j int) bool { return processed[i].seq < processed[j].seq })

	for _, e := range processed {
		if c.totalBytes <= c.maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("Failed to evict cache entry", zap.String("path", e.path), zap.Error(err))
			continue
		}
		c.totalBytes -= e.size
		delete(c.entries, e.path)
	}
}

// TotalBytes reports the tracked byte total.
func (c *RunCache) TotalBytes() int64 {
	c.lock()
	defer c.unlock()
	return c.totalBytes
}

// CleanupRun removes the entire run root. Safe to call more than once.
func (c *RunCache) CleanupRun() error {
	c.lock()
	root := c.root
	c.root = ""
	c.entries = make(map[string]*cacheEntry)
	c.totalBytes = 0
	c.unlock()

	if root == "" {
		return nil
	}
	if err := os.RemoveAll(root); err != nil {
		return &core.ResourceError{Resource: root, Err: err}
	}
	return nil
}

// SweepStaleRuns removes run roots abandoned by prior runs that did not exit
// cleanly. Root names embed the owning pid, so a root whose owner is still
// running is left alone. Called once at process start, before any run root
// exists.
func (c *RunCache) SweepStaleRuns() {
	dirEntries, err := os.ReadDir(c.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to scan cache base directory", zap.Error(err))
		}
		return
	}
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), runRootPrefix) {
			continue
		}
		if pid, ok := runRootPid(de.Name()); ok && pidAlive(pid) {
			c.logger.Debug("Skipping run root with live owner",
				zap.String("name", de.Name()), zap.Int("pid", pid))
			continue
		}
		stale := filepath.Join(c.baseDir, de.Name())
		if err := os.RemoveAll(stale); err != nil {
			c.logger.Warn("Failed to remove stale run root", zap.String("path", stale), zap.Error(err))
			continue
		}
		c.logger.Info("Removed stale cache run root", zap.String("path", stale))
	}
}

// runRootPid extracts the owning pid from a run root name,
// "run-<nanos>-<pid>". Malformed names report no pid and are treated as
// stale.
func runRootPid(name string) (int, bool) {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(name[idx+1:])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func pidAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (c *RunCache) forget(path string) {
	c.lock()
	defer c.unlock()
	if entry, ok := c.entries[path]; ok {
		c.totalBytes -= entry.size
		delete(c.entries, path)
	}
}
