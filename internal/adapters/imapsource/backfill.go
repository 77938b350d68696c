package imapsource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/bodyclean"
	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/mailmime"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/submit"
)

// SourceType identifies documents originating from the remote IMAP server.
const SourceType = "imap"

// EngineConfig tunes the windowed backfill.
type EngineConfig struct {
	Folder     string
	WindowDays int
	MaxWindows int

	// Floor is the oldest timestamp backfill will reach. Zero means no
	// floor; the run then stops on an empty window or the window cap.
	Floor time.Time
}

// Engine drives time-windowed backfill from newest to oldest: search a
// window, fetch its messages through the run cache, submit them, then slide
// the window back and repeat.
type Engine struct {
	dial    SessionDialer
	cache   *RunCache
	cleaner *bodyclean.Cleaner
	builder *submit.PayloadBuilder
	catalog ports.CatalogClient
	creds   ports.CredentialResolver
	logger  *zap.Logger
	cfg     EngineConfig
}

// NewEngine wires a backfill engine.
func NewEngine(dial SessionDialer, cache *RunCache, cleaner *bodyclean.Cleaner,
	builder *submit.PayloadBuilder, catalog ports.CatalogClient,
	creds ports.CredentialResolver, logger *zap.Logger, cfg EngineConfig) *Engine {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Engine{
		dial:    dial,
		cache:   cache,
		cleaner: cleaner,
		builder: builder,
		catalog: catalog,
		creds:   creds,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run executes one backfill. The run cache root lives exactly as long as
// this call: in-flight workers are drained before the root is removed, even
// on cancellation, so no temp file outlives the run.
func (e *Engine) Run(ctx context.Context, req *core.RunRequest, res *core.RunResult) error {
	token, err := e.creds.Resolve(ctx, req.Credentials)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials: %w", err)
	}

	session, err := e.dial(ctx, token)
	if err != nil {
		return &core.TransportError{Op: "dial mail server", Err: err}
	}
	defer session.Close()

	if _, err := e.cache.CreateRunRoot(); err != nil {
		return err
	}
	defer func() {
		if err := e.cache.CleanupRun(); err != nil {
			e.logger.Warn("Failed to clean up cache run root", zap.Error(err))
		}
	}()

	since, until := req.Window(time.Now().UTC())
	floor := e.cfg.Floor
	if !since.IsZero() {
		floor = since
	}
	windowEnd := time.Now().UTC()
	if !until.IsZero() {
		windowEnd = until
	}

	var mu sync.Mutex // guards res counters across fetch workers
	sem := make(chan struct{}, req.Concurrency)
	total := 0

	for window := 0; e.cfg.MaxWindows <= 0 || window < e.cfg.MaxWindows; window++ {
		if ctx.Err() != nil {
			break
		}
		if req.Limit > 0 && total >= req.Limit {
			break
		}

		windowStart := windowEnd.AddDate(0, 0, -e.cfg.WindowDays)
		lastWindow := false
		if !floor.IsZero() && !windowStart.After(floor) {
			windowStart = floor
			lastWindow = true
		}

		uids, err := session.SearchWindow(ctx, windowStart, windowEnd)
		if err != nil {
			return &core.TransportError{Op: "search window", Err: err}
		}
		if len(uids) == 0 {
			break
		}

		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		batch := core.NextBatch(uids, 0, 0, core.OrderDesc)
		if req.Limit > 0 && total+len(batch) > req.Limit {
			batch = batch[:req.Limit-total]
		}
		total += len(batch)
		res.Stats.Batches++

		if req.DryRun {
			mu.Lock()
			res.Stats.Scanned += len(batch)
			res.Stats.Matched += len(batch)
			mu.Unlock()
		} else {
			var wg sync.WaitGroup
			for _, uid := range batch {
				if ctx.Err() != nil {
					break
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(uid int64) {
					defer wg.Done()
					defer func() { <-sem }()
					e.processMessage(ctx, session, uid, res, &mu)
				}(uid)
			}
			// Drain the window's workers before sliding back; cancellation
			// still waits here so the cache root is never yanked from under
			// an in-flight fetch.
			wg.Wait()
		}

		if lastWindow {
			break
		}
		windowEnd = windowStart
	}

	return nil
}

func (e *Engine) processMessage(ctx context.Context, session Session, uid int64, res *core.RunResult, mu *sync.Mutex) {
	mu.Lock()
	res.Stats.Scanned++
	mu.Unlock()

	record := func(err error) {
		mu.Lock()
		res.RecordError(fmt.Sprintf("uid %d: %v", uid, err))
		mu.Unlock()
	}

	raw, err := session.FetchRaw(ctx, uid)
	if err != nil {
		record(err)
		return
	}

	tempPath, err := e.cache.WriteTemp(raw)
	if err != nil {
		record(err)
		return
	}
	finalPath, err := e.cache.Finalize(tempPath)
	if err != nil {
		record(err)
		return
	}

	staged, err := os.ReadFile(finalPath)
	if err != nil {
		record(&core.ResourceError{Resource: finalPath, Err: err})
		return
	}
	msg, err := mailmime.Parse(staged)
	if err != nil {
		record(err)
		return
	}

	mu.Lock()
	res.Stats.Matched++
	res.Stats.Touch(msg.Date)
	mu.Unlock()

	cleaned, captions := e.cleaner.Clean(ctx, msg)
	sourceID := fmt.Sprintf("%s:%d", e.cfg.Folder, uid)
	payload := e.builder.Build(msg, SourceType, sourceID, cleaned, captions, "", 0)

	if err := e.catalog.SubmitDocument(ctx, payload); err != nil {
		record(err)
		return
	}
	for _, att := range msg.Attachments {
		if len(att.Data) == 0 {
			continue
		}
		if err := e.catalog.SubmitAttachment(ctx, bytes.NewReader(att.Data), att, submit.IdempotencyKey(payload)); err != nil {
			record(fmt.Errorf("attachment %q: %w", att.Filename, err))
			return
		}
	}

	mu.Lock()
	res.Stats.Submitted++
	mu.Unlock()

	e.cache.MarkProcessed(finalPath)
	e.cache.EnforceCap()
}
