package localmail

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/bodyclean"
	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/submit"
)

// SourceType identifies documents originating from the local mailbox store.
const SourceType = "local_mail"

// Collector runs incremental ingestion over the local mailbox store. The
// index read is single-threaded; submission happens inline per item so the
// cursor commit can reason about a stable processing order.
type Collector struct {
	indexer *Indexer
	states  ports.SyncStateRepository
	cleaner *bodyclean.Cleaner
	builder *submit.PayloadBuilder
	catalog ports.CatalogClient
	logger  *zap.Logger
	root    string
	enabled bool
}

// NewCollector wires the local mailbox collector.
func NewCollector(indexer *Indexer, states ports.SyncStateRepository, cleaner *bodyclean.Cleaner,
	builder *submit.PayloadBuilder, catalog ports.CatalogClient, logger *zap.Logger,
	mailboxRoot string, enabled bool) *Collector {
	return &Collector{
		indexer: indexer,
		states:  states,
		cleaner: cleaner,
		builder: builder,
		catalog: catalog,
		logger:  logger,
		root:    mailboxRoot,
		enabled: enabled,
	}
}

func (c *Collector) Name() string  { return SourceType }
func (c *Collector) Enabled() bool { return c.enabled }

// Run executes one collector run. The cursor is only advanced through
// CommitState for rows confirmed submitted or explicitly skipped, so a crash
// between decode and submission never loses work.
func (c *Collector) Run(ctx context.Context, req *core.RunRequest, res *core.RunResult) error {
	if req.Reset {
		if err := c.states.Reset(ctx, c.root); err != nil {
			return fmt.Errorf("failed to reset sync state: %w", err)
		}
		res.Warn("sync cursor reset")
	}

	state, err := c.states.Load(ctx, c.root)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	for _, w := range c.indexer.CheckModifiedFiles(state) {
		res.Warn(w)
	}

	candidates, err := c.indexer.Candidates(ctx)
	if err != nil {
		return err
	}

	ids := core.NextBatch(candidates, state.LastRowID, 0, req.Order)
	if req.Limit > 0 && len(ids) > req.Limit {
		ids = ids[:req.Limit]
	}

	since, until := req.Window(nowUTC())
	accepted := make(map[int64]ports.FileState)

	for start := 0; start < len(ids); start += req.BatchSize {
		if err := ctx.Err(); err != nil {
			break
		}
		end := start + req.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		res.Stats.Batches++

		for _, rowID := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				break
			}
			res.Stats.Scanned++

			item, err := c.indexer.Fetch(ctx, rowID)
			if err != nil {
				res.RecordError(fmt.Sprintf("row %d: %v", rowID, err))
				continue
			}
			if item.Junk {
				// Explicitly skipped, so the row still advances the cursor.
				res.Stats.Skipped++
				accepted[rowID] = item.File
				continue
			}
			if !since.IsZero() && !item.Msg.Date.IsZero() && item.Msg.Date.Before(since) {
				res.Stats.Skipped++
				accepted[rowID] = item.File
				continue
			}
			if !until.IsZero() && !item.Msg.Date.IsZero() && !item.Msg.Date.Before(until) {
				res.Stats.Skipped++
				accepted[rowID] = item.File
				continue
			}

			res.Stats.Matched++
			res.Stats.Touch(item.Msg.Date)

			if req.DryRun {
				continue
			}
			if err := c.submitItem(ctx, item); err != nil {
				res.RecordError(fmt.Sprintf("row %d: %v", rowID, err))
				continue
			}
			res.Stats.Submitted++
			accepted[rowID] = item.File
		}

		if !req.DryRun {
			if err := c.commitAccepted(ctx, state.LastRowID, ids, accepted); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Collector) submitItem(ctx context.Context, item *Item) error {
	cleaned, captions := c.cleaner.Clean(ctx, item.Msg)
	sourceID := strconv.FormatInt(item.RowID, 10)
	payload := c.builder.Build(item.Msg, SourceType, sourceID, cleaned, captions, "", 0)

	if err := c.catalog.SubmitDocument(ctx, payload); err != nil {
		return err
	}
	for _, att := range item.Msg.Attachments {
		if len(att.Data) == 0 {
			continue
		}
		if err := c.catalog.SubmitAttachment(ctx, bytes.NewReader(att.Data), att, submit.IdempotencyKey(payload)); err != nil {
			c.logger.Warn("Attachment submission failed",
				zap.Int64("row_id", item.RowID),
				zap.String("filename", att.Filename),
				zap.Error(err))
			return fmt.Errorf("attachment %q: %w", att.Filename, err)
		}
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// commitAccepted advances the cursor through the contiguous run of accepted
// rows. A failed row halts advancement so it is retried on the next run;
// accepted rows beyond the gap keep their idempotent submissions and are
// simply resubmitted safely.
func (c *Collector) commitAccepted(ctx context.Context, lastRowID int64, runIDs []int64, accepted map[int64]ports.FileState) error {
	ordered := append([]int64(nil), runIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	newLast := lastRowID
	files := make(map[int64]ports.FileState)
	for _, id := range ordered {
		if id <= lastRowID {
			continue
		}
		fs, ok := accepted[id]
		if !ok {
			break
		}
		newLast = id
		files[id] = fs
	}
	if newLast == lastRowID {
		return nil
	}
	if err := c.states.Commit(ctx, c.root, newLast, files); err != nil {
		return fmt.Errorf("failed to commit sync state: %w", err)
	}
	return nil
}
