package imapsource

import (
	"context"

	"github.com/mikey/mail-ingest/internal/core"
)

// Collector exposes the backfill engine as a runnable mail source.
type Collector struct {
	engine  *Engine
	enabled bool
}

// NewCollector wires the remote IMAP collector.
func NewCollector(engine *Engine, enabled bool) *Collector {
	return &Collector{engine: engine, enabled: enabled}
}

func (c *Collector) Name() string  { return SourceType }
func (c *Collector) Enabled() bool { return c.enabled }

func (c *Collector) Run(ctx context.Context, req *core.RunRequest, res *core.RunResult) error {
	if req.Reset {
		// Backfill keeps no durable cursor; each run re-derives its windows.
		res.Warn("reset has no effect on the remote collector")
	}
	return c.engine.Run(ctx, req, res)
}
