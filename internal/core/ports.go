package core

import (
	"context"
)

// Collector is one mail source adapter. Run executes a normalized request,
// filling counters, warnings and per-item errors on res. A returned error is
// fatal for the whole run (index unreadable, cache root uncreatable); per-item
// failures are recorded on res and never abort the batch.
type Collector interface {
	Name() string
	Enabled() bool
	Run(ctx context.Context, req *RunRequest, res *RunResult) error
}
