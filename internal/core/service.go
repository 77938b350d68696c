package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the top-level run router. It validates that the collector
// exists and is enabled, enforces the one-run-per-collector rule and wraps
// adapter output in the standard response envelope.
type Service struct {
	mu         sync.Mutex
	collectors map[string]Collector
	order      []string
	inflight   map[string]bool
	logger     *zap.Logger
}

// NewService creates a run router over the given collectors.
func NewService(logger *zap.Logger, collectors ...Collector) *Service {
	s := &Service{
		collectors: make(map[string]Collector),
		inflight:   make(map[string]bool),
		logger:     logger,
	}
	for _, c := range collectors {
		s.collectors[c.Name()] = c
		s.order = append(s.order, c.Name())
	}
	return s
}

// CollectorInfo describes one registered collector.
type CollectorInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Busy    bool   `json:"busy"`
}

// Collectors lists the registered collectors in registration order.
func (s *Service) Collectors() []CollectorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CollectorInfo, 0, len(s.order))
	for _, name := range s.order {
		c := s.collectors[name]
		out = append(out, CollectorInfo{Name: name, Enabled: c.Enabled(), Busy: s.inflight[name]})
	}
	return out
}

// Run dispatches one normalized request to the named collector and returns
// the finalized result envelope. warnings carries normalization notes that
// surface in the envelope.
func (s *Service) Run(ctx context.Context, name string, req *RunRequest, warnings []string) (*RunResult, error) {
	s.mu.Lock()
	collector, ok := s.collectors[name]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{Collector: name}
	}
	if !collector.Enabled() {
		s.mu.Unlock()
		return nil, &DisabledError{Collector: name}
	}
	if s.inflight[name] {
		s.mu.Unlock()
		return nil, &ConflictError{Collector: name}
	}
	s.inflight[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}()

	res := &RunResult{
		Collector: name,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Warnings:  append([]string{}, warnings...),
		Errors:    []string{},
	}

	s.logger.Info("Starting collector run",
		zap.String("collector", name),
		zap.String("run_id", res.RunID),
		zap.String("mode", string(req.Mode)),
		zap.Bool("dry_run", req.DryRun))

	err := collector.Run(ctx, req, res)
	res.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		res.Status = StatusError
		res.RecordError(err.Error())
		s.logger.Error("Collector run failed",
			zap.String("collector", name),
			zap.String("run_id", res.RunID),
			zap.Error(err))
	case len(res.Errors) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusOK
	}

	s.logger.Info("Collector run finished",
		zap.String("collector", name),
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.Int("scanned", res.Stats.Scanned),
		zap.Int("submitted", res.Stats.Submitted),
		zap.Int("skipped", res.Stats.Skipped),
		zap.Int("errors", len(res.Errors)))

	return res, nil
}
