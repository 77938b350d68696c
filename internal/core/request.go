package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects what a run does.
type Mode string

const (
	ModeRun      Mode = "run"
	ModeDryRun   Mode = "dry_run"
	ModeTail     Mode = "tail"
	ModeBackfill Mode = "backfill"
)

const (
	DefaultBatchSize   = 500
	DefaultConcurrency = 4
	DefaultTailLimit   = 50
	MinConcurrency     = 1
	MaxConcurrency     = 12
)

// TimeWindow bounds a run by lookback from now.
type TimeWindow struct {
	LookbackDays       int `json:"lookback_days"`
	ThreadLookbackDays int `json:"thread_lookback_days"`
}

// DateRange bounds a run by an explicit UTC interval. When both a range and
// a window are supplied the range wins.
type DateRange struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Credentials reference the secret material a source needs.
type Credentials struct {
	Kind      string `json:"kind"`
	Secret    string `json:"secret"`
	SecretRef string `json:"secret_ref"`
}

// RunRequest is the normalized, source-agnostic set of execution parameters.
// It is constructed once per invocation and immutable afterwards.
type RunRequest struct {
	Mode            Mode
	Limit           int
	BatchSize       int
	Order           Order
	TimeWindow      *TimeWindow
	DateRange       *DateRange
	Reset           bool
	Concurrency     int
	DryRun          bool
	SourceOverrides map[string]any
	Credentials     Credentials
}

type runRequestWire struct {
	Mode       string `json:"mode"`
	Limit      *int   `json:"limit"`
	BatchSize  *int   `json:"batch_size"`
	Order      string `json:"order"`
	TimeWindow *struct {
		LookbackDays       int `json:"lookback_days"`
		ThreadLookbackDays int `json:"thread_lookback_days"`
	} `json:"time_window"`
	DateRange *struct {
		Since string `json:"since"`
		Until string `json:"until"`
	} `json:"date_range"`
	Reset           bool           `json:"reset"`
	Concurrency     *int           `json:"concurrency"`
	DryRun          bool           `json:"dry_run"`
	SourceOverrides map[string]any `json:"source_overrides"`
	Credentials     *struct {
		Kind      string `json:"kind"`
		Secret    string `json:"secret"`
		SecretRef string `json:"secret_ref"`
	} `json:"credentials"`
}

// ParseRunRequest validates raw JSON against the run endpoint contract and
// normalizes it into a RunRequest. Unknown top-level fields are rejected
// before any adapter runs. Returned warnings are non-fatal normalization
// notes (for example an out-of-range concurrency that was clamped).
func ParseRunRequest(raw []byte) (*RunRequest, []string, error) {
	var wire runRequestWire
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wire); err != nil {
			return nil, nil, &ValidationError{Reason: err.Error()}
		}
		// A second document in the body is also a malformed request.
		if dec.More() {
			return nil, nil, &ValidationError{Reason: "trailing data after request object"}
		}
	}

	var warnings []string
	req := &RunRequest{
		Mode:            ModeRun,
		BatchSize:       DefaultBatchSize,
		Order:           OrderAsc,
		Concurrency:     DefaultConcurrency,
		Reset:           wire.Reset,
		DryRun:          wire.DryRun,
		SourceOverrides: wire.SourceOverrides,
	}

	switch Mode(wire.Mode) {
	case "":
	case ModeRun, ModeDryRun, ModeTail, ModeBackfill:
		req.Mode = Mode(wire.Mode)
	default:
		return nil, nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", wire.Mode)}
	}
	if req.Mode == ModeDryRun {
		req.DryRun = true
	}
	if req.Mode == ModeTail {
		req.Order = OrderDesc
		req.Limit = DefaultTailLimit
	}

	switch Order(wire.Order) {
	case "":
	case OrderAsc, OrderDesc:
		req.Order = Order(wire.Order)
	default:
		return nil, nil, &ValidationError{Field: "order", Reason: fmt.Sprintf("unknown order %q", wire.Order)}
	}

	if wire.Limit != nil {
		if *wire.Limit < 0 {
			return nil, nil, &ValidationError{Field: "limit", Reason: "must not be negative"}
		}
		req.Limit = *wire.Limit
	}
	if wire.BatchSize != nil {
		if *wire.BatchSize <= 0 {
			return nil, nil, &ValidationError{Field: "batch_size", Reason: "must be positive"}
		}
		req.BatchSize = *wire.BatchSize
	}

	if wire.Concurrency != nil {
		c := *wire.Concurrency
		switch {
		case c < MinConcurrency:
			warnings = append(warnings, fmt.Sprintf("concurrency %d below minimum, clamped to %d", c, MinConcurrency))
			c = MinConcurrency
		case c > MaxConcurrency:
			warnings = append(warnings, fmt.Sprintf("concurrency %d above maximum, clamped to %d", c, MaxConcurrency))
			c = MaxConcurrency
		}
		req.Concurrency = c
	}

	if wire.TimeWindow != nil {
		if wire.TimeWindow.LookbackDays < 0 || wire.TimeWindow.ThreadLookbackDays < 0 {
			return nil, nil, &ValidationError{Field: "time_window", Reason: "lookback days must not be negative"}
		}
		req.TimeWindow = &TimeWindow{
			LookbackDays:       wire.TimeWindow.LookbackDays,
			ThreadLookbackDays: wire.TimeWindow.ThreadLookbackDays,
		}
	}

	if wire.DateRange != nil {
		since, err := parseUTCTime(wire.DateRange.Since)
		if err != nil {
			return nil, nil, &ValidationError{Field: "date_range.since", Reason: err.Error()}
		}
		until, err := parseUTCTime(wire.DateRange.Until)
		if err != nil {
			return nil, nil, &ValidationError{Field: "date_range.until", Reason: err.Error()}
		}
		if !since.IsZero() && !until.IsZero() && until.Before(since) {
			return nil, nil, &ValidationError{Field: "date_range", Reason: "until precedes since"}
		}
		req.DateRange = &DateRange{Since: since, Until: until}
		if req.TimeWindow != nil {
			warnings = append(warnings, "date_range supplied, ignoring time_window")
			req.TimeWindow = nil
		}
	}

	if wire.Credentials != nil {
		req.Credentials = Credentials{
			Kind:      wire.Credentials.Kind,
			Secret:    wire.Credentials.Secret,
			SecretRef: wire.Credentials.SecretRef,
		}
	}

	return req, warnings, nil
}

func parseUTCTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
}

// Window resolves the effective [since, until) interval of the request.
// An explicit date range takes precedence over the lookback window. The
// returned zero times mean unbounded.
func (r *RunRequest) Window(now time.Time) (since, until time.Time) {
	if r.DateRange != nil {
		return r.DateRange.Since, r.DateRange.Until
	}
	if r.TimeWindow != nil && r.TimeWindow.LookbackDays > 0 {
		return now.AddDate(0, 0, -r.TimeWindow.LookbackDays), time.Time{}
	}
	return time.Time{}, time.Time{}
}
