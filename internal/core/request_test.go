package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRunRequestDefaults(t *testing.T) {
	req, warnings, err := ParseRunRequest([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseRunRequest() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if req.Mode != ModeRun || req.Order != OrderAsc {
		t.Errorf("defaults: mode=%q order=%q", req.Mode, req.Order)
	}
	if req.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", req.BatchSize, DefaultBatchSize)
	}
	if req.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d", req.Concurrency)
	}
}

func TestParseRunRequestRejectsUnknownField(t *testing.T) {
	_, _, err := ParseRunRequest([]byte(`{"mode":"run","bogus":true}`))
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("unknown field: err = %v, want ValidationError", err)
	}
}

func TestParseRunRequestRejectsBadEnums(t *testing.T) {
	for _, body := range []string{
		`{"mode":"flood"}`,
		`{"order":"sideways"}`,
		`{"limit":-1}`,
		`{"batch_size":0}`,
		`{"date_range":{"since":"not-a-date"}}`,
	} {
		if _, _, err := ParseRunRequest([]byte(body)); err == nil {
			t.Errorf("request %s accepted, want rejection", body)
		}
	}
}

func TestParseRunRequestClampsConcurrency(t *testing.T) {
	req, warnings, err := ParseRunRequest([]byte(`{"concurrency":99}`))
	if err != nil {
		t.Fatalf("ParseRunRequest() error = %v", err)
	}
	if req.Concurrency != MaxConcurrency {
		t.Errorf("Concurrency = %d, want %d", req.Concurrency, MaxConcurrency)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "clamped") {
		t.Errorf("warnings = %v", warnings)
	}

	req, warnings, _ = ParseRunRequest([]byte(`{"concurrency":0}`))
	if req.Concurrency != MinConcurrency || len(warnings) != 1 {
		t.Errorf("low clamp: concurrency=%d warnings=%v", req.Concurrency, warnings)
	}
}

func TestParseRunRequestDateRangeOverridesWindow(t *testing.T) {
	body := `{"time_window":{"lookback_days":30},"date_range":{"since":"2024-01-01T00:00:00Z","until":"2024-06-01T00:00:00Z"}}`
	req, warnings, err := ParseRunRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRunRequest() error = %v", err)
	}
	if req.TimeWindow != nil {
		t.Error("time_window not dropped in favor of date_range")
	}
	if req.DateRange == nil || req.DateRange.Since.Year() != 2024 {
		t.Errorf("DateRange = %+v", req.DateRange)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v", warnings)
	}

	since, until := req.Window(time.Now())
	if since.IsZero() || until.IsZero() {
		t.Errorf("Window() = %v, %v", since, until)
	}
}

func TestParseRunRequestModes(t *testing.T) {
	req, _, err := ParseRunRequest([]byte(`{"mode":"dry_run"}`))
	if err != nil {
		t.Fatalf("dry_run: %v", err)
	}
	if !req.DryRun {
		t.Error("dry_run mode did not set DryRun")
	}

	req, _, err = ParseRunRequest([]byte(`{"mode":"tail"}`))
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if req.Order != OrderDesc || req.Limit != DefaultTailLimit {
		t.Errorf("tail normalization: order=%q limit=%d", req.Order, req.Limit)
	}
}
