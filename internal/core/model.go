package core

import (
	"time"
)

// Address is a single mailbox participant parsed from a header.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes one attachment of a message. The ordinal Index is the
// position of the part within the source MIME structure.
type Attachment struct {
	Filename  string `json:"filename"`
	MIMEType  string `json:"mime_type"`
	ContentID string `json:"content_id,omitempty"`
	Size      int64  `json:"size"`
	Index     int    `json:"index"`

	// Data holds the decoded part bytes while the message is in memory.
	// It is never serialized.
	Data []byte `json:"-"`
}

// Message is one decoded unit of mail. It is built once by the decoder and
// never mutated afterwards.
type Message struct {
	MessageID   string
	Subject     string
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Date        time.Time
	InReplyTo   string
	References  []string
	Unsubscribe string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Headers     map[string][]string
	Raw         []byte

	// Priority reports that the message carried the source's priority flag,
	// which overrides junk-mailbox exclusion.
	Priority bool
}

// Person is a normalized participant in a document payload.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// DocumentPayload is the canonical document shape submitted to the catalog.
// Body is always redacted before the payload is built.
type DocumentPayload struct {
	SourceType  string    `json:"source_type"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	People      []Person  `json:"people,omitempty"`
	Intent      string    `json:"intent,omitempty"`
	Relevance   float64   `json:"relevance,omitempty"`
	ContentHash string    `json:"content_hash"`
	Captions    []string  `json:"captions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RunStats are the counters accumulated over one collector run.
type RunStats struct {
	Scanned         int        `json:"scanned"`
	Matched         int        `json:"matched"`
	Submitted       int        `json:"submitted"`
	Skipped         int        `json:"skipped"`
	Batches         int        `json:"batches"`
	EarliestTouched *time.Time `json:"earliest_touched,omitempty"`
	LatestTouched   *time.Time `json:"latest_touched,omitempty"`
}

// Touch widens the earliest/latest touched window to include ts.
func (s *RunStats) Touch(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if s.EarliestTouched == nil || ts.Before(*s.EarliestTouched) {
		t := ts
		s.EarliestTouched = &t
	}
	if s.LatestTouched == nil || ts.After(*s.LatestTouched) {
		t := ts
		s.LatestTouched = &t
	}
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusPartial RunStatus = "partial"
	StatusError   RunStatus = "error"
)

// RunResult is the standard response envelope for a collector run.
type RunResult struct {
	Status     RunStatus `json:"status"`
	Collector  string    `json:"collector"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      RunStats  `json:"stats"`
	Warnings   []string  `json:"warnings"`
	Errors     []string  `json:"errors"`
}

// Warn appends a non-fatal warning to the envelope.
func (r *RunResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// RecordError appends a per-item error. Item errors make the run partial but
// never abort it.
func (r *RunResult) RecordError(msg string) {
	r.Errors = append(r.Errors, msg)
}
