package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
)

// Options tune the HTTP submission client.
type Options struct {
	BaseURL string
	Token   string

	// Timeout applies per request, not per run.
	Timeout time.Duration

	// MaxAttempts bounds retries of 5xx and transport failures.
	MaxAttempts int

	// RateLimitRetries bounds how many 429 responses are waited out.
	RateLimitRetries int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// Client delivers documents and attachments to the catalog endpoint. Every
// document submission carries a deterministic idempotency key, so retrying
// after an ambiguous failure cannot create duplicates.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *zap.Logger
}

// NewClient creates a catalog submission client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.RateLimitRetries < 0 {
		opts.RateLimitRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     logger,
	}
}

// SubmitDocument posts one document payload to the catalog.
func (c *Client) SubmitDocument(ctx context.Context, payload *core.DocumentPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	key := IdempotencyKey(payload)

	return c.doWithRetry(ctx, "submit document", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/v1/documents", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		c.authorize(req)
		return req, nil
	})
}

// SubmitAttachment posts one attachment as multipart form data.
func (c *Client) SubmitAttachment(ctx context.Context, content io.Reader, att core.Attachment, documentID string) error {
	raw, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read attachment content: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	meta, _ := json.Marshal(att)
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return fmt.Errorf("failed to write attachment metadata: %w", err)
	}
	if err := mw.WriteField("document_id", documentID); err != nil {
		return fmt.Errorf("failed to write document id: %w", err)
	}
	fw, err := mw.CreateFormFile("file", att.Filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return fmt.Errorf("failed to write attachment bytes: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	formBody := buf.Bytes()
	contentType := mw.FormDataContentType()

	return c.doWithRetry(ctx, "submit attachment", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/v1/attachments", bytes.NewReader(formBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		c.authorize(req)
		return req, nil
	})
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
}

// doWithRetry runs one submission with the retry policy: 429 waits the
// server-supplied interval and retries a bounded number of times, other 4xx
// are terminal, 5xx and transport errors back off exponentially up to the
// attempt ceiling.
func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error)) error {
	var lastErr error
	rateRetries := 0

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &core.TransportError{Op: op, Err: err}
			if !c.sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			if rateRetries >= c.opts.RateLimitRetries {
				return &core.TransportError{Op: op, Status: resp.StatusCode}
			}
			rateRetries++
			wait := retryAfter(resp, c.opts.BackoffBase)
			c.logger.Warn("Rate limited by catalog, waiting",
				zap.String("op", op),
				zap.Duration("retry_after", wait))
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}
			// A rate-limit wait does not consume a failure attempt.
			attempt--

		case resp.StatusCode >= 500:
			lastErr = &core.TransportError{Op: op, Status: resp.StatusCode}
			if !c.sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}

		default:
			// Remaining 4xx are terminal for the item.
			return &core.TransportError{Op: op, Status: resp.StatusCode}
		}
	}

	return lastErr
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(float64(c.opts.BackoffBase) * math.Pow(2, float64(attempt-1)))
	return sleepCtx(ctx, delay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return fallback
}
