package imapsource

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Session is one authenticated, folder-selected connection to the remote
// mail server. The backfill engine only needs windowed UID search and raw
// fetch; tests substitute an in-memory implementation.
type Session interface {
	// SearchWindow returns the UIDs of messages received in [since, until).
	SearchWindow(ctx context.Context, since, until time.Time) ([]int64, error)

	// FetchRaw returns the full raw bytes of one message without marking it
	// seen.
	FetchRaw(ctx context.Context, uid int64) ([]byte, error)

	Close() error
}

// SessionDialer opens a Session using the token resolved from the run's
// credentials.
type SessionDialer func(ctx context.Context, password string) (Session, error)

// ClientConfig holds the IMAP connection settings.
type ClientConfig struct {
	Host     string
	Port     int
	Username string
	Folder   string

	// FetchTimeout bounds each search and fetch round trip. Zero means only
	// the caller's context governs cancellation.
	FetchTimeout time.Duration
}

// Dial connects over TLS, authenticates and selects the configured folder.
// Only IMAP is supported; there is no legacy POP3 path.
func Dial(cfg ClientConfig, password string) (Session, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if err := client.Login(cfg.Username, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", cfg.Username, err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}
	return &imapSession{client: client, timeout: cfg.FetchTimeout}, nil
}

type imapSession struct {
	client  *imapclient.Client
	timeout time.Duration
}

// await runs one IMAP round trip under the session's per-call deadline.
// go-imap commands only expose a blocking Wait, so expiry tears the
// connection down through abort to unblock the pending command.
func await(ctx context.Context, timeout time.Duration, abort func(), fn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}
}

func (s *imapSession) abort() {
	_ = s.client.Close()
}

func (s *imapSession) SearchWindow(ctx context.Context, since, until time.Time) ([]int64, error) {
	criteria := &imap.SearchCriteria{
		Since:  since,
		Before: until,
	}
	var searchData *imap.SearchData
	err := await(ctx, s.timeout, s.abort, func() error {
		var err error
		searchData, err = s.client.UIDSearch(criteria, nil).Wait()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	uids := searchData.AllUIDs()
	out := make([]int64, len(uids))
	for i, uid := range uids {
		out[i] = int64(uid)
	}
	return out, nil
}

func (s *imapSession) FetchRaw(ctx context.Context, uid int64) ([]byte, error) {
	uidSet := imap.UIDSetNum(imap.UID(uid))
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	var raw []byte
	err := await(ctx, s.timeout, s.abort, func() error {
		fetchCmd := s.client.Fetch(uidSet, fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("message UID %d not found", uid)
		}
		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message UID %d: %w", uid, err)
		}
		raw = buf.FindBodySection(bodySection)
		if raw == nil {
			return fmt.Errorf("message UID %d has no body section", uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *imapSession) Close() error {
	return s.client.Logout().Wait()
}
