package localmail

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/adapters/state"
	"github.com/mikey/mail-ingest/internal/bodyclean"
	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/submit"
	"github.com/mikey/mail-ingest/internal/utils"
)

type fakeCatalog struct {
	mu   sync.Mutex
	docs []*core.DocumentPayload
	fail map[string]bool
}

func (f *fakeCatalog) SubmitDocument(_ context.Context, payload *core.DocumentPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[payload.SourceID] {
		return &core.TransportError{Op: "submit document", Status: 502}
	}
	f.docs = append(f.docs, payload)
	return nil
}

func (f *fakeCatalog) SubmitAttachment(_ context.Context, _ io.Reader, _ core.Attachment, _ string) error {
	return nil
}

func (f *fakeCatalog) submitted() []*core.DocumentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*core.DocumentPayload(nil), f.docs...)
}

type indexRow struct {
	rowID   int64
	subject string
	mailbox int64
	flags   int64
}

func newTestIndex(t *testing.T, root string, mailboxes []string, rows []indexRow) string {
	t.Helper()
	indexPath := filepath.Join(root, "Envelope Index")
	db, err := sqlx.Open("sqlite3", indexPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer db.Close()

	ddl := `
		CREATE TABLE mailboxes (url TEXT);
		CREATE TABLE messages (
			subject TEXT, sender TEXT, recipient TEXT,
			date_received INTEGER, mailbox INTEGER, flags INTEGER
		);`
	if _, err := db.Exec(ddl); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	for i, url := range mailboxes {
		if _, err := db.Exec(`INSERT INTO mailboxes (ROWID, url) VALUES (?, ?)`, i+1, url); err != nil {
			t.Fatalf("insert mailbox: %v", err)
		}
	}
	for _, r := range rows {
		_, err := db.Exec(
			`INSERT INTO messages (ROWID, subject, sender, recipient, date_received, mailbox, flags)
			 VALUES (?, ?, 'alice@example.com', 'bob@example.com', 1136214245, ?, ?)`,
			r.rowID, r.subject, r.mailbox, r.flags)
		if err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	return indexPath
}

func writeMessageFile(t *testing.T, root, mailbox string, rowID int64, subject string) {
	t.Helper()
	dir := filepath.Join(root, mailbox, "Messages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := fmt.Sprintf("From: Alice <alice@example.com>\r\n"+
		"To: bob@example.com\r\n"+
		"Subject: %s\r\n"+
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n"+
		"\r\n"+
		"Hello from message %d.\r\n", subject, rowID)
	path := filepath.Join(dir, fmt.Sprintf("%d.emlx", rowID))
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func newTestCollector(t *testing.T, root, indexPath string, catalog *fakeCatalog) (*Collector, *state.MemoryStore) {
	t.Helper()
	idx, err := NewIndexer(indexPath, root, 50000, zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	states := state.NewMemoryStore()
	cleaner := bodyclean.New(zap.NewNop(), nil)
	builder := submit.NewPayloadBuilder(utils.NewTextProcessor(zap.NewNop()), zap.NewNop(), 0)
	return NewCollector(idx, states, cleaner, builder, catalog, zap.NewNop(), root, true), states
}

func runRequest() *core.RunRequest {
	return &core.RunRequest{
		Mode:        core.ModeRun,
		BatchSize:   core.DefaultBatchSize,
		Order:       core.OrderAsc,
		Concurrency: 1,
	}
}

func TestRunCursorMonotonic(t *testing.T) {
	root := t.TempDir()
	rows := []indexRow{{1, "first", 1, 0}, {2, "second", 1, 0}, {3, "third", 1, 0}}
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox"}, rows)
	for _, r := range rows {
		writeMessageFile(t, root, "INBOX.mbox", r.rowID, r.subject)
	}

	catalog := &fakeCatalog{}
	collector, states := newTestCollector(t, root, indexPath, catalog)
	ctx := context.Background()

	res := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Submitted != 3 || len(res.Errors) != 0 {
		t.Fatalf("first run stats = %+v errors = %v", res.Stats, res.Errors)
	}

	st, _ := states.Load(ctx, root)
	if st.LastRowID != 3 {
		t.Fatalf("lastRowID = %d, want 3", st.LastRowID)
	}
	if len(st.Files) != 3 || st.Files[2].Path == "" {
		t.Errorf("file states not recorded: %+v", st.Files)
	}

	// A second run starts past the cursor and finds nothing.
	res2 := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res2.Stats.Scanned != 0 {
		t.Errorf("second run rescanned %d rows", res2.Stats.Scanned)
	}
}

func TestRunFailedItemHaltsCursor(t *testing.T) {
	root := t.TempDir()
	rows := []indexRow{{1, "one", 1, 0}, {2, "two", 1, 0}, {3, "three", 1, 0}}
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox"}, rows)
	for _, r := range rows {
		writeMessageFile(t, root, "INBOX.mbox", r.rowID, r.subject)
	}

	catalog := &fakeCatalog{fail: map[string]bool{"2": true}}
	collector, states := newTestCollector(t, root, indexPath, catalog)
	ctx := context.Background()

	res := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want one", res.Errors)
	}
	if res.Stats.Submitted != 2 {
		t.Errorf("submitted = %d, want 2", res.Stats.Submitted)
	}

	// The cursor stops before the failed row so it is retried next run.
	st, _ := states.Load(ctx, root)
	if st.LastRowID != 1 {
		t.Errorf("lastRowID = %d, want 1", st.LastRowID)
	}

	res2 := &core.RunResult{}
	catalog.fail = nil
	if err := collector.Run(ctx, runRequest(), res2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res2.Stats.Scanned != 2 {
		t.Errorf("retry scanned = %d, want 2", res2.Stats.Scanned)
	}
	st, _ = states.Load(ctx, root)
	if st.LastRowID != 3 {
		t.Errorf("lastRowID after retry = %d, want 3", st.LastRowID)
	}
}

func TestJunkMailboxFilter(t *testing.T) {
	root := t.TempDir()
	rows := []indexRow{
		{1, "kept", 1, 0},
		{2, "junked", 2, 0},
		{3, "flagged important", 2, flagPriority},
	}
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox", "Junk.mbox"}, rows)
	writeMessageFile(t, root, "INBOX.mbox", 1, "kept")
	writeMessageFile(t, root, "Junk.mbox", 2, "junked")
	writeMessageFile(t, root, "Junk.mbox", 3, "flagged important")

	catalog := &fakeCatalog{}
	collector, states := newTestCollector(t, root, indexPath, catalog)
	ctx := context.Background()

	res := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Skipped != 1 || res.Stats.Submitted != 2 {
		t.Fatalf("stats = %+v, want 1 skipped and 2 submitted", res.Stats)
	}
	for _, doc := range catalog.submitted() {
		if doc.SourceID == "2" {
			t.Error("junk message was submitted")
		}
	}

	// Skipped junk still advances the cursor.
	st, _ := states.Load(ctx, root)
	if st.LastRowID != 3 {
		t.Errorf("lastRowID = %d, want 3", st.LastRowID)
	}
}

func TestDryRunDoesNotCommit(t *testing.T) {
	root := t.TempDir()
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox"}, []indexRow{{1, "hello", 1, 0}})
	writeMessageFile(t, root, "INBOX.mbox", 1, "hello")

	catalog := &fakeCatalog{}
	collector, states := newTestCollector(t, root, indexPath, catalog)
	ctx := context.Background()

	req := runRequest()
	req.DryRun = true
	res := &core.RunResult{}
	if err := collector.Run(ctx, req, res); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Matched != 1 || res.Stats.Submitted != 0 {
		t.Errorf("stats = %+v, want 1 matched and 0 submitted", res.Stats)
	}
	if len(catalog.submitted()) != 0 {
		t.Error("dry run submitted documents")
	}
	st, _ := states.Load(ctx, root)
	if st.LastRowID != 0 {
		t.Errorf("dry run advanced cursor to %d", st.LastRowID)
	}
}

func TestRunWarnsOnExternallyChangedFiles(t *testing.T) {
	root := t.TempDir()
	rows := []indexRow{{1, "one", 1, 0}, {2, "two", 1, 0}}
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox"}, rows)
	for _, r := range rows {
		writeMessageFile(t, root, "INBOX.mbox", r.rowID, r.subject)
	}

	catalog := &fakeCatalog{}
	collector, _ := newTestCollector(t, root, indexPath, catalog)
	ctx := context.Background()

	res := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Submitted != 2 || len(res.Warnings) != 0 {
		t.Fatalf("first run stats = %+v warnings = %v", res.Stats, res.Warnings)
	}

	// Rewrite one processed file and remove the other behind the store's
	// back.
	messages := filepath.Join(root, "INBOX.mbox", "Messages")
	touched := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(filepath.Join(messages, "1.emlx"), touched, touched); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Remove(filepath.Join(messages, "2.emlx")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	res2 := &core.RunResult{}
	if err := collector.Run(ctx, runRequest(), res2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res2.Warnings) != 2 {
		t.Fatalf("warnings = %v, want one modified and one removed", res2.Warnings)
	}
	var modified, removed bool
	for _, w := range res2.Warnings {
		if strings.Contains(w, "modified") && strings.Contains(w, "1.emlx") {
			modified = true
		}
		if strings.Contains(w, "removed") && strings.Contains(w, "2.emlx") {
			removed = true
		}
	}
	if !modified || !removed {
		t.Errorf("warnings = %v, missing modified or removed notice", res2.Warnings)
	}
}

func TestRunRecordsMissingFile(t *testing.T) {
	root := t.TempDir()
	indexPath := newTestIndex(t, root, []string{"INBOX.mbox"},
		[]indexRow{{1, "present", 1, 0}, {2, "missing", 1, 0}})
	writeMessageFile(t, root, "INBOX.mbox", 1, "present")

	catalog := &fakeCatalog{}
	collector, _ := newTestCollector(t, root, indexPath, catalog)

	res := &core.RunResult{}
	if err := collector.Run(context.Background(), runRequest(), res); err != nil {
		t.Fatalf("missing file aborted run: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want one per-item error", res.Errors)
	}
	if res.Stats.Submitted != 1 {
		t.Errorf("submitted = %d, want 1", res.Stats.Submitted)
	}
}
