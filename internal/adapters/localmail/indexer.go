// Package localmail incrementally ingests a locally indexed mail store: a
// foreign SQLite envelope index plus per-message emlx files laid out under
// the mailbox root.
package localmail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/mailmime"
	"github.com/mikey/mail-ingest/internal/ports"
)

// flagPriority is the per-message flag bit that overrides junk-mailbox
// exclusion.
const flagPriority = 1 << 4

// Item is one decoded index row ready for cleaning and submission.
type Item struct {
	RowID int64
	File  ports.FileState
	Msg   *core.Message

	// Junk marks a message excluded by the junk-mailbox filter. Junk items
	// are skipped but still count as handled for cursor advancement.
	Junk bool
}

// Indexer reads the foreign envelope index. The index is externally owned
// and opened read-only; no writes are ever issued to it.
type Indexer struct {
	db       *sqlx.DB
	resolver rowResolver
	root     string
	scanCap  int
	logger   *zap.Logger

	mailboxes map[int64]string
}

// NewIndexer opens the envelope index at indexPath read-only and detects its
// schema version. mailboxRoot is the directory holding per-mailbox message
// files.
func NewIndexer(indexPath, mailboxRoot string, scanCap int, logger *zap.Logger) (*Indexer, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", indexPath))
	if err != nil {
		return nil, &core.ResourceError{Resource: "envelope index", Err: err}
	}
	// A single connection keeps reads serialized; the index is never a
	// throughput bottleneck.
	db.SetMaxOpenConns(1)

	resolver, err := detectResolver(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, &core.ResourceError{Resource: "envelope index", Err: err}
	}
	return &Indexer{
		db:       db,
		resolver: resolver,
		root:     mailboxRoot,
		scanCap:  scanCap,
		logger:   logger,
	}, nil
}

// Candidates returns all message row ids in the index, ascending, bounded by
// the scan cap. The cursor cut happens later through the paging algorithm so
// descending runs still see the full candidate set.
func (ix *Indexer) Candidates(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := ix.db.SelectContext(ctx, &ids,
		`SELECT ROWID FROM messages ORDER BY ROWID ASC LIMIT ?`, ix.scanCap)
	if err != nil {
		return nil, &core.ResourceError{Resource: "envelope index", Err: err}
	}
	return ids, nil
}

// Fetch resolves one row: envelope fields, owning mailbox, message file path,
// and the decoded message. Junk classification comes from the mailbox name
// unless the priority flag bit is set on the row.
func (ix *Indexer) Fetch(ctx context.Context, rowID int64) (*Item, error) {
	row, err := ix.resolver.fetchRow(ctx, ix.db, rowID)
	if err != nil {
		return nil, &core.ResourceError{Resource: fmt.Sprintf("index row %d", rowID), Err: err}
	}

	mailbox, err := ix.mailboxURL(ctx, row.MailboxID)
	if err != nil {
		return nil, err
	}

	path := ix.messagePath(mailbox, rowID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ResourceError{Resource: path, Err: err}
	}

	msg, err := mailmime.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %d: %w", rowID, err)
	}
	priority := row.Flags&flagPriority != 0
	msg.Priority = priority

	// The index envelope is authoritative for fields the file may lack.
	if msg.Subject == "" {
		msg.Subject = row.Subject
	}
	if msg.Date.IsZero() && row.Received > 0 {
		msg.Date = time.Unix(row.Received, 0).UTC()
	}

	item := &Item{
		RowID: rowID,
		Msg:   msg,
		Junk:  isJunkMailbox(mailbox) && !priority,
		File:  ports.FileState{Path: path},
	}
	if info, err := os.Stat(path); err == nil {
		item.File.MTime = info.ModTime()
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			item.File.Inode = st.Ino
		}
	}
	return item, nil
}

// CheckModifiedFiles compares the stored file states against the current
// on-disk files and returns one warning per out-of-band change.
func (ix *Indexer) CheckModifiedFiles(state *ports.SyncState) []string {
	var warnings []string
	for rowID, rec := range state.Files {
		info, err := os.Stat(rec.Path)
		if err != nil {
			if os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("processed message file removed: %s (row %d)", rec.Path, rowID))
			}
			continue
		}
		changed := !info.ModTime().Equal(rec.MTime)
		if st, ok := info.Sys().(*syscall.Stat_t); ok && rec.Inode != 0 && st.Ino != rec.Inode {
			changed = true
		}
		if changed {
			warnings = append(warnings, fmt.Sprintf("processed message file modified externally: %s (row %d)", rec.Path, rowID))
		}
	}
	return warnings
}

// Close releases the index connection.
func (ix *Indexer) Close() error {
	return ix.db.Close()
}

func (ix *Indexer) mailboxURL(ctx context.Context, mailboxID int64) (string, error) {
	if ix.mailboxes == nil {
		rows := []struct {
			RowID int64  `db:"rowid"`
			URL   string `db:"url"`
		}{}
		err := ix.db.SelectContext(ctx, &rows,
			`SELECT ROWID AS rowid, COALESCE(url, '') AS url FROM mailboxes`)
		if err != nil {
			return "", &core.ResourceError{Resource: "mailboxes table", Err: err}
		}
		ix.mailboxes = make(map[int64]string, len(rows))
		for _, r := range rows {
			ix.mailboxes[r.RowID] = r.URL
		}
	}
	return ix.mailboxes[mailboxID], nil
}

// messagePath resolves the on-disk file for a row under the mailbox storage
// layout: <mailbox dir>/Messages/<rowid>.emlx.
func (ix *Indexer) messagePath(mailboxURL string, rowID int64) string {
	dir := strings.TrimPrefix(mailboxURL, "file://")
	if dir == "" || !filepath.IsAbs(dir) {
		dir = filepath.Join(ix.root, dir)
	}
	return filepath.Join(dir, "Messages", fmt.Sprintf("%d.emlx", rowID))
}

func isJunkMailbox(mailboxURL string) bool {
	lower := strings.ToLower(mailboxURL)
	return strings.Contains(lower, "junk") || strings.Contains(lower, "spam")
}
