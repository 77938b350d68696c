package localmail

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// envelopeRow is one row of the foreign message index, with subject and
// addresses already resolved to text regardless of schema version.
type envelopeRow struct {
	RowID     int64  `db:"rowid"`
	Subject   string `db:"subject"`
	Sender    string `db:"sender"`
	Recipient string `db:"recipient"`
	Received  int64  `db:"date_received"`
	MailboxID int64  `db:"mailbox"`
	Flags     int64  `db:"flags"`
}

// rowResolver hides the index schema differences behind one query surface.
// Older stores keep subject and addresses as direct text columns; newer ones
// normalize them into subjects/addresses lookup tables. One implementation
// per version, picked once at indexer construction.
type rowResolver interface {
	fetchRow(ctx context.Context, db *sqlx.DB, rowID int64) (*envelopeRow, error)
}

// detectResolver inspects the index once and returns the matching resolver.
func detectResolver(ctx context.Context, db *sqlx.DB) (rowResolver, error) {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'subjects'`)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect index schema: %w", err)
	}
	if n > 0 {
		return normalizedResolver{}, nil
	}
	return directResolver{}, nil
}

// directResolver reads subject/sender/recipient straight off the messages
// table.
type directResolver struct{}

func (directResolver) fetchRow(ctx context.Context, db *sqlx.DB, rowID int64) (*envelopeRow, error) {
	var row envelopeRow
	err := db.GetContext(ctx, &row, `
		SELECT m.ROWID AS rowid,
		       COALESCE(m.subject, '') AS subject,
		       COALESCE(m.sender, '') AS sender,
		       COALESCE(m.recipient, '') AS recipient,
		       COALESCE(m.date_received, 0) AS date_received,
		       COALESCE(m.mailbox, 0) AS mailbox,
		       COALESCE(m.flags, 0) AS flags
		FROM messages m
		WHERE m.ROWID = ?`, rowID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// normalizedResolver resolves subject and sender through the lookup tables
// the newer schema uses.
type normalizedResolver struct{}

func (normalizedResolver) fetchRow(ctx context.Context, db *sqlx.DB, rowID int64) (*envelopeRow, error) {
	var row envelopeRow
	err := db.GetContext(ctx, &row, `
		SELECT m.ROWID AS rowid,
		       COALESCE(s.subject, '') AS subject,
		       COALESCE(a.address, '') AS sender,
		       '' AS recipient,
		       COALESCE(m.date_received, 0) AS date_received,
		       COALESCE(m.mailbox, 0) AS mailbox,
		       COALESCE(m.flags, 0) AS flags
		FROM messages m
		LEFT JOIN subjects s ON s.ROWID = m.subject
		LEFT JOIN addresses a ON a.ROWID = m.sender
		WHERE m.ROWID = ?`, rowID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
