package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/ports"
)

// SQLStore is a SyncStateRepository backed by SQLite or MySQL through sqlx.
// The same statements run on both; only placeholder rebinding differs.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_cursor (
	mailbox_root TEXT NOT NULL,
	last_row_id  BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP,
	PRIMARY KEY (mailbox_root)
);
CREATE TABLE IF NOT EXISTS sync_file (
	mailbox_root TEXT NOT NULL,
	row_id       BIGINT NOT NULL,
	path         TEXT NOT NULL,
	inode        BIGINT NOT NULL,
	mtime        TIMESTAMP,
	PRIMARY KEY (mailbox_root, row_id)
);`

// mysql cannot take TEXT in a primary key without a length, so the schema is
// adjusted per driver.
const schemaMySQL = `
CREATE TABLE IF NOT EXISTS sync_cursor (
	mailbox_root VARCHAR(512) NOT NULL,
	last_row_id  BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP NULL,
	PRIMARY KEY (mailbox_root)
);
CREATE TABLE IF NOT EXISTS sync_file (
	mailbox_root VARCHAR(512) NOT NULL,
	row_id       BIGINT NOT NULL,
	path         TEXT NOT NULL,
	inode        BIGINT NOT NULL,
	mtime        TIMESTAMP NULL,
	PRIMARY KEY (mailbox_root, row_id)
);`

// NewSQLiteStore opens (or creates) a SQLite-backed store at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state database: %w", err)
	}
	return newSQLStore(db, schema, logger)
}

// NewMySQLStore opens a MySQL-backed store. The DSN must enable parseTime.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sync state database: %w", err)
	}
	return newSQLStore(db, schemaMySQL, logger)
}

func newSQLStore(db *sqlx.DB, ddl string, logger *zap.Logger) (*SQLStore, error) {
	if _, err := db.Exec(ddl); err != nil {
		// Some drivers reject multi-statement DDL in one Exec.
		for _, stmt := range splitStatements(ddl) {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to create sync state tables: %w", err)
			}
		}
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func splitStatements(ddl string) []string {
	var out []string
	start := 0
	for i := 0; i < len(ddl); i++ {
		if ddl[i] == ';' {
			if stmt := ddl[start : i+1]; len(stmt) > 1 {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	return out
}

func (s *SQLStore) Load(ctx context.Context, mailboxRoot string) (*ports.SyncState, error) {
	out := &ports.SyncState{Files: make(map[int64]ports.FileState)}

	err := s.db.QueryRowxContext(ctx,
		s.db.Rebind(`SELECT last_row_id FROM sync_cursor WHERE mailbox_root = ?`),
		mailboxRoot).Scan(&out.LastRowID)
	if err == sql.ErrNoRows {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		s.db.Rebind(`SELECT row_id, path, inode, mtime FROM sync_file WHERE mailbox_root = ?`),
		mailboxRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync file states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rowID, inode int64
		var path string
		var mtime time.Time
		if err := rows.Scan(&rowID, &path, &inode, &mtime); err != nil {
			return nil, fmt.Errorf("failed to scan sync file state: %w", err)
		}
		out.Files[rowID] = ports.FileState{Path: path, Inode: uint64(inode), MTime: mtime}
	}
	return out, rows.Err()
}

func (s *SQLStore) Commit(ctx context.Context, mailboxRoot string, lastRowID int64, files map[int64]ports.FileState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync state commit: %w", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowxContext(ctx,
		tx.Rebind(`SELECT last_row_id FROM sync_cursor WHERE mailbox_root = ?`),
		mailboxRoot).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO sync_cursor (mailbox_root, last_row_id, updated_at) VALUES (?, ?, ?)`),
			mailboxRoot, lastRowID, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to insert sync cursor: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read sync cursor: %w", err)
	case lastRowID > stored:
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE sync_cursor SET last_row_id = ?, updated_at = ? WHERE mailbox_root = ?`),
			lastRowID, time.Now().UTC(), mailboxRoot); err != nil {
			return fmt.Errorf("failed to advance sync cursor: %w", err)
		}
	default:
		s.logger.Debug("Ignoring non-advancing cursor commit",
			zap.Int64("stored", stored),
			zap.Int64("proposed", lastRowID))
	}

	for rowID, fs := range files {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`REPLACE INTO sync_file (mailbox_root, row_id, path, inode, mtime) VALUES (?, ?, ?, ?, ?)`),
			mailboxRoot, rowID, fs.Path, int64(fs.Inode), fs.MTime.UTC()); err != nil {
			return fmt.Errorf("failed to record file state for row %d: %w", rowID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) Reset(ctx context.Context, mailboxRoot string) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM sync_cursor WHERE mailbox_root = ?`), mailboxRoot); err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM sync_file WHERE mailbox_root = ?`), mailboxRoot); err != nil {
		return fmt.Errorf("failed to reset sync file states: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
