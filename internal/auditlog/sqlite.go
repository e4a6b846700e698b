package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	idx INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	certificate_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	data_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
)`

// SQLiteLog persists the chain in an audit_log table of a SQLite database.
// Timestamps are stored as RFC 3339 text so they reproduce exactly.
type SQLiteLog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteLog creates the audit_log table and genesis entry if missing.
func NewSQLiteLog(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteLog, error) {
	if _, err := db.ExecContext(ctx, sqliteAuditSchema); err != nil {
		return nil, fmt.Errorf("create audit_log table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_log_certificate ON audit_log (certificate_id)`); err != nil {
		return nil, fmt.Errorf("create audit_log index: %w", err)
	}
	g := genesis()
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_log (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Index, g.Timestamp.Format(time.RFC3339Nano), g.CertificateID,
		g.Action, g.Actor, g.DataHash, g.PrevHash, g.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert genesis entry: %w", err)
	}
	return &SQLiteLog{db: db, logger: logger}, nil
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, ev Event) (*Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := scanSQLiteEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_log ORDER BY idx DESC LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("read audit tail: %w", err)
	}

	entry := newEntry(prev, ev)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Index, entry.Timestamp.Format(time.RFC3339Nano), entry.CertificateID,
		entry.Action, entry.Actor, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.String("certificate_id", entry.CertificateID),
	)
	return entry, nil
}

// Get implements Log.
func (l *SQLiteLog) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanSQLiteEntry(l.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_log WHERE idx = ?`, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Log.
func (l *SQLiteLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// ForCertificate implements Log.
func (l *SQLiteLog) ForCertificate(ctx context.Context, certificateID string) ([]*Entry, error) {
	return l.query(ctx,
		`SELECT `+entryColumns+` FROM audit_log WHERE certificate_id = ? AND idx > 0 ORDER BY idx ASC`,
		certificateID)
}

// Verify implements Log.
func (l *SQLiteLog) Verify(ctx context.Context) error {
	entries, err := l.query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return err
	}
	var prev *Entry
	for _, curr := range entries {
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Log.
func (l *SQLiteLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.db.QueryRowContext(ctx,
		"SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get audit root: %w", err)
	}
	return hash, nil
}

func (l *SQLiteLog) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var (
		e  Entry
		ts string
	)
	if err := row.Scan(
		&e.Index, &ts, &e.CertificateID,
		&e.Action, &e.Actor, &e.DataHash,
		&e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	e.Timestamp = t.UTC()
	return &e, nil
}
