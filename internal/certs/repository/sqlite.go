package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the database file at path with WAL journaling and a
// single connection. The parent directory is created if missing.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// One writer. Also keeps every caller on the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	certificate_id TEXT UNIQUE,
	recipient_name TEXT,
	email TEXT,
	course_name TEXT,
	completion_date TEXT,
	issue_date TEXT,
	instructor_name TEXT,
	organization TEXT,
	grade TEXT,
	certificate_hash TEXT,
	qr_code_data TEXT,
	file_path TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	is_active BOOLEAN DEFAULT 1,
	phone TEXT,
	hash_scheme TEXT DEFAULT 'sha256-concat'
)`

// sqliteOptionalColumns are added to tables created by older issuers.
var sqliteOptionalColumns = []struct{ name, ddl string }{
	{"is_active", "ALTER TABLE certificates ADD COLUMN is_active BOOLEAN DEFAULT 1"},
	{"email", "ALTER TABLE certificates ADD COLUMN email TEXT"},
	{"phone", "ALTER TABLE certificates ADD COLUMN phone TEXT"},
	{"file_path", "ALTER TABLE certificates ADD COLUMN file_path TEXT"},
	{"hash_scheme", "ALTER TABLE certificates ADD COLUMN hash_scheme TEXT DEFAULT 'sha256-concat'"},
}

const sqliteTrigger = `
CREATE TRIGGER IF NOT EXISTS certificates_immutable
BEFORE UPDATE ON certificates
WHEN NEW.certificate_id IS NOT OLD.certificate_id
	OR NEW.recipient_name IS NOT OLD.recipient_name
	OR NEW.course_name IS NOT OLD.course_name
	OR NEW.completion_date IS NOT OLD.completion_date
	OR NEW.certificate_hash IS NOT OLD.certificate_hash
	OR NEW.hash_scheme IS NOT OLD.hash_scheme
BEGIN
	SELECT RAISE(ABORT, 'certificate fields are immutable');
END`

const sqliteColumns = `
	id, COALESCE(certificate_id, ''), COALESCE(recipient_name, ''), COALESCE(course_name, ''),
	COALESCE(completion_date, ''), COALESCE(issue_date, ''), COALESCE(instructor_name, ''),
	COALESCE(organization, ''), COALESCE(grade, ''), COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(certificate_hash, ''), COALESCE(hash_scheme, 'sha256-concat'), COALESCE(file_path, ''),
	COALESCE(is_active, 1), created_at`

// SQLiteStore persists certificates in a SQLite file. It reads and upgrades
// databases written by earlier issuers in place.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore bootstraps the schema on db and returns the store.
// Bootstrapping is idempotent.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create certificates table: %w", err)
	}

	existing, err := s.columns(ctx)
	if err != nil {
		return err
	}
	for _, col := range sqliteOptionalColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_certificates_created ON certificates (created_at DESC)`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteTrigger); err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(certificates)`)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Insert implements Store. Sets ID and CreatedAt on c.
func (s *SQLiteStore) Insert(ctx context.Context, c *model.Certificate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO certificates (
			certificate_id, recipient_name, email, course_name, completion_date,
			issue_date, instructor_name, organization, grade, certificate_hash,
			hash_scheme, file_path, phone, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		c.CertificateID, c.RecipientName, c.Email, c.CourseName, c.CompletionDate.String(),
		c.IssueDate.String(), c.InstructorName, c.Organization, c.Grade, c.IntegrityHash,
		string(c.HashScheme), c.ArtifactReference, c.Phone, c.IsActive, c.CreatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// GetActive implements Store.
func (s *SQLiteStore) GetActive(ctx context.Context, certificateID string) (*model.Certificate, error) {
	query := `SELECT ` + sqliteColumns + ` FROM certificates WHERE certificate_id = ? AND COALESCE(is_active, 1) = 1`
	return s.scanOne(ctx, query, certificateID)
}

// GetAny implements Store.
func (s *SQLiteStore) GetAny(ctx context.Context, certificateID string) (*model.Certificate, error) {
	query := `SELECT ` + sqliteColumns + ` FROM certificates WHERE certificate_id = ?`
	return s.scanOne(ctx, query, certificateID)
}

// ListActive implements Store.
func (s *SQLiteStore) ListActive(ctx context.Context, limit, offset int) ([]*model.Certificate, error) {
	query := `
		SELECT ` + sqliteColumns + ` FROM certificates
		WHERE COALESCE(is_active, 1) = 1
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	return s.scanMany(ctx, query, pageSize(limit), offset)
}

// ListAll implements Store.
func (s *SQLiteStore) ListAll(ctx context.Context, limit, offset int) ([]*model.Certificate, error) {
	query := `
		SELECT ` + sqliteColumns + ` FROM certificates
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	return s.scanMany(ctx, query, pageSize(limit), offset)
}

// SetActive implements Store.
func (s *SQLiteStore) SetActive(ctx context.Context, certificateID string, active bool) (int64, error) {
	query := `UPDATE certificates SET is_active = ? WHERE certificate_id = ? AND COALESCE(is_active, 1) <> ?`
	res, err := s.db.ExecContext(ctx, query, active, certificateID, active)
	if err != nil {
		return 0, fmt.Errorf("set is_active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set is_active: %w", err)
	}
	return n, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	q := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN COALESCE(is_active, 1) = 1 THEN 1 ELSE 0 END), 0) FROM certificates`
	if err := s.db.QueryRowContext(ctx, q).Scan(&c.Total, &c.Active); err != nil {
		return model.Counts{}, fmt.Errorf("count certificates: %w", err)
	}
	c.Inactive = c.Total - c.Active
	return c, nil
}

func (s *SQLiteStore) scanOne(ctx context.Context, query string, args ...any) (*model.Certificate, error) {
	c, err := scanSQLite(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) scanMany(ctx context.Context, query string, args ...any) ([]*model.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		c, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSQLite reads one row in sqliteColumns order. Dates are decoded
// losslessly so legacy rows hash over exactly the text they were signed with.
func scanSQLite(row rowScanner) (*model.Certificate, error) {
	var (
		c                 model.Certificate
		completed, issued string
		scheme            string
		created           sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.CertificateID, &c.RecipientName, &c.CourseName,
		&completed, &issued, &c.InstructorName,
		&c.Organization, &c.Grade, &c.Email, &c.Phone,
		&c.IntegrityHash, &scheme, &c.ArtifactReference,
		&c.IsActive, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	c.CompletionDate = model.ParseStoredDate(completed)
	c.IssueDate = model.ParseStoredDate(issued)
	c.HashScheme = model.HashScheme(scheme)
	if created.Valid {
		c.CreatedAt = created.Time.UTC()
	}
	return &c, nil
}
