package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const pgColumns = `
	id, certificate_id, recipient_name, course_name, completion_date,
	issue_date, instructor_name, organization, grade, email,
	phone, integrity_hash, hash_scheme, artifact_reference, is_active,
	created_at`

// PostgresStore persists certificates in the certificates table
// (migrations/001_certificates.up.sql).
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert implements Store. Sets ID and CreatedAt on c.
func (r *PostgresStore) Insert(ctx context.Context, c *model.Certificate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO certificates (
			certificate_id, recipient_name, course_name, completion_date, issue_date,
			instructor_name, organization, grade, email, phone,
			integrity_hash, hash_scheme, artifact_reference, is_active, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		c.CertificateID, c.RecipientName, c.CourseName, c.CompletionDate.Time(), c.IssueDate.Time(),
		c.InstructorName, c.Organization, c.Grade, c.Email, c.Phone,
		c.IntegrityHash, string(c.HashScheme), c.ArtifactReference, c.IsActive, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// GetActive implements Store.
func (r *PostgresStore) GetActive(ctx context.Context, certificateID string) (*model.Certificate, error) {
	query := `SELECT ` + pgColumns + ` FROM certificates WHERE certificate_id = $1 AND is_active`
	return r.scanOne(ctx, query, certificateID)
}

// GetAny implements Store.
func (r *PostgresStore) GetAny(ctx context.Context, certificateID string) (*model.Certificate, error) {
	query := `SELECT ` + pgColumns + ` FROM certificates WHERE certificate_id = $1`
	return r.scanOne(ctx, query, certificateID)
}

// ListActive implements Store.
func (r *PostgresStore) ListActive(ctx context.Context, limit, offset int) ([]*model.Certificate, error) {
	query := `
		SELECT ` + pgColumns + ` FROM certificates
		WHERE is_active
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	return r.scanMany(ctx, query, pageSize(limit), offset)
}

// ListAll implements Store.
func (r *PostgresStore) ListAll(ctx context.Context, limit, offset int) ([]*model.Certificate, error) {
	query := `
		SELECT ` + pgColumns + ` FROM certificates
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	return r.scanMany(ctx, query, pageSize(limit), offset)
}

// SetActive implements Store.
func (r *PostgresStore) SetActive(ctx context.Context, certificateID string, active bool) (int64, error) {
	query := `UPDATE certificates SET is_active = $2 WHERE certificate_id = $1 AND is_active IS DISTINCT FROM $2`
	tag, err := r.db.Exec(ctx, query, certificateID, active)
	if err != nil {
		return 0, fmt.Errorf("set is_active: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count implements Store.
func (r *PostgresStore) Count(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	q := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM certificates`
	if err := r.db.QueryRow(ctx, q).Scan(&c.Total, &c.Active); err != nil {
		return model.Counts{}, fmt.Errorf("count certificates: %w", err)
	}
	c.Inactive = c.Total - c.Active
	return c, nil
}

func (r *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*model.Certificate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query certificate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query certificate: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanPG(rows)
}

func (r *PostgresStore) scanMany(ctx context.Context, query string, args ...any) ([]*model.Certificate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		c, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// scanPG reads one row in pgColumns order.
func scanPG(rows pgx.Rows) (*model.Certificate, error) {
	var (
		c                 model.Certificate
		completed, issued time.Time
		scheme            string
	)
	err := rows.Scan(
		&c.ID, &c.CertificateID, &c.RecipientName, &c.CourseName, &completed,
		&issued, &c.InstructorName, &c.Organization, &c.Grade, &c.Email,
		&c.Phone, &c.IntegrityHash, &scheme, &c.ArtifactReference, &c.IsActive,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	c.CompletionDate = model.DateOf(completed)
	c.IssueDate = model.DateOf(issued)
	c.HashScheme = model.HashScheme(scheme)
	return &c, nil
}
