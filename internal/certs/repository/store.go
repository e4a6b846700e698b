package repository

import (
	"context"
	"errors"

	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// ErrNotFound is returned when no certificate matches the lookup.
var ErrNotFound = errors.New("certificate not found")

// ErrDuplicateKey is returned by Insert when the certificate_id is already taken.
var ErrDuplicateKey = errors.New("certificate id already exists")

// defaultPageSize applies when a list call passes limit <= 0.
const defaultPageSize = 50

// Store is the durable keyed table of certificate entries.
// PostgresStore, SQLiteStore and MemoryStore implement it.
type Store interface {
	// Insert stores a new entry. The uniqueness check and the write are a
	// single atomic statement.
	Insert(ctx context.Context, c *model.Certificate) error

	// GetActive returns the entry only while is_active is true.
	GetActive(ctx context.Context, certificateID string) (*model.Certificate, error)

	// GetAny returns the entry regardless of is_active.
	GetAny(ctx context.Context, certificateID string) (*model.Certificate, error)

	// ListActive returns active entries, newest created first.
	ListActive(ctx context.Context, limit, offset int) ([]*model.Certificate, error)

	// ListAll returns every entry including inactive ones, newest created first.
	ListAll(ctx context.Context, limit, offset int) ([]*model.Certificate, error)

	// SetActive flips is_active and returns the number of rows changed:
	// 0 when the id is absent or already in the requested state.
	SetActive(ctx context.Context, certificateID string, active bool) (int64, error)

	// Count returns the number of entries by state.
	Count(ctx context.Context) (model.Counts, error)
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}
