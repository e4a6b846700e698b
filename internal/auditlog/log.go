package auditlog

import (
	"context"
	"errors"
)

// ErrEntryNotFound is returned by Get for an index outside the chain.
var ErrEntryNotFound = errors.New("audit entry not found")

// ErrChainBroken is returned by Verify when a stored hash does not match.
var ErrChainBroken = errors.New("audit chain broken")

// Log is the append-only audit chain.
// MemoryLog, PostgresLog and SQLiteLog implement it.
type Log interface {
	// Append chains a new entry after the current tip.
	Append(ctx context.Context, ev Event) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// ForCertificate returns the events of one certificate, oldest first.
	ForCertificate(ctx context.Context, certificateID string) ([]*Entry, error)

	// Verify walks the whole chain. Returns nil if it is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}
