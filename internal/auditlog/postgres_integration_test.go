//go:build integration

package auditlog_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/certledger/internal/auditlog"
	"go.uber.org/zap"
)

// Requires a database migrated with cmd/migrate.
func TestPostgresLog(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	runLogSuite(t, func(t *testing.T) auditlog.Log {
		if _, err := pool.Exec(ctx, "DELETE FROM audit_log WHERE idx > 0"); err != nil {
			t.Fatalf("reset audit_log: %v", err)
		}
		return auditlog.NewPostgresLog(pool, zap.NewNop())
	})
}
