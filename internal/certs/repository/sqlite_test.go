package repository_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmerrifield20/certledger/internal/certs/integrity"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/repository"
)

func openSQLiteStore(t *testing.T, path string) *repository.SQLiteStore {
	t.Helper()
	db, err := repository.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := repository.NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStore_upgradesLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy", "certificates.db")
	db, err := repository.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	createLegacyTable(t, db)
	if _, err := db.ExecContext(ctx, `INSERT INTO certificates (certificate_id, recipient_name, course_name, completion_date, issue_date, organization, certificate_hash)
		 VALUES ('CERT_0000000A', 'Alice', 'Go', '2025-10-03', '2025-10-03', 'Tech Learning Academy',
		         '3160d8b7408f6d8a9103d24ce36eaa3188d85542ce4d01a718928297b9b25f3b')`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	s, err := repository.NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteStore on legacy table: %v", err)
	}
	// Bootstrapping twice must be harmless.
	if _, err := repository.NewSQLiteStore(ctx, db); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	got, err := s.GetActive(ctx, "CERT_0000000A")
	if err != nil {
		t.Fatalf("GetActive on legacy row: %v", err)
	}
	if !got.IsActive {
		t.Error("legacy row should default to active")
	}
	if got.HashScheme != model.SchemeConcat {
		t.Errorf("HashScheme = %q, want %q", got.HashScheme, model.SchemeConcat)
	}
	if got.CompletionDate.String() != "2025-10-03" || got.Email != "" || got.ArtifactReference != "" {
		t.Errorf("unexpected legacy decode: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not decoded")
	}

	if n, err := s.SetActive(ctx, "CERT_0000000A", false); err != nil || n != 1 {
		t.Errorf("SetActive on legacy row = %d, %v", n, err)
	}
}

func TestSQLiteStore_legacyUnpaddedDateVerifies(t *testing.T) {
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "certificates.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	createLegacyTable(t, db)

	// Legacy issuers stored the completion date as typed.
	hash, err := integrity.ComputeHash(model.SchemeConcat, "CERT_0000000B", "Bob", "Go", "2025-10-3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO certificates (certificate_id, recipient_name, course_name, completion_date, issue_date, certificate_hash)
		 VALUES ('CERT_0000000B', 'Bob', 'Go', '2025-10-3', '2025-10-04', ?)`, hash); err != nil {
		t.Fatal(err)
	}

	s, err := repository.NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetActive(ctx, "CERT_0000000B")
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletionDate.String() != "2025-10-3" {
		t.Errorf("CompletionDate = %q, want the stored text", got.CompletionDate.String())
	}
	if got.CompletionDate.Day != 3 {
		t.Errorf("CompletionDate.Day = %d, want 3", got.CompletionDate.Day)
	}
	if err := integrity.Check(got); err != nil {
		t.Errorf("untouched legacy row failed its integrity check: %v", err)
	}
}

func TestSQLiteStore_rejectsFieldUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.db")
	s := openSQLiteStore(t, path)
	mustInsert(t, s, fixture("CERT_00000500", time.Now()))

	db, err := repository.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `UPDATE certificates SET recipient_name = 'Mallory' WHERE certificate_id = 'CERT_00000500'`); err == nil {
		t.Error("updating an attested field should be rejected")
	}
	if _, err := db.ExecContext(ctx, `UPDATE certificates SET is_active = 0 WHERE certificate_id = 'CERT_00000500'`); err != nil {
		t.Errorf("updating is_active: %v", err)
	}
}

// createLegacyTable creates the table written by the first generation of
// issuers: no email, phone, is_active, hash_scheme or file_path columns.
func createLegacyTable(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.ExecContext(ctx, `CREATE TABLE certificates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		certificate_id TEXT UNIQUE,
		recipient_name TEXT,
		course_name TEXT,
		completion_date TEXT,
		issue_date TEXT,
		instructor_name TEXT,
		organization TEXT,
		grade TEXT,
		certificate_hash TEXT,
		qr_code_data TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
}
