package bulk_test

import (
	"strings"
	"testing"

	"github.com/jmerrifield20/certledger/internal/bulk"
)

func TestParseCSV_positional(t *testing.T) {
	in := strings.Join([]string{
		"Alice Johnson, Data Science Fundamentals, 2025-10-03, Dr. Smith, Tech Learning Academy, A+, alice@example.com, +15550100",
		"",
		"Bob Smith,Python Programming,2025-10-02",
		"Too Short,Only Two",
		`"O'Brien, Zoë",Go,2025-10-01`,
	}, "\n")

	reqs, rowErrs, err := bulk.ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}

	a := reqs[0]
	if a.RecipientName != "Alice Johnson" || a.CourseName != "Data Science Fundamentals" ||
		a.CompletionDate != "2025-10-03" || a.InstructorName != "Dr. Smith" ||
		a.Organization != "Tech Learning Academy" || a.Grade != "A+" ||
		a.Email != "alice@example.com" || a.Phone != "+15550100" {
		t.Errorf("first row = %+v", a)
	}
	if b := reqs[1]; b.InstructorName != "" || b.Organization != "" {
		t.Errorf("missing optional columns should be empty, got %+v", b)
	}
	if reqs[2].RecipientName != "O'Brien, Zoë" {
		t.Errorf("quoted cell = %q", reqs[2].RecipientName)
	}

	if len(rowErrs) != 1 || rowErrs[0].Line != 4 {
		t.Errorf("row errors = %+v, want one on line 4", rowErrs)
	}
}

func TestParseCSV_header(t *testing.T) {
	in := "course_name,recipient_name,completion_date,email\n" +
		"Go,Alice Johnson,2025-10-03,alice@example.com\n"

	reqs, rowErrs, err := bulk.ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(rowErrs) != 0 {
		t.Errorf("unexpected row errors %+v", rowErrs)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if r := reqs[0]; r.RecipientName != "Alice Johnson" || r.CourseName != "Go" || r.Email != "alice@example.com" {
		t.Errorf("header-mapped row = %+v", r)
	}
}

func TestParseCSV_headerOnly(t *testing.T) {
	reqs, rowErrs, err := bulk.ParseCSV(strings.NewReader("recipient_name,course_name,completion_date\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 0 || len(rowErrs) != 0 {
		t.Errorf("header-only input: %d requests, %d row errors", len(reqs), len(rowErrs))
	}
}

func TestParseCSV_keepsInvalidValuesForValidation(t *testing.T) {
	reqs, _, err := bulk.ParseCSV(strings.NewReader("John@#$%,Python Course,invalid-date\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].CompletionDate != "invalid-date" {
		t.Errorf("invalid values should reach validation unchanged, got %+v", reqs)
	}
}
