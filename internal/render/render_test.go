package render_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/render"
)

var ctx = context.Background()

const verifyBase = "https://verify.certificates.com"

func sample() *model.Certificate {
	return &model.Certificate{
		CertificateID:  "CERT_D5D18387",
		RecipientName:  "José Álvarez",
		CourseName:     "Data Science Fundamentals",
		CompletionDate: model.MustParseDate("2025-10-03"),
		IssueDate:      model.MustParseDate("2025-10-04"),
		InstructorName: "Dr. Smith",
		Organization:   "Tech Learning Academy",
		Grade:          "A+",
		IntegrityHash:  strings.Repeat("ab", 32),
		HashScheme:     model.SchemeFramed,
		IsActive:       true,
	}
}

func TestPDFRenderer_commit(t *testing.T) {
	dir := t.TempDir()
	r := render.NewPDFRenderer(dir, verifyBase)

	a, err := r.Render(ctx, sample())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := filepath.Join(dir, "certificate_CERT_D5D18387.pdf")
	if a.Reference() != want {
		t.Errorf("Reference() = %q, want %q", a.Reference(), want)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Fatal("final file should not exist before Commit")
	}

	if err := a.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Errorf("artifact does not look like a PDF: %q", b[:8])
	}
	if err := a.Discard(); err != nil {
		t.Errorf("Discard after Commit: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Error("Discard after Commit removed the committed file")
	}
	assertNoStaging(t, dir)
}

func TestTextRenderer_discardLeavesExistingFile(t *testing.T) {
	dir := t.TempDir()
	r := render.NewTextRenderer(dir, verifyBase)

	first, err := r.Render(ctx, sample())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Commit(); err != nil {
		t.Fatal(err)
	}
	original, _ := os.ReadFile(first.Reference())

	other := sample()
	other.RecipientName = "Someone Else"
	second, err := r.Render(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	after, _ := os.ReadFile(first.Reference())
	if !bytes.Equal(original, after) {
		t.Error("discarding a colliding render changed the committed artifact")
	}
	assertNoStaging(t, dir)
}

func TestTextCertificate(t *testing.T) {
	out := render.TextCertificate(sample(), verifyBase)
	for _, want := range []string{
		"CERTIFICATE OF COMPLETION",
		"JOSÉ ÁLVAREZ",
		"Completion Date: 2025-10-03",
		"Grade: A+",
		"Instructor: Dr. Smith",
		"Certificate ID: CERT_D5D18387",
		"Security Hash: abababababababab...",
		"Verify at: https://verify.certificates.com/CERT_D5D18387",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text certificate missing %q", want)
		}
	}

	c := sample()
	c.Grade, c.InstructorName = "", ""
	out = render.TextCertificate(c, verifyBase)
	if strings.Contains(out, "Grade:") || strings.Contains(out, "Instructor:") {
		t.Error("empty optional fields should be omitted")
	}
}

func TestVerificationPayload(t *testing.T) {
	p := render.PayloadFor(sample(), verifyBase).String()
	want := `{"certificate_id":"CERT_D5D18387","recipient":"José Álvarez","course":"Data Science Fundamentals","completion_date":"2025-10-03","verification_url":"https://verify.certificates.com/CERT_D5D18387"}`
	if p != want {
		t.Errorf("payload = %s\nwant      %s", p, want)
	}

	var back map[string]string
	if err := json.Unmarshal([]byte(p), &back); err != nil {
		t.Fatal(err)
	}
}

func TestQRPNG(t *testing.T) {
	png, err := render.QRPNG("CERT_D5D18387", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("QRPNG did not return a PNG")
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"certificates/certificate_CERT_1.pdf": "application/pdf",
		"certificates/certificate_CERT_1.txt": "text/plain; charset=utf-8",
		"":                                    "application/octet-stream",
	}
	for ref, want := range cases {
		if got := render.ContentType(ref); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", ref, got, want)
		}
	}
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, ".staging-*"))
	if len(matches) != 0 {
		t.Errorf("staging files left behind: %v", matches)
	}
}
