package render

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// TextRenderer writes plain text certificates.
type TextRenderer struct {
	dir        string
	verifyBase string
}

// NewTextRenderer returns a TextRenderer writing into dir.
func NewTextRenderer(dir, verifyBase string) *TextRenderer {
	return &TextRenderer{dir: dir, verifyBase: verifyBase}
}

// Format implements Renderer.
func (r *TextRenderer) Format() string { return "text" }

// Render implements Renderer.
func (r *TextRenderer) Render(_ context.Context, c *model.Certificate) (Artifact, error) {
	body := TextCertificate(c, r.verifyBase)
	return stage(r.dir, c.CertificateID, ".txt", func(path string) error {
		if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
			return fmt.Errorf("write text certificate: %w", err)
		}
		return nil
	})
}

const textWidth = 80

// TextCertificate lays c out as an 80-column plain text certificate.
func TextCertificate(c *model.Certificate, verifyBase string) string {
	rule := strings.Repeat("=", textWidth)
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString(center("CERTIFICATE OF COMPLETION") + "\n")
	b.WriteString(rule + "\n\n")
	b.WriteString(center("This is to certify that") + "\n\n")
	b.WriteString(center(strings.ToUpper(c.RecipientName)) + "\n\n")
	b.WriteString(center("has successfully completed the course") + "\n\n")
	b.WriteString(center(c.CourseName) + "\n\n")

	fmt.Fprintf(&b, "Completion Date: %s\n", c.CompletionDate)
	fmt.Fprintf(&b, "Issue Date: %s\n", c.IssueDate)
	fmt.Fprintf(&b, "Organization: %s\n", c.Organization)
	if c.Grade != "" {
		fmt.Fprintf(&b, "Grade: %s\n", c.Grade)
	}
	if c.InstructorName != "" {
		fmt.Fprintf(&b, "Instructor: %s\n", c.InstructorName)
	}

	fmt.Fprintf(&b, "\nCertificate ID: %s\n", c.CertificateID)
	hash := c.IntegrityHash
	if len(hash) > 16 {
		hash = hash[:16] + "..."
	}
	fmt.Fprintf(&b, "Security Hash: %s\n", hash)
	fmt.Fprintf(&b, "Verify at: %s\n\n", PayloadFor(c, verifyBase).VerificationURL)
	b.WriteString(rule + "\n")
	return b.String()
}

func center(s string) string {
	n := len([]rune(s))
	if n >= textWidth {
		return s
	}
	return strings.Repeat(" ", (textWidth-n)/2) + s
}
