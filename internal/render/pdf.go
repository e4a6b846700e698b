package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// PDFRenderer writes A4 portrait certificates with an embedded QR code.
type PDFRenderer struct {
	dir        string
	verifyBase string
}

// NewPDFRenderer returns a PDFRenderer writing into dir. QR codes link to
// verification URLs under verifyBase.
func NewPDFRenderer(dir, verifyBase string) *PDFRenderer {
	return &PDFRenderer{dir: dir, verifyBase: verifyBase}
}

// Format implements Renderer.
func (r *PDFRenderer) Format() string { return "pdf" }

// Render implements Renderer.
func (r *PDFRenderer) Render(_ context.Context, c *model.Certificate) (Artifact, error) {
	qr, err := QRPNG(PayloadFor(c, r.verifyBase).String(), DefaultQRSize)
	if err != nil {
		return nil, err
	}
	pdf := r.layout(c, qr)
	return stage(r.dir, c.CertificateID, ".pdf", func(path string) error {
		if err := pdf.OutputFileAndClose(path); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		return nil
	})
}

type rgb struct{ r, g, b int }

var (
	colorBackground = rgb{242, 242, 250}
	colorNavy       = rgb{51, 77, 153}
	colorGold       = rgb{255, 215, 0}
	colorInk        = rgb{26, 26, 102}
	colorRecipient  = rgb{153, 26, 26}
	colorBlack      = rgb{0, 0, 0}
)

// layout draws the certificate. Coordinates are points from the top-left.
func (r *PDFRenderer) layout(c *model.Certificate, qr []byte) *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetTitle("Certificate "+c.CertificateID, true)
	pdf.SetCreator("certledger", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	w, h := pdf.GetPageSize()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	fill := func(col rgb) { pdf.SetFillColor(col.r, col.g, col.b) }
	stroke := func(col rgb) { pdf.SetDrawColor(col.r, col.g, col.b) }
	ink := func(col rgb) { pdf.SetTextColor(col.r, col.g, col.b) }
	centered := func(y float64, style string, size float64, s string) {
		pdf.SetFont("Helvetica", style, size)
		s = tr(s)
		pdf.Text((w-pdf.GetStringWidth(s))/2, y, s)
	}

	fill(colorBackground)
	pdf.Rect(0, 0, w, h, "F")

	stroke(colorNavy)
	pdf.SetLineWidth(8)
	pdf.Rect(30, 30, w-60, h-60, "D")

	stroke(colorGold)
	pdf.SetLineWidth(4)
	pdf.Rect(50, 50, w-100, h-100, "D")

	ink(colorNavy)
	centered(120, "B", 32, "CERTIFICATE OF COMPLETION")

	stroke(colorGold)
	pdf.SetLineWidth(3)
	pdf.Line(w/2-150, 140, w/2+150, 140)

	ink(colorInk)
	centered(200, "B", 24, "This is to certify that")

	ink(colorRecipient)
	centered(250, "B", 36, strings.ToUpper(c.RecipientName))

	ink(colorBlack)
	centered(300, "", 18, "has successfully completed the course")

	ink(colorNavy)
	centered(340, "B", 24, c.CourseName)

	ink(colorBlack)
	centered(400, "", 14, "Completed on: "+c.CompletionDate.String())
	centered(420, "", 14, "Issued on: "+c.IssueDate.String())
	if c.Grade != "" {
		centered(440, "", 14, "Grade: "+c.Grade)
	}
	centered(480, "B", 16, c.Organization)

	if c.InstructorName != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(100, h-150, "Instructor:")
		pdf.SetFont("Helvetica", "B", 14)
		pdf.Text(100, h-130, tr(c.InstructorName))
		stroke(colorBlack)
		pdf.SetLineWidth(1)
		pdf.Line(100, h-120, 250, h-120)
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(50, h-100, "Certificate ID: "+c.CertificateID)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qr))
	pdf.ImageOptions("qr", w-180, h-180, 100, 100, false, opts, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	label := "Scan to verify"
	pdf.Text(w-130-pdf.GetStringWidth(label)/2, h-70, label)

	return pdf
}
