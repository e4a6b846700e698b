package render

import (
	"encoding/json"
	"fmt"

	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/pkg/certid"
	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the edge length of generated QR images in pixels.
const DefaultQRSize = 256

// VerificationPayload is the compact JSON embedded in certificate QR codes.
type VerificationPayload struct {
	CertificateID   string `json:"certificate_id"`
	Recipient       string `json:"recipient"`
	Course          string `json:"course"`
	CompletionDate  string `json:"completion_date"`
	VerificationURL string `json:"verification_url"`
}

// PayloadFor builds the QR payload of c with links under verifyBase.
func PayloadFor(c *model.Certificate, verifyBase string) VerificationPayload {
	return VerificationPayload{
		CertificateID:   c.CertificateID,
		Recipient:       c.RecipientName,
		Course:          c.CourseName,
		CompletionDate:  c.CompletionDate.String(),
		VerificationURL: certid.VerificationURL(verifyBase, c.CertificateID),
	}
}

// String returns the payload as compact JSON.
func (p VerificationPayload) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// QRPNG encodes data as a PNG QR code of size x size pixels.
func QRPNG(data string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(data, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
