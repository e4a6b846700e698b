// Package integrity derives certificate identifiers and tamper-evidence
// digests.
//
// Identifiers are short and human-shareable: "CERT_" followed by the first
// eight upper-case hex characters of an MD5 digest over recipient, course
// and a high-resolution timestamp. They are practically, not
// cryptographically, unique; the store's unique constraint is the backstop.
//
// Integrity hashes are SHA-256 over the certificate id, recipient name,
// course name and completion date, in that order. Two joining rules exist:
// SchemeConcat (no separator, as written by legacy issuers) and SchemeFramed
// (each field length-prefixed, so distinct field tuples can never collide
// on the same digest input).
package integrity

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// IDPrefix is the literal tag every certificate identifier starts with.
const IDPrefix = "CERT_"

// idHexLen is the number of digest hex characters kept after IDPrefix.
const idHexLen = 8

// timestampLayout keeps the legacy second-resolution stamp and appends
// nanoseconds so consecutive attempts in the same second differ.
const timestampLayout = "20060102150405.000000000"

// ErrIntegrityMismatch is returned when a recomputed digest disagrees with
// the stored one.
var ErrIntegrityMismatch = errors.New("integrity hash mismatch")

// ErrUnknownScheme is returned for a hash scheme this package cannot compute.
var ErrUnknownScheme = errors.New("unknown hash scheme")

// GenerateID derives a certificate identifier from recipient, course and now.
// Identical inputs always produce the identical identifier.
func GenerateID(recipientName, courseName string, now time.Time) string {
	data := recipientName + "_" + courseName + "_" + now.UTC().Format(timestampLayout)
	sum := md5.Sum([]byte(data)) //nolint:gosec
	return IDPrefix + strings.ToUpper(hex.EncodeToString(sum[:])[:idHexLen])
}

// ComputeHash returns the lowercase hex SHA-256 digest over the four
// attested fields joined according to scheme.
func ComputeHash(scheme model.HashScheme, certificateID, recipientName, courseName, completionDate string) (string, error) {
	h := sha256.New()
	switch scheme {
	case model.SchemeConcat:
		io.WriteString(h, certificateID+recipientName+courseName+completionDate) //nolint:errcheck
	case model.SchemeFramed:
		writeFramed(h, certificateID, recipientName, courseName, completionDate)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFramed writes each field as "<len>:<bytes>".
func writeFramed(h hash.Hash, fields ...string) {
	for _, f := range fields {
		io.WriteString(h, strconv.Itoa(len(f))) //nolint:errcheck
		io.WriteString(h, ":")                  //nolint:errcheck
		io.WriteString(h, f)                    //nolint:errcheck
	}
}

// HashCertificate computes the digest of c under c.HashScheme.
func HashCertificate(c *model.Certificate) (string, error) {
	return ComputeHash(c.HashScheme, c.CertificateID, c.RecipientName, c.CourseName, c.CompletionDate.String())
}

// Check recomputes the digest of c and compares it with c.IntegrityHash.
func Check(c *model.Certificate) error {
	want, err := HashCertificate(c)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(c.IntegrityHash)) != 1 {
		return fmt.Errorf("%w: certificate %s", ErrIntegrityMismatch, c.CertificateID)
	}
	return nil
}
