// Package certid provides validation and extraction helpers for certificate
// identifiers and the verification URLs that embed them.
//
// Identifier format: CERT_XXXXXXXX, where X is an upper-case hex digit.
//
// Verification URL format: {base}/{certificate-id}
//
//	https://verify.example.com/CERT_D5D18387
package certid

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Prefix is the literal tag every identifier starts with.
const Prefix = "CERT_"

// Pattern matches a well-formed certificate identifier.
var Pattern = regexp.MustCompile(`^CERT_[0-9A-F]{8}$`)

// ErrNoIdentifier is returned by Extract when the input carries no identifier.
var ErrNoIdentifier = errors.New("no certificate identifier found")

// Valid reports whether id is a well-formed identifier.
func Valid(id string) bool {
	return Pattern.MatchString(id)
}

// Normalize trims surrounding whitespace and upper-cases id. Meant for
// identifiers typed by a person; stored identifiers are never rewritten.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// VerificationURL returns the public verification link for id under base.
func VerificationURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(id)
}

// Extract pulls an identifier out of whatever a person pasted or a scanner
// decoded: a bare identifier, a verification URL, or the JSON payload
// embedded in certificate QR codes.
func Extract(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrNoIdentifier
	}

	if strings.HasPrefix(s, "{") {
		var payload struct {
			CertificateID string `json:"certificate_id"`
		}
		if err := json.Unmarshal([]byte(s), &payload); err != nil {
			return "", fmt.Errorf("decode QR payload: %w", err)
		}
		if payload.CertificateID == "" {
			return "", ErrNoIdentifier
		}
		return Normalize(payload.CertificateID), nil
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid verification URL: %w", err)
		}
		last := path.Base(u.Path)
		if last == "/" || last == "." {
			return "", ErrNoIdentifier
		}
		return Normalize(last), nil
	}

	return Normalize(s), nil
}
