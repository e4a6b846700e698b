package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the only accepted wire form of a Date and the form new
// entries are stored in.
const DateLayout = "2006-01-02"

// unpaddedLayout matches dates written without zero padding, e.g. "2025-10-3".
const unpaddedLayout = "2006-1-2"

// Date is a calendar date without a time of day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int

	// raw is the stored text of a value not in DateLayout form. String
	// returns it unchanged.
	raw string
}

// ParseDate parses s in YYYY-MM-DD form. Out-of-range components such as
// "2025-02-30" are rejected rather than normalised.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error. Intended for tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseStoredDate decodes a date read back from storage. Text that is not
// in DateLayout form, such as the unpadded dates of legacy issuers, is kept
// verbatim so the entry formats and hashes exactly as it was written. The
// calendar fields are filled whenever the text is a recognisable date.
func ParseStoredDate(s string) Date {
	if d, err := ParseDate(s); err == nil {
		return d
	}
	d := Date{raw: s}
	if t, err := time.Parse(unpaddedLayout, strings.TrimSpace(s)); err == nil {
		d.Year, d.Month, d.Day = t.Date()
	}
	return d
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats d as YYYY-MM-DD, or as its stored text when that was not
// in canonical form. The zero Date formats as "".
func (d Date) String() string {
	if d.raw != "" {
		return d.raw
	}
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.raw == "" && d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
