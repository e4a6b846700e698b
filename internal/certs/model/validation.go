package model

import (
	"net/mail"
	"regexp"
	"strings"
)

// recipientNamePattern allows letters of any script, combining marks,
// whitespace, apostrophes, hyphens and periods.
var recipientNamePattern = regexp.MustCompile(`^[\p{L}\p{M}\s'\-.]+$`)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when caller-supplied data is missing or
// malformed. It lists every offending field so the caller can fix them in one pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validate checks req and returns the parsed completion date.
// Text fields are checked in trimmed form but never rewritten.
func (req *IssueRequest) Validate() (Date, error) {
	verr := &ValidationError{}

	name := strings.TrimSpace(req.RecipientName)
	switch {
	case name == "":
		verr.add("recipient_name", "is required")
	case !recipientNamePattern.MatchString(name):
		verr.add("recipient_name", "may only contain letters, spaces, apostrophes, hyphens, and periods")
	}

	if strings.TrimSpace(req.CourseName) == "" {
		verr.add("course_name", "is required")
	}

	var completed Date
	if strings.TrimSpace(req.CompletionDate) == "" {
		verr.add("completion_date", "is required")
	} else {
		d, err := ParseDate(req.CompletionDate)
		if err != nil {
			verr.add("completion_date", "must be a valid date in YYYY-MM-DD format")
		}
		completed = d
	}

	if e := strings.TrimSpace(req.Email); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			verr.add("email", "is not a valid email address")
		}
	}

	if len(verr.Fields) > 0 {
		return Date{}, verr
	}
	return completed, nil
}

// OrganizationOrDefault returns the requested organization, or
// DefaultOrganization when it is blank.
func (req *IssueRequest) OrganizationOrDefault() string {
	if strings.TrimSpace(req.Organization) == "" {
		return DefaultOrganization
	}
	return req.Organization
}
