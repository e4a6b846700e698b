package model

import "time"

// DefaultOrganization is recorded when a request leaves organization blank.
const DefaultOrganization = "Certificate Authority"

// HashScheme names the joining rule used to build the integrity digest input.
type HashScheme string

const (
	// SchemeConcat joins the hashed fields with no separator. Rows imported
	// from legacy databases carry this scheme.
	SchemeConcat HashScheme = "sha256-concat"
	// SchemeFramed length-prefixes every hashed field. Used for new issues.
	SchemeFramed HashScheme = "sha256-framed"
)

// Certificate is a single attested completion record.
// Every field except IsActive is immutable once the row is inserted.
type Certificate struct {
	ID                int64      `json:"-"                         db:"id"`
	CertificateID     string     `json:"certificate_id"            db:"certificate_id"`
	RecipientName     string     `json:"recipient_name"            db:"recipient_name"`
	CourseName        string     `json:"course_name"               db:"course_name"`
	CompletionDate    Date       `json:"completion_date"           db:"completion_date"`
	IssueDate         Date       `json:"issue_date"                db:"issue_date"`
	InstructorName    string     `json:"instructor_name,omitempty" db:"instructor_name"`
	Organization      string     `json:"organization"              db:"organization"`
	Grade             string     `json:"grade,omitempty"           db:"grade"`
	Email             string     `json:"email,omitempty"           db:"email"`
	Phone             string     `json:"phone,omitempty"           db:"phone"`
	IntegrityHash     string     `json:"integrity_hash"            db:"integrity_hash"`
	HashScheme        HashScheme `json:"hash_scheme"               db:"hash_scheme"`
	ArtifactReference string     `json:"artifact_reference,omitempty" db:"artifact_reference"`
	IsActive          bool       `json:"is_active"                 db:"is_active"`
	CreatedAt         time.Time  `json:"created_at"                db:"created_at"`
}

// IssueRequest is the caller-supplied recipient data for a new certificate.
// CompletionDate is kept as text so that malformed input can be reported as
// a field error rather than a decode failure.
type IssueRequest struct {
	RecipientName  string `json:"recipient_name"`
	CourseName     string `json:"course_name"`
	CompletionDate string `json:"completion_date"`
	InstructorName string `json:"instructor_name"`
	Organization   string `json:"organization"`
	Grade          string `json:"grade"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
}

// Outcome is the verdict of a verification query.
type Outcome string

const (
	OutcomeValid     Outcome = "valid"
	OutcomeNotFound  Outcome = "invalid"
	OutcomeCorrupted Outcome = "corrupted"
)

// VerifyResult is returned by Verify. Certificate is set only when Outcome
// is OutcomeValid.
type VerifyResult struct {
	CertificateID string       `json:"certificate_id"`
	Outcome       Outcome      `json:"status"`
	Certificate   *Certificate `json:"certificate,omitempty"`
}

// Valid reports whether the result attests an active, untampered certificate.
func (r *VerifyResult) Valid() bool {
	return r != nil && r.Outcome == OutcomeValid
}

// ListFilter selects which certificates List returns.
type ListFilter struct {
	IncludeInactive bool
	Limit           int
	Offset          int
}

// Counts summarises the store for the status endpoint.
type Counts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// BulkOutcome is the per-record result of a bulk issue. Index is the
// zero-based position of the record in the submitted batch.
type BulkOutcome struct {
	Index         int          `json:"index"`
	RecipientName string       `json:"recipient_name"`
	Certificate   *Certificate `json:"certificate,omitempty"`
	Error         string       `json:"error,omitempty"`
	Fields        []FieldError `json:"fields,omitempty"`
	Err           error        `json:"-"`
}

// OK reports whether the record was issued.
func (o BulkOutcome) OK() bool { return o.Err == nil && o.Certificate != nil }
