package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound matches any *APIError with status 404.
var ErrNotFound = errors.New("not found")

// maxResponseBytes bounds JSON responses read into memory.
const maxResponseBytes = 4 << 20

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// FieldError names one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// IssueRequest is the payload for Issue. CompletionDate is YYYY-MM-DD.
type IssueRequest struct {
	RecipientName  string `json:"recipient_name"`
	CourseName     string `json:"course_name"`
	CompletionDate string `json:"completion_date"`
	InstructorName string `json:"instructor_name,omitempty"`
	Organization   string `json:"organization,omitempty"`
	Grade          string `json:"grade,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// Certificate is a stored certificate as served by the API.
type Certificate struct {
	CertificateID     string    `json:"certificate_id"`
	RecipientName     string    `json:"recipient_name"`
	CourseName        string    `json:"course_name"`
	CompletionDate    string    `json:"completion_date"`
	IssueDate         string    `json:"issue_date"`
	InstructorName    string    `json:"instructor_name,omitempty"`
	Organization      string    `json:"organization"`
	Grade             string    `json:"grade,omitempty"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	IntegrityHash     string    `json:"integrity_hash"`
	HashScheme        string    `json:"hash_scheme"`
	ArtifactReference string    `json:"artifact_reference,omitempty"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// IssueResult is returned by Issue.
type IssueResult struct {
	Certificate     Certificate `json:"certificate"`
	VerificationURL string      `json:"verification_url,omitempty"`
}

// BulkRecord is the outcome of one record of a bulk issue.
type BulkRecord struct {
	Index         int          `json:"index"`
	RecipientName string       `json:"recipient_name"`
	Certificate   *Certificate `json:"certificate,omitempty"`
	Error         string       `json:"error,omitempty"`
	Fields        []FieldError `json:"fields,omitempty"`
}

// RowError is a CSV row the server could not turn into a record.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// BulkResult is returned by BulkIssue and BulkIssueCSV.
type BulkResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []BulkRecord `json:"results"`
	RowErrors []RowError   `json:"row_errors,omitempty"`
}

// Verification statuses.
const (
	StatusValid     = "valid"
	StatusInvalid   = "invalid"
	StatusCorrupted = "corrupted"
)

// VerifyResult is returned by Verify.
type VerifyResult struct {
	CertificateID string       `json:"certificate_id"`
	Status        string       `json:"status"`
	Certificate   *Certificate `json:"certificate,omitempty"`
}

// Valid reports whether the certificate is active and untampered.
func (v *VerifyResult) Valid() bool { return v != nil && v.Status == StatusValid }

// ListOptions filters List.
type ListOptions struct {
	IncludeInactive bool
	Limit           int
	Offset          int
}

// SendResult is returned by Send.
type SendResult struct {
	CertificateID string `json:"certificate_id"`
	SentTo        string `json:"sent_to"`
	Attachments   int    `json:"attachments"`
}

// Delivery methods and per-item statuses for BulkSend.
const (
	MethodEmail    = "email"
	MethodSMS      = "sms"
	MethodWhatsApp = "whatsapp"

	DeliverySent    = "sent"
	DeliverySkipped = "skipped"
	DeliveryFailed  = "failed"
)

// DeliveryOutcome is the result for one certificate of a BulkSend.
type DeliveryOutcome struct {
	Index         int    `json:"index"`
	CertificateID string `json:"certificate_id"`
	Method        string `json:"method"`
	RecipientName string `json:"recipient_name,omitempty"`
	Status        string `json:"status"`
	SentTo        string `json:"sent_to,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BulkSendResult is returned by BulkSend.
type BulkSendResult struct {
	Sent    int               `json:"sent"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Results []DeliveryOutcome `json:"results"`
}

// Status is the server overview returned by Status.
type Status struct {
	Certificates struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Inactive int `json:"inactive"`
	} `json:"certificates"`
	HashScheme string `json:"hash_scheme"`
	Features   struct {
		Renderer string `json:"renderer"`
		Email    bool   `json:"email"`
		Text     bool   `json:"text"`
		Audit    bool   `json:"audit"`
		Webhooks bool   `json:"webhooks"`
	} `json:"features"`
	AuditEntries int    `json:"audit_entries,omitempty"`
	AuditRoot    string `json:"audit_root,omitempty"`
}

// Client talks to one certledger server.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Issue issues one certificate.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	var out IssueResult
	if err := c.doJSON(ctx, http.MethodPost, "/certificates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkIssue issues every record independently.
func (c *Client) BulkIssue(ctx context.Context, reqs []IssueRequest) (*BulkResult, error) {
	var out BulkResult
	body := map[string]any{"records": reqs}
	if err := c.doJSON(ctx, http.MethodPost, "/certificates/bulk", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkIssueCSV uploads a CSV roster. The first row may be a header naming
// the columns; otherwise columns are recipient_name, course_name,
// completion_date, instructor_name, organization, grade, email, phone.
func (c *Client) BulkIssueCSV(ctx context.Context, csv io.Reader) (*BulkResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/certificates/bulk", csv)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")

	var out BulkResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify reports the verification status of certificateID.
func (c *Client) Verify(ctx context.Context, certificateID string) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.doJSON(ctx, http.MethodGet, "/verify/"+url.PathEscape(certificateID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyPayload verifies scanned input: a verification URL or QR JSON.
func (c *Client) VerifyPayload(ctx context.Context, payload string) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/verify", map[string]string{"payload": payload}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns certificates newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Certificate, error) {
	q := url.Values{}
	if opts.IncludeInactive {
		q.Set("include_inactive", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/certificates"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Certificates []Certificate `json:"certificates"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Certificates, nil
}

// Get returns a certificate in any state.
func (c *Client) Get(ctx context.Context, certificateID string) (*Certificate, error) {
	var out struct {
		Certificate Certificate `json:"certificate"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/certificates/"+url.PathEscape(certificateID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Certificate, nil
}

// Deactivate soft-deletes a certificate. It returns the number of
// certificates whose state changed: 1, or 0 if it was already inactive.
func (c *Client) Deactivate(ctx context.Context, certificateID string) (int64, error) {
	return c.setActive(ctx, certificateID, "deactivate")
}

// Restore reactivates a certificate. It returns 1, or 0 if it was already active.
func (c *Client) Restore(ctx context.Context, certificateID string) (int64, error) {
	return c.setActive(ctx, certificateID, "restore")
}

func (c *Client) setActive(ctx context.Context, certificateID, action string) (int64, error) {
	var out struct {
		Affected int64 `json:"affected"`
	}
	path := "/certificates/" + url.PathEscape(certificateID) + "/" + action
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// Send emails the certificate. An empty email uses the stored address.
func (c *Client) Send(ctx context.Context, certificateID, email string) (*SendResult, error) {
	var body any
	if email != "" {
		body = map[string]string{"email": email}
	}
	var out SendResult
	if err := c.doJSON(ctx, http.MethodPost, "/certificates/"+url.PathEscape(certificateID)+"/send", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkSend delivers several certificates over method. An empty method means
// email; message, when set, replaces the greeting.
func (c *Client) BulkSend(ctx context.Context, certificateIDs []string, method, message string) (*BulkSendResult, error) {
	body := map[string]any{"certificate_ids": certificateIDs}
	if method != "" {
		body["method"] = method
	}
	if message != "" {
		body["message"] = message
	}
	var out BulkSendResult
	if err := c.doJSON(ctx, http.MethodPost, "/certificates/send", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadArtifact streams the rendered certificate into w and returns the
// file name suggested by the server.
func (c *Client) DownloadArtifact(ctx context.Context, certificateID string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/certificates/"+url.PathEscape(certificateID)+"/artifact", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return "", apiError(resp.StatusCode, body)
	}

	name := "certificate_" + certificateID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	return name, nil
}

// Status returns store counts and server features.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func apiError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	var payload struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
		e.Fields = payload.Fields
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
