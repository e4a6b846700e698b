package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/auditlog"
	"github.com/jmerrifield20/certledger/internal/certs/handler"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/repository"
	"github.com/jmerrifield20/certledger/internal/certs/service"
	"github.com/jmerrifield20/certledger/internal/email"
	"github.com/jmerrifield20/certledger/internal/render"
	"github.com/jmerrifield20/certledger/internal/sms"
	"go.uber.org/zap"
)

// ── Stub store ───────────────────────────────────────────────────────────

// brokenStore fails every read and write.
type brokenStore struct{ repository.Store }

var errDown = errors.New("database is down")

func (brokenStore) Insert(context.Context, *model.Certificate) error { return errDown }
func (brokenStore) ListActive(context.Context, int, int) ([]*model.Certificate, error) {
	return nil, errDown
}

// collideAlways reports every insert as a duplicate.
type collideAlways struct{ *repository.MemoryStore }

func (collideAlways) Insert(context.Context, *model.Certificate) error {
	return repository.ErrDuplicateKey
}

// ── Setup ────────────────────────────────────────────────────────────────

type testEnv struct {
	router *gin.Engine
	svc    *service.CertificateService
	mailer *email.NoopSender
	texter *sms.NoopSender
}

func setupRouter(t *testing.T, store repository.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := service.NewCertificateService(store, render.NewTextRenderer(t.TempDir(), "https://verify.example.com/api/v1/verify"), auditlog.NewMemoryLog(), zap.NewNop())
	svc.SetVerifyBase("https://verify.example.com/api/v1/verify")
	mailer := email.NewNoopSender(zap.NewNop())
	svc.SetMailer(mailer)
	texter := sms.NewNoopSender(zap.NewNop())
	svc.SetTextSender(texter)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewCertificateHandler(svc, zap.NewNop()).Register(v1)
	return &testEnv{router: r, svc: svc, mailer: mailer, texter: texter}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) issue(t *testing.T, name string) *model.Certificate {
	t.Helper()
	c, err := e.svc.Issue(context.Background(), &model.IssueRequest{
		RecipientName:  name,
		CourseName:     "Data Science Fundamentals",
		CompletionDate: "2025-10-03",
		Email:          "student@example.com",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return c
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// ── Issue ────────────────────────────────────────────────────────────────

func TestIssue_201(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())

	body := `{"recipient_name":"Alice Johnson","course_name":"Data Science Fundamentals","completion_date":"2025-10-03","grade":"A+"}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates", "application/json", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Certificate     model.Certificate `json:"certificate"`
		VerificationURL string            `json:"verification_url"`
	}
	decode(t, w, &resp)
	id := resp.Certificate.CertificateID
	if !strings.HasPrefix(id, "CERT_") || resp.Certificate.Grade != "A+" {
		t.Errorf("unexpected certificate: %+v", resp.Certificate)
	}
	if resp.VerificationURL != "https://verify.example.com/api/v1/verify/"+id {
		t.Errorf("verification_url = %q", resp.VerificationURL)
	}
}

func TestIssue_400_fields(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())

	body := `{"recipient_name":"John Doe","course_name":"","completion_date":"invalid-date"}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates", "application/json", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Fields []model.FieldError `json:"fields"`
	}
	decode(t, w, &resp)
	got := map[string]bool{}
	for _, f := range resp.Fields {
		got[f.Field] = true
	}
	if !got["course_name"] || !got["completion_date"] || len(got) != 2 {
		t.Errorf("fields = %+v, want course_name and completion_date", resp.Fields)
	}
}

func TestIssue_400_malformedJSON(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	w := env.do(t, http.MethodPost, "/api/v1/certificates", "application/json", `{"recipient_name":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIssue_500_storage(t *testing.T) {
	env := setupRouter(t, brokenStore{})
	body := `{"recipient_name":"Alice","course_name":"Go","completion_date":"2025-10-03"}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates", "application/json", body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), errDown.Error()) {
		t.Errorf("driver error leaked to client: %s", w.Body.String())
	}
}

func TestIssue_503_exhausted(t *testing.T) {
	env := setupRouter(t, collideAlways{repository.NewMemoryStore()})
	body := `{"recipient_name":"Alice","course_name":"Go","completion_date":"2025-10-03"}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates", "application/json", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

// ── Bulk ─────────────────────────────────────────────────────────────────

func TestBulkIssue_JSON(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())

	body := `{"records":[
		{"recipient_name":"A","course_name":"Go","completion_date":"2025-10-03"},
		{"recipient_name":"B","course_name":"","completion_date":"2025-10-03"},
		{"recipient_name":"C","course_name":"Go","completion_date":"2025-10-03"}
	]}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates/bulk", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Succeeded int                 `json:"succeeded"`
		Failed    int                 `json:"failed"`
		Results   []model.BulkOutcome `json:"results"`
	}
	decode(t, w, &resp)
	if resp.Succeeded != 2 || resp.Failed != 1 || len(resp.Results) != 3 {
		t.Fatalf("got %d/%d with %d results", resp.Succeeded, resp.Failed, len(resp.Results))
	}
	if resp.Results[1].Certificate != nil || len(resp.Results[1].Fields) != 1 {
		t.Errorf("record 1 = %+v, want a single field error", resp.Results[1])
	}
}

func TestBulkIssue_CSV(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())

	csv := "recipient_name,course_name,completion_date,grade\n" +
		"Alice Johnson,Data Science,2025-10-03,A\n" +
		"only-two,cells\n" +
		"Bob Smith,Go,2025-10-04,B\n"
	w := env.do(t, http.MethodPost, "/api/v1/certificates/bulk", "text/csv", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Succeeded int `json:"succeeded"`
		RowErrors []struct {
			Line int `json:"line"`
		} `json:"row_errors"`
	}
	decode(t, w, &resp)
	if resp.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", resp.Succeeded)
	}
	if len(resp.RowErrors) != 1 || resp.RowErrors[0].Line != 3 {
		t.Errorf("row_errors = %+v, want line 3", resp.RowErrors)
	}
}

func TestBulkIssue_400_empty(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	w := env.do(t, http.MethodPost, "/api/v1/certificates/bulk", "application/json", `{"records":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ── Verify ───────────────────────────────────────────────────────────────

func TestVerify_outcomes(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")

	w := env.do(t, http.MethodGet, "/api/v1/verify/"+c.CertificateID, "", "")
	var res model.VerifyResult
	decode(t, w, &res)
	if w.Code != http.StatusOK || res.Outcome != model.OutcomeValid || res.Certificate == nil {
		t.Fatalf("valid lookup: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/verify/CERT_DOESNOTEXIST", "", "")
	res = model.VerifyResult{}
	decode(t, w, &res)
	if w.Code != http.StatusOK || res.Outcome != model.OutcomeNotFound || res.Certificate != nil {
		t.Errorf("unknown lookup: %d %s", w.Code, w.Body.String())
	}
}

func TestVerifyPayload_POST(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")

	cases := []struct {
		name string
		body string
	}{
		{"certificate id", `{"certificate_id":"` + c.CertificateID + `"}`},
		{"verification url", `{"payload":"https://verify.example.com/api/v1/verify/` + c.CertificateID + `"}`},
		{"qr json", `{"payload":` + strconvQuote(render.PayloadFor(c, "").String()) + `}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/verify", "application/json", tc.body)
			var res model.VerifyResult
			decode(t, w, &res)
			if w.Code != http.StatusOK || !res.Valid() {
				t.Errorf("got %d %s", w.Code, w.Body.String())
			}
		})
	}

	w := env.do(t, http.MethodPost, "/api/v1/verify", "application/json", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", w.Code)
	}
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ── Lifecycle ────────────────────────────────────────────────────────────

func TestLifecycle_deactivateRestore(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")
	base := "/api/v1/certificates/" + c.CertificateID

	steps := []struct {
		path     string
		affected int64
		outcome  model.Outcome
	}{
		{base + "/deactivate", 1, model.OutcomeNotFound},
		{base + "/deactivate", 0, model.OutcomeNotFound},
		{base + "/restore", 1, model.OutcomeValid},
		{base + "/restore", 0, model.OutcomeValid},
	}
	for i, st := range steps {
		w := env.do(t, http.MethodPost, st.path, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("step %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var resp struct {
			Affected int64 `json:"affected"`
		}
		decode(t, w, &resp)
		if resp.Affected != st.affected {
			t.Errorf("step %d: affected = %d, want %d", i, resp.Affected, st.affected)
		}

		var res model.VerifyResult
		decode(t, env.do(t, http.MethodGet, "/api/v1/verify/"+c.CertificateID, "", ""), &res)
		if res.Outcome != st.outcome {
			t.Errorf("step %d: verify = %s, want %s", i, res.Outcome, st.outcome)
		}
	}
}

func TestLifecycle_404(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	for _, p := range []string{"/deactivate", "/restore"} {
		w := env.do(t, http.MethodPost, "/api/v1/certificates/CERT_MISSING0"+p, "", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", p, w.Code)
		}
	}
}

// ── Reads ────────────────────────────────────────────────────────────────

func TestListAndGet(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	first := env.issue(t, "Alice Johnson")
	env.issue(t, "Bob Smith")
	if _, err := env.svc.Deactivate(context.Background(), first.CertificateID); err != nil {
		t.Fatal(err)
	}

	var list struct {
		Certificates []model.Certificate `json:"certificates"`
		Count        int                 `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/certificates", "", ""), &list)
	if list.Count != 1 || list.Certificates[0].RecipientName != "Bob Smith" {
		t.Errorf("active list = %+v", list)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/certificates?include_inactive=true&limit=9999", "", ""), &list)
	if list.Count != 2 {
		t.Errorf("full list count = %d, want 2", list.Count)
	}

	w := env.do(t, http.MethodGet, "/api/v1/certificates/"+first.CertificateID, "", "")
	var got struct {
		Certificate model.Certificate `json:"certificate"`
	}
	decode(t, w, &got)
	if w.Code != http.StatusOK || got.Certificate.IsActive {
		t.Errorf("get inactive: %d %s", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/v1/certificates/CERT_MISSING0", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get unknown: expected 404, got %d", w.Code)
	}
}

func TestList_500(t *testing.T) {
	env := setupRouter(t, brokenStore{})
	if w := env.do(t, http.MethodGet, "/api/v1/certificates", "", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ── Artifacts ────────────────────────────────────────────────────────────

func TestDownloadArtifact(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")

	w := env.do(t, http.MethodGet, "/api/v1/certificates/"+c.CertificateID+"/artifact", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "certificate_"+c.CertificateID+".txt") {
		t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Body.String(), c.CertificateID) {
		t.Error("artifact body does not mention the certificate id")
	}

	if _, err := env.svc.Deactivate(context.Background(), c.CertificateID); err != nil {
		t.Fatal(err)
	}
	w = env.do(t, http.MethodGet, "/api/v1/certificates/"+c.CertificateID+"/artifact", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("inactive artifact: expected 404, got %d", w.Code)
	}
}

func TestQRCode(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")

	w := env.do(t, http.MethodGet, "/api/v1/certificates/"+c.CertificateID+"/qr.png?size=128", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}

	if w := env.do(t, http.MethodGet, "/api/v1/certificates/"+c.CertificateID+"/qr.png?size=5", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("tiny size: expected 400, got %d", w.Code)
	}
}

// ── Send ─────────────────────────────────────────────────────────────────

func TestSend(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	c := env.issue(t, "Alice Johnson")

	w := env.do(t, http.MethodPost, "/api/v1/certificates/"+c.CertificateID+"/send", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SentTo      string `json:"sent_to"`
		Attachments int    `json:"attachments"`
	}
	decode(t, w, &resp)
	if resp.SentTo != "student@example.com" || resp.Attachments != 1 {
		t.Errorf("resp = %+v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/certificates/"+c.CertificateID+"/send", "application/json", `{"email":"nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad override: expected 400, got %d", w.Code)
	}
	if n := len(env.mailer.Sent()); n != 1 {
		t.Errorf("mailer sent %d messages, want 1", n)
	}
}

func TestBulkSend(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	alice := env.issue(t, "Alice Johnson")
	bob, err := env.svc.Issue(context.Background(), &model.IssueRequest{
		RecipientName:  "Bob Smith",
		CourseName:     "Data Science Fundamentals",
		CompletionDate: "2025-10-03",
		Phone:          "+1 555 867 5309",
	})
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		CertificateID string `json:"certificate_id"`
		Status        string `json:"status"`
		SentTo        string `json:"sent_to"`
	}
	var resp struct {
		Sent    int      `json:"sent"`
		Skipped int      `json:"skipped"`
		Failed  int      `json:"failed"`
		Results []result `json:"results"`
	}

	body := `{"certificate_ids":["` + alice.CertificateID + `","` + bob.CertificateID + `","CERT_MISSING0"],"message":"Well done!"}`
	w := env.do(t, http.MethodPost, "/api/v1/certificates/send", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &resp)
	if resp.Sent != 1 || resp.Skipped != 1 || resp.Failed != 1 {
		t.Errorf("email counts = %d sent, %d skipped, %d failed", resp.Sent, resp.Skipped, resp.Failed)
	}
	want := []string{service.DeliverySent, service.DeliverySkipped, service.DeliveryFailed}
	for i, r := range resp.Results {
		if r.Status != want[i] {
			t.Errorf("results[%d] = %+v, want status %s", i, r, want[i])
		}
	}
	sent := env.mailer.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "Well done!") {
		t.Errorf("mailer sent %+v", sent)
	}

	body = `{"certificate_ids":["` + alice.CertificateID + `","` + bob.CertificateID + `"],"method":"whatsapp"}`
	w = env.do(t, http.MethodPost, "/api/v1/certificates/send", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("whatsapp: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp.Results = nil
	decode(t, w, &resp)
	if resp.Sent != 1 || resp.Skipped != 1 || resp.Results[1].SentTo != "+15558675309" {
		t.Errorf("whatsapp resp = %+v", resp)
	}
	if texts := env.texter.Sent(); len(texts) != 1 || texts[0].Channel != sms.ChannelWhatsApp ||
		!strings.Contains(texts[0].Body, bob.CertificateID) {
		t.Errorf("texter sent %+v", texts)
	}
}

func TestBulkSend_badRequests(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	cases := map[string]string{
		"no ids":         `{"certificate_ids":[]}`,
		"unknown method": `{"certificate_ids":["CERT_00000001"],"method":"fax"}`,
		"not json":       `ids=1`,
	}
	for name, body := range cases {
		if w := env.do(t, http.MethodPost, "/api/v1/certificates/send", "application/json", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, w.Code, w.Body.String())
		}
	}
}

// ── Status ───────────────────────────────────────────────────────────────

func TestStatus_200(t *testing.T) {
	env := setupRouter(t, repository.NewMemoryStore())
	env.issue(t, "Alice Johnson")

	w := env.do(t, http.MethodGet, "/api/v1/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st service.Status
	decode(t, w, &st)
	if st.Certificates.Total != 1 || st.Features.Renderer != "text" || !st.Features.Email || !st.Features.Audit {
		t.Errorf("status = %+v", st)
	}
}
