package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/auditlog"
	"github.com/jmerrifield20/certledger/internal/certs/handler"
	"go.uber.org/zap"
)

func setupAuditRouter(t *testing.T) (*gin.Engine, *auditlog.MemoryLog) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := auditlog.NewMemoryLog()
	h := handler.NewAuditHandler(log, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, log
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuditOverview_200(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := get(t, router, "/api/v1/audit")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if entries := int(resp["entries"].(float64)); entries != 1 { // genesis
		t.Errorf("expected 1 entry (genesis), got %d", entries)
	}
	if resp["root"] != auditlog.GenesisHash {
		t.Errorf("root = %v, want genesis hash", resp["root"])
	}
}

func TestAuditOverview_byCertificate(t *testing.T) {
	router, log := setupAuditRouter(t)
	ctx := context.Background()
	log.Append(ctx, auditlog.Event{CertificateID: "CERT_0000000A", Action: auditlog.ActionIssue, DataHash: "aa"})
	log.Append(ctx, auditlog.Event{CertificateID: "CERT_0000000B", Action: auditlog.ActionIssue, DataHash: "bb"})
	log.Append(ctx, auditlog.Event{CertificateID: "CERT_0000000A", Action: auditlog.ActionDeactivate, DataHash: "cc"})

	w := get(t, router, "/api/v1/audit?certificate_id=CERT_0000000A")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Entries []auditlog.Entry `json:"entries"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Entries) != 2 || resp.Entries[1].Action != auditlog.ActionDeactivate {
		t.Errorf("entries = %+v", resp.Entries)
	}

	w = get(t, router, "/api/v1/audit?certificate_id=CERT_NOTHING0")
	if w.Body.String() == "" || w.Code != http.StatusOK {
		t.Fatalf("unknown certificate: %d", w.Code)
	}
	resp.Entries = nil
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Entries == nil || len(resp.Entries) != 0 {
		t.Errorf("expected an empty entries array, got %s", w.Body.String())
	}
}

func TestAuditVerify_200(t *testing.T) {
	router, log := setupAuditRouter(t)
	log.Append(context.Background(), auditlog.Event{CertificateID: "CERT_0000000A", Action: auditlog.ActionIssue, DataHash: "aa"})

	w := get(t, router, "/api/v1/audit/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestAuditGetEntry(t *testing.T) {
	router, _ := setupAuditRouter(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/audit/entries/0", http.StatusOK},
		{"/api/v1/audit/entries/999", http.StatusNotFound},
		{"/api/v1/audit/entries/abc", http.StatusBadRequest},
		{"/api/v1/audit/entries/-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := get(t, router, tc.path); w.Code != tc.want {
			t.Errorf("GET %s: expected %d, got %d", tc.path, tc.want, w.Code)
		}
	}
}
