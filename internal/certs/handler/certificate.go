// Package handler exposes the certificate ledger over HTTP with Gin.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/auditlog"
	"github.com/jmerrifield20/certledger/internal/bulk"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/service"
	"github.com/jmerrifield20/certledger/internal/render"
	"github.com/jmerrifield20/certledger/pkg/certid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	// MaxBulkRecords caps the records accepted by one bulk request.
	MaxBulkRecords = 1000

	minQRSize = 64
	maxQRSize = 1024
)

// CertificateHandler handles HTTP requests for the certificate ledger.
type CertificateHandler struct {
	svc    *service.CertificateService
	logger *zap.Logger
}

// NewCertificateHandler creates a new CertificateHandler.
func NewCertificateHandler(svc *service.CertificateService, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{svc: svc, logger: logger}
}

// Register mounts the certificate, verify and status routes on rg.
func (h *CertificateHandler) Register(rg *gin.RouterGroup) {
	certs := rg.Group("/certificates")
	{
		certs.POST("", h.Issue)
		certs.POST("/bulk", h.BulkIssue)
		certs.POST("/send", h.BulkSend)
		certs.GET("", h.List)
		certs.GET("/:certificate_id", h.Get)
		certs.POST("/:certificate_id/deactivate", h.Deactivate)
		certs.POST("/:certificate_id/restore", h.Restore)
		certs.GET("/:certificate_id/artifact", h.DownloadArtifact)
		certs.GET("/:certificate_id/qr.png", h.QRCode)
		certs.POST("/:certificate_id/send", h.Send)
	}

	rg.GET("/verify/:certificate_id", h.VerifyByID)
	rg.POST("/verify", h.VerifyPayload)
	rg.GET("/status", h.Status)
}

// writeError maps service errors onto status codes. op names the failed
// operation in the 500 body.
func (h *CertificateHandler) writeError(c *gin.Context, op string, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
	case errors.Is(err, service.ErrNoArtifact):
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate has no artifact"})
	case errors.Is(err, service.ErrNoRecipientEmail):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrIDExhausted):
		h.logger.Warn(op, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate a certificate id, retry later"})
	case errors.Is(err, service.ErrDeliveryDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}

// Issue handles POST /certificates.
func (h *CertificateHandler) Issue(c *gin.Context) {
	var req model.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.svc.Issue(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "issue certificate", err)
		return
	}
	RecordIssued(1)

	resp := gin.H{"certificate": cert}
	if u := h.svc.VerificationURL(cert.CertificateID); u != "" {
		resp["verification_url"] = u
	}
	c.JSON(http.StatusCreated, resp)
}

type bulkRequest struct {
	Records []*model.IssueRequest `json:"records"`
}

// BulkIssue handles POST /certificates/bulk. The body is either JSON
// {"records": [...]} or a text/csv document.
func (h *CertificateHandler) BulkIssue(c *gin.Context) {
	var (
		reqs    []*model.IssueRequest
		rowErrs []bulk.RowError
	)
	switch c.ContentType() {
	case "text/csv", "application/csv":
		var err error
		reqs, rowErrs, err = bulk.ParseCSV(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	default:
		var body bulkRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reqs = body.Records
	}

	if len(reqs) == 0 && len(rowErrs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no records supplied"})
		return
	}
	if len(reqs) > MaxBulkRecords {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most " + strconv.Itoa(MaxBulkRecords) + " records per request"})
		return
	}

	results := h.svc.BulkIssue(c.Request.Context(), reqs)
	succeeded := service.Succeeded(results)
	RecordIssued(succeeded)

	resp := gin.H{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	}
	if len(rowErrs) > 0 {
		resp["row_errors"] = rowErrs
	}
	c.JSON(http.StatusOK, resp)
}

// List handles GET /certificates. Results are newest first, active only unless
// ?include_inactive=true.
func (h *CertificateHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	inactive, _ := strconv.ParseBool(c.DefaultQuery("include_inactive", "false"))

	certs, err := h.svc.List(c.Request.Context(), model.ListFilter{
		IncludeInactive: inactive,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		h.writeError(c, "list certificates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs, "count": len(certs)})
}

// Get handles GET /certificates/:certificate_id. Returns inactive
// certificates too; public lookups go through /verify.
func (h *CertificateHandler) Get(c *gin.Context) {
	cert, err := h.svc.Get(c.Request.Context(), c.Param("certificate_id"))
	if err != nil {
		h.writeError(c, "get certificate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificate": cert})
}

// Deactivate handles POST /certificates/:certificate_id/deactivate.
func (h *CertificateHandler) Deactivate(c *gin.Context) {
	h.setActive(c, auditlog.ActionDeactivate, h.svc.Deactivate)
}

// Restore handles POST /certificates/:certificate_id/restore.
func (h *CertificateHandler) Restore(c *gin.Context) {
	h.setActive(c, auditlog.ActionRestore, h.svc.Restore)
}

func (h *CertificateHandler) setActive(c *gin.Context, action string, op func(context.Context, string) (int64, error)) {
	id := c.Param("certificate_id")
	n, err := op(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, action+" certificate", err)
		return
	}
	if n > 0 {
		RecordLifecycleChange(action)
	}
	c.JSON(http.StatusOK, gin.H{"certificate_id": id, "affected": n})
}

// DownloadArtifact handles GET /certificates/:certificate_id/artifact.
func (h *CertificateHandler) DownloadArtifact(c *gin.Context) {
	id := c.Param("certificate_id")
	ref, err := h.svc.Artifact(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get artifact", err)
		return
	}
	if _, err := os.Stat(ref); err != nil {
		h.logger.Warn("artifact file unavailable", zap.String("certificate_id", id), zap.String("path", ref), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact file unavailable"})
		return
	}

	c.Header("Content-Type", render.ContentType(ref))
	c.FileAttachment(ref, render.FileName(id, filepath.Ext(ref)))
}

// QRCode handles GET /certificates/:certificate_id/qr.png by encoding the
// verification payload as a PNG QR code. ?size= sets the edge length in pixels.
func (h *CertificateHandler) QRCode(c *gin.Context) {
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(render.DefaultQRSize)))
	if err != nil || size < minQRSize || size > maxQRSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "size must be an integer between " + strconv.Itoa(minQRSize) + " and " + strconv.Itoa(maxQRSize),
		})
		return
	}

	payload, err := h.svc.QRPayload(c.Request.Context(), c.Param("certificate_id"))
	if err != nil {
		h.writeError(c, "build qr payload", err)
		return
	}
	png, err := render.QRPNG(payload.String(), size)
	if err != nil {
		h.writeError(c, "encode qr code", err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

type sendRequest struct {
	Email string `json:"email"`
}

// Send handles POST /certificates/:certificate_id/send. An optional JSON
// body {"email": "..."} overrides the stored address.
func (h *CertificateHandler) Send(c *gin.Context) {
	var body sendRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("certificate_id")
	msg, err := h.svc.Deliver(c.Request.Context(), id, body.Email)
	if err != nil {
		h.writeError(c, "send certificate", err)
		return
	}
	RecordDelivery(string(service.MethodEmail), service.DeliverySent)
	c.JSON(http.StatusOK, gin.H{
		"certificate_id": id,
		"sent_to":        msg.To,
		"attachments":    len(msg.Attachments),
	})
}

type bulkSendRequest struct {
	CertificateIDs []string `json:"certificate_ids" binding:"required,min=1"`
	Method         string   `json:"method"`
	Message        string   `json:"message"`
}

// BulkSend handles POST /certificates/send. method is email (the default),
// sms or whatsapp; message replaces the greeting.
func (h *CertificateHandler) BulkSend(c *gin.Context) {
	var body bulkSendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body.CertificateIDs) > MaxBulkRecords {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most " + strconv.Itoa(MaxBulkRecords) + " certificates per request"})
		return
	}
	method := service.DeliveryMethod(strings.ToLower(strings.TrimSpace(body.Method)))
	if method == "" {
		method = service.MethodEmail
	}

	results, err := h.svc.BulkDeliver(c.Request.Context(), body.CertificateIDs, method, body.Message)
	if err != nil {
		h.writeError(c, "send certificates", err)
		return
	}

	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
		RecordDelivery(string(method), r.Status)
	}
	c.JSON(http.StatusOK, gin.H{
		"sent":    counts[service.DeliverySent],
		"skipped": counts[service.DeliverySkipped],
		"failed":  counts[service.DeliveryFailed],
		"results": results,
	})
}

// VerifyByID handles GET /verify/:certificate_id. Every outcome is a 200;
// the verdict is in "status".
func (h *CertificateHandler) VerifyByID(c *gin.Context) {
	h.verify(c, c.Param("certificate_id"))
}

type verifyRequest struct {
	CertificateID string `json:"certificate_id"`
	// Payload is scanned or pasted input: a verification URL or QR JSON.
	Payload string `json:"payload"`
}

// VerifyPayload handles POST /verify.
func (h *CertificateHandler) VerifyPayload(c *gin.Context) {
	var body verifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := body.CertificateID
	if strings.TrimSpace(id) == "" {
		var err error
		if id, err = certid.Extract(body.Payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "certificate_id or payload is required: " + err.Error()})
			return
		}
	}
	h.verify(c, id)
}

func (h *CertificateHandler) verify(c *gin.Context, id string) {
	res, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "verify certificate", err)
		return
	}
	RecordVerification(res.Outcome)
	c.JSON(http.StatusOK, res)
}

// Status handles GET /status.
func (h *CertificateHandler) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context())
	if err != nil {
		h.writeError(c, "query status", err)
		return
	}
	SetCertificatesGauge(st.Certificates)
	c.JSON(http.StatusOK, st)
}
