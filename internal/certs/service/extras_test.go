package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/repository"
	"github.com/jmerrifield20/certledger/internal/certs/service"
	"github.com/jmerrifield20/certledger/internal/email"
	"github.com/jmerrifield20/certledger/internal/render"
	"github.com/jmerrifield20/certledger/internal/sms"
	"go.uber.org/zap"
)

func newDeliverySvc(t *testing.T) (*service.CertificateService, *email.NoopSender) {
	t.Helper()
	svc := service.NewCertificateService(repository.NewMemoryStore(), render.NewTextRenderer(t.TempDir(), ""), nil, zap.NewNop())
	mailer := email.NewNoopSender(zap.NewNop())
	svc.SetMailer(mailer)
	svc.SetVerifyBase("https://verify.example.com/verify/")
	return svc, mailer
}

func TestDeliver_attachesArtifact(t *testing.T) {
	svc, mailer := newDeliverySvc(t)
	req := aliceRequest()
	req.Email = "alice@example.com"
	c, err := svc.Issue(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := svc.Deliver(ctx, c.CertificateID, "")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if msg.To != "alice@example.com" || msg.Subject != "Your Certificate - "+c.CertificateID {
		t.Errorf("message header = %q / %q", msg.To, msg.Subject)
	}
	if !strings.Contains(msg.Body, "https://verify.example.com/verify/"+c.CertificateID) {
		t.Errorf("body missing verification link:\n%s", msg.Body)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "certificate_"+c.CertificateID+".txt" || !strings.Contains(string(att.Data), c.CertificateID) {
		t.Errorf("attachment = %s (%d bytes)", att.Filename, len(att.Data))
	}
	if sent := mailer.Sent(); len(sent) != 1 {
		t.Errorf("mailer recorded %d messages", len(sent))
	}
}

func TestDeliver_overrideAndErrors(t *testing.T) {
	svc, _ := newDeliverySvc(t)
	c, err := svc.Issue(ctx, aliceRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Deliver(ctx, c.CertificateID, ""); !errors.Is(err, service.ErrNoRecipientEmail) {
		t.Errorf("no address: got %v", err)
	}
	var verr *model.ValidationError
	if _, err := svc.Deliver(ctx, c.CertificateID, "not-an-address"); !errors.As(err, &verr) {
		t.Errorf("bad address: got %v, want *ValidationError", err)
	}
	if msg, err := svc.Deliver(ctx, c.CertificateID, "registrar@example.com"); err != nil || msg.To != "registrar@example.com" {
		t.Errorf("override: %q, %v", msg.To, err)
	}
	if _, err := svc.Deliver(ctx, "CERT_MISSING0", "a@example.com"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("unknown id: got %v", err)
	}

	if _, err := svc.Deactivate(ctx, c.CertificateID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deliver(ctx, c.CertificateID, "a@example.com"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("inactive: got %v, want ErrNotFound", err)
	}
}

func TestDeliver_disabled(t *testing.T) {
	svc := newSvc(repository.NewMemoryStore())
	if _, err := svc.Deliver(ctx, "CERT_0000000A", "a@example.com"); !errors.Is(err, service.ErrDeliveryDisabled) {
		t.Errorf("got %v, want ErrDeliveryDisabled", err)
	}
}

func TestBulkDeliver_text(t *testing.T) {
	svc, _ := newDeliverySvc(t)
	ids := make([]string, 0, 2)
	for _, phone := range []string{"+44 20 7946 0958", "867-5309"} {
		req := aliceRequest()
		req.Phone = phone
		c, err := svc.Issue(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.CertificateID)
	}

	if _, err := svc.BulkDeliver(ctx, ids, service.MethodSMS, ""); !errors.Is(err, service.ErrDeliveryDisabled) {
		t.Fatalf("no text sender: got %v, want ErrDeliveryDisabled", err)
	}
	var verr *model.ValidationError
	if _, err := svc.BulkDeliver(ctx, ids, "pigeon", ""); !errors.As(err, &verr) {
		t.Errorf("unknown method: got %v, want *ValidationError", err)
	}

	texter := sms.NewNoopSender(zap.NewNop())
	svc.SetTextSender(texter)
	out, err := svc.BulkDeliver(ctx, ids, service.MethodSMS, "")
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Status != service.DeliverySent || out[0].SentTo != "+442079460958" || out[0].RecipientName != "Alice Johnson" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].Status != service.DeliveryFailed || out[1].Error == "" {
		t.Errorf("unusable stored number: out[1] = %+v", out[1])
	}

	sent := texter.Sent()
	if len(sent) != 1 || sent[0].Channel != sms.ChannelSMS ||
		!strings.Contains(sent[0].Body, "https://verify.example.com/verify/"+ids[0]) {
		t.Errorf("texter sent %+v", sent)
	}
}

func TestArtifactAndQRPayload(t *testing.T) {
	svc, _ := newDeliverySvc(t)
	c, err := svc.Issue(ctx, aliceRequest())
	if err != nil {
		t.Fatal(err)
	}

	ref, err := svc.Artifact(ctx, c.CertificateID)
	if err != nil || ref != c.ArtifactReference {
		t.Errorf("Artifact = %q, %v", ref, err)
	}

	p, err := svc.QRPayload(ctx, c.CertificateID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CertificateID != c.CertificateID || p.CompletionDate != "2025-10-03" ||
		p.VerificationURL != "https://verify.example.com/verify/"+c.CertificateID {
		t.Errorf("payload = %+v", p)
	}

	bare := newSvc(repository.NewMemoryStore())
	c2, err := bare.Issue(ctx, aliceRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bare.Artifact(ctx, c2.CertificateID); !errors.Is(err, service.ErrNoArtifact) {
		t.Errorf("no renderer: got %v, want ErrNoArtifact", err)
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
	ids    []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, eventType string, payload map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, eventType)
	d.ids = append(d.ids, payload["certificate_id"])
}

func TestWebhookDispatch(t *testing.T) {
	svc := newSvc(repository.NewMemoryStore())
	d := &recordingDispatcher{}
	svc.SetWebhookDispatcher(d)

	c, err := svc.Issue(ctx, aliceRequest())
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []func(context.Context, string) (int64, error){
		svc.Deactivate, svc.Deactivate, svc.Restore,
	} {
		if _, err := step(ctx, c.CertificateID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Issue(ctx, &model.IssueRequest{}); err == nil {
		t.Fatal("expected validation error")
	}

	// The no-op second Deactivate and the rejected issue dispatch nothing.
	want := []string{service.EventIssued, service.EventDeactivated, service.EventRestored}
	if fmt.Sprint(d.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", d.events, want)
	}
	for i, id := range d.ids {
		if id != c.CertificateID {
			t.Errorf("event %d certificate_id = %q", i, id)
		}
	}

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Features.Webhooks {
		t.Error("Features.Webhooks should be true")
	}
}
