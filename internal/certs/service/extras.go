package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/repository"
	"github.com/jmerrifield20/certledger/internal/email"
	"github.com/jmerrifield20/certledger/internal/render"
	"github.com/jmerrifield20/certledger/internal/sms"
	"github.com/jmerrifield20/certledger/pkg/certid"
	"go.uber.org/zap"
)

var (
	// ErrDeliveryDisabled is returned when the sender for a delivery method
	// is not configured.
	ErrDeliveryDisabled = errors.New("delivery is not configured")

	// ErrNoRecipientEmail is returned by Deliver when neither the certificate
	// nor the caller supplies an address.
	ErrNoRecipientEmail = errors.New("certificate has no recipient email")

	// ErrNoRecipientPhone is returned for text delivery of a certificate
	// with no phone number.
	ErrNoRecipientPhone = errors.New("certificate has no recipient phone")
)

// DeliveryMethod selects how BulkDeliver sends certificates.
type DeliveryMethod string

const (
	MethodEmail    DeliveryMethod = "email"
	MethodSMS      DeliveryMethod = "sms"
	MethodWhatsApp DeliveryMethod = "whatsapp"
)

// Per-item delivery states reported by BulkDeliver.
const (
	DeliverySent    = "sent"
	DeliverySkipped = "skipped"
	DeliveryFailed  = "failed"
)

// DeliveryOutcome is the per-certificate result of BulkDeliver. Index is
// the zero-based position of the id in the request.
type DeliveryOutcome struct {
	Index         int            `json:"index"`
	CertificateID string         `json:"certificate_id"`
	Method        DeliveryMethod `json:"method"`
	RecipientName string         `json:"recipient_name,omitempty"`
	Status        string         `json:"status"`
	SentTo        string         `json:"sent_to,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Features lists the optional collaborators the service runs with.
type Features struct {
	Renderer string `json:"renderer"`
	Email    bool   `json:"email"`
	Text     bool   `json:"text"`
	Audit    bool   `json:"audit"`
	Webhooks bool   `json:"webhooks"`
}

// Status is the system overview served by the status endpoint.
type Status struct {
	Certificates model.Counts     `json:"certificates"`
	HashScheme   model.HashScheme `json:"hash_scheme"`
	Features     Features         `json:"features"`
	AuditEntries int              `json:"audit_entries,omitempty"`
	AuditRoot    string           `json:"audit_root,omitempty"`
}

// Status returns store counts and enabled features.
func (s *CertificateService) Status(ctx context.Context) (*Status, error) {
	counts, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count certificates: %w", ErrStorage, err)
	}

	st := &Status{
		Certificates: counts,
		HashScheme:   model.SchemeFramed,
		Features: Features{
			Renderer: "none",
			Email:    s.mailer != nil,
			Text:     s.texter != nil,
			Audit:    s.audit != nil,
			Webhooks: s.webhooks != nil,
		},
	}
	if s.renderer != nil {
		st.Features.Renderer = s.renderer.Format()
	}
	if s.audit != nil {
		if n, err := s.audit.Len(ctx); err == nil {
			st.AuditEntries = n
		}
		if root, err := s.audit.Root(ctx); err == nil {
			st.AuditRoot = root
		}
	}
	return st, nil
}

// Artifact returns the rendered file reference of an active certificate.
func (s *CertificateService) Artifact(ctx context.Context, certificateID string) (string, error) {
	c, err := s.getActive(ctx, certificateID)
	if err != nil {
		return "", err
	}
	if c.ArtifactReference == "" {
		return "", ErrNoArtifact
	}
	return c.ArtifactReference, nil
}

// QRPayload returns the verification payload of an active certificate.
func (s *CertificateService) QRPayload(ctx context.Context, certificateID string) (render.VerificationPayload, error) {
	c, err := s.getActive(ctx, certificateID)
	if err != nil {
		return render.VerificationPayload{}, err
	}
	return render.PayloadFor(c, s.verifyBase), nil
}

// VerificationURL returns the public verification link for certificateID,
// or "" when no verification base is configured.
func (s *CertificateService) VerificationURL(certificateID string) string {
	if s.verifyBase == "" {
		return ""
	}
	return certid.VerificationURL(s.verifyBase, certificateID)
}

func (s *CertificateService) getActive(ctx context.Context, certificateID string) (*model.Certificate, error) {
	c, err := s.store.GetActive(ctx, certificateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get certificate: %w", ErrStorage, err)
	}
	return c, nil
}

// Deliver emails an active certificate to its recipient, attaching the
// rendered artifact when present. to overrides the stored address.
func (s *CertificateService) Deliver(ctx context.Context, certificateID, to string) (email.Message, error) {
	if s.mailer == nil {
		return email.Message{}, fmt.Errorf("email %w", ErrDeliveryDisabled)
	}
	c, err := s.getActive(ctx, certificateID)
	if err != nil {
		return email.Message{}, err
	}
	return s.deliverEmail(ctx, c, to, "")
}

// BulkDeliver sends each listed certificate over method. note, when set,
// replaces the greeting of the message. A certificate without contact
// details for method is skipped; any other per-item error marks that item
// failed and the batch continues.
func (s *CertificateService) BulkDeliver(ctx context.Context, certificateIDs []string, method DeliveryMethod, note string) ([]DeliveryOutcome, error) {
	switch method {
	case MethodEmail:
		if s.mailer == nil {
			return nil, fmt.Errorf("email %w", ErrDeliveryDisabled)
		}
	case MethodSMS, MethodWhatsApp:
		if s.texter == nil {
			return nil, fmt.Errorf("%s %w", method, ErrDeliveryDisabled)
		}
	default:
		return nil, &model.ValidationError{Fields: []model.FieldError{{Field: "method", Message: "must be email, sms or whatsapp"}}}
	}

	out := make([]DeliveryOutcome, len(certificateIDs))
	for i, id := range certificateIDs {
		o := DeliveryOutcome{Index: i, CertificateID: id, Method: method}
		c, err := s.getActive(ctx, id)
		if err == nil {
			o.RecipientName = strings.TrimSpace(c.RecipientName)
			if method == MethodEmail {
				var msg email.Message
				msg, err = s.deliverEmail(ctx, c, "", note)
				o.SentTo = msg.To
			} else {
				o.SentTo, err = s.deliverText(ctx, c, method, note)
			}
		}

		switch {
		case err == nil:
			o.Status = DeliverySent
		case errors.Is(err, ErrNoRecipientEmail), errors.Is(err, ErrNoRecipientPhone):
			o.Status = DeliverySkipped
			o.Error = "no contact info"
		case errors.Is(err, ErrNotFound):
			o.Status = DeliveryFailed
			o.Error = "certificate not found"
		default:
			o.Status = DeliveryFailed
			o.Error = err.Error()
		}
		out[i] = o
	}
	return out, nil
}

func (s *CertificateService) deliverEmail(ctx context.Context, c *model.Certificate, to, note string) (email.Message, error) {
	if strings.TrimSpace(to) == "" {
		to = c.Email
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return email.Message{}, ErrNoRecipientEmail
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return email.Message{}, &model.ValidationError{Fields: []model.FieldError{{Field: "email", Message: "is not a valid email address"}}}
	}

	msg := email.Message{
		To:      to,
		Subject: "Your Certificate - " + c.CertificateID,
		Body:    deliveryBody(c, s.verifyBase, note),
	}
	if c.ArtifactReference != "" {
		data, err := os.ReadFile(c.ArtifactReference)
		if err != nil {
			s.logger.Warn("artifact unreadable, sending without attachment",
				zap.String("certificate_id", c.CertificateID),
				zap.Error(err),
			)
		} else {
			msg.Attachments = append(msg.Attachments, email.Attachment{
				Filename:    render.FileName(c.CertificateID, filepath.Ext(c.ArtifactReference)),
				ContentType: render.ContentType(c.ArtifactReference),
				Data:        data,
			})
		}
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("certificate delivery failed",
			zap.String("certificate_id", c.CertificateID),
			zap.Error(err),
		)
		return email.Message{}, fmt.Errorf("send certificate: %w", err)
	}
	s.logger.Info("certificate delivered", zap.String("certificate_id", c.CertificateID))
	return msg, nil
}

// deliverText sends a short notice with the verification link to the
// certificate's phone number and returns the number used.
func (s *CertificateService) deliverText(ctx context.Context, c *model.Certificate, method DeliveryMethod, note string) (string, error) {
	if strings.TrimSpace(c.Phone) == "" {
		return "", ErrNoRecipientPhone
	}
	to, err := sms.NormalizeNumber(c.Phone)
	if err != nil {
		return "", err
	}

	channel := sms.ChannelSMS
	if method == MethodWhatsApp {
		channel = sms.ChannelWhatsApp
	}
	if err := s.texter.Send(ctx, sms.Message{To: to, Body: textBody(c, s.verifyBase, note), Channel: channel}); err != nil {
		s.logger.Error("certificate text delivery failed",
			zap.String("certificate_id", c.CertificateID),
			zap.String("method", string(method)),
			zap.Error(err),
		)
		return "", fmt.Errorf("send certificate: %w", err)
	}
	s.logger.Info("certificate delivered",
		zap.String("certificate_id", c.CertificateID),
		zap.String("method", string(method)),
	)
	return to, nil
}

func textBody(c *model.Certificate, verifyBase, note string) string {
	var b strings.Builder
	if note = strings.TrimSpace(note); note != "" {
		b.WriteString(note)
	} else {
		fmt.Fprintf(&b, "Congratulations %s on completing %s.", strings.TrimSpace(c.RecipientName), strings.TrimSpace(c.CourseName))
	}
	fmt.Fprintf(&b, " Certificate ID: %s.", c.CertificateID)
	if verifyBase != "" {
		fmt.Fprintf(&b, " Verify: %s", certid.VerificationURL(verifyBase, c.CertificateID))
	}
	return b.String()
}

func deliveryBody(c *model.Certificate, verifyBase, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", strings.TrimSpace(c.RecipientName))
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&b, "%s\n\n", note)
	} else {
		fmt.Fprintf(&b, "Congratulations on completing %s.\n\n", strings.TrimSpace(c.CourseName))
	}
	fmt.Fprintf(&b, "Certificate ID: %s\n", c.CertificateID)
	if verifyBase != "" {
		fmt.Fprintf(&b, "Verify it at: %s\n", certid.VerificationURL(verifyBase, c.CertificateID))
	}
	fmt.Fprintf(&b, "\n%s\n", c.Organization)
	return b.String()
}
