package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/auditlog"
	"github.com/jmerrifield20/certledger/internal/certs/integrity"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/jmerrifield20/certledger/internal/certs/repository"
	"github.com/jmerrifield20/certledger/internal/email"
	"github.com/jmerrifield20/certledger/internal/render"
	"github.com/jmerrifield20/certledger/internal/sms"
	"go.uber.org/zap"
)

// MaxIssueAttempts bounds identifier generation retries on collision.
const MaxIssueAttempts = 3

var (
	// ErrStorage wraps any failure of the underlying store. Never retried.
	ErrStorage = errors.New("storage failure")

	// ErrIDExhausted is returned when every attempt produced an identifier
	// that already exists. It also matches repository.ErrDuplicateKey.
	ErrIDExhausted = errors.New("could not allocate a unique certificate id")

	// ErrNotFound is returned for lookups and lifecycle changes of an
	// identifier that was never issued.
	ErrNotFound = repository.ErrNotFound

	// ErrRender wraps renderer failures during Issue.
	ErrRender = errors.New("render certificate")

	// ErrNoArtifact is returned when a certificate has no rendered file.
	ErrNoArtifact = errors.New("certificate has no artifact")
)

// WebhookDispatcher fans lifecycle events out to subscribers.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// Lifecycle event types passed to the WebhookDispatcher.
const (
	EventIssued      = "certificate.issued"
	EventDeactivated = "certificate.deactivated"
	EventRestored    = "certificate.restored"
)

// CertificateService issues, verifies and manages certificates.
type CertificateService struct {
	store      repository.Store
	renderer   render.Renderer   // nil = no artifacts
	audit      auditlog.Log      // nil = no audit chain
	mailer     email.EmailSender // nil = delivery disabled
	texter     sms.Sender        // nil = no sms/whatsapp
	webhooks   WebhookDispatcher // nil = no notifications
	verifyBase string
	logger     *zap.Logger

	now       func() time.Time
	stampMu   sync.Mutex
	lastStamp time.Time
}

// NewCertificateService creates a CertificateService.
// renderer and audit may each be nil to disable that feature.
func NewCertificateService(store repository.Store, renderer render.Renderer, audit auditlog.Log, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		store:    store,
		renderer: renderer,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMailer enables Deliver.
func (s *CertificateService) SetMailer(m email.EmailSender) {
	s.mailer = m
}

// SetTextSender enables sms and whatsapp delivery.
func (s *CertificateService) SetTextSender(t sms.Sender) {
	s.texter = t
}

// SetWebhookDispatcher enables lifecycle notifications.
func (s *CertificateService) SetWebhookDispatcher(d WebhookDispatcher) {
	s.webhooks = d
}

// SetVerifyBase sets the base of verification URLs in delivered email.
func (s *CertificateService) SetVerifyBase(base string) {
	s.verifyBase = base
}

// SetClock replaces the time source. Used by tests.
func (s *CertificateService) SetClock(now func() time.Time) {
	s.now = now
}

// nextStamp returns a UTC timestamp strictly later than any returned before,
// so consecutive identifier attempts never hash identical input.
func (s *CertificateService) nextStamp() time.Time {
	t := s.now().UTC().Round(0)

	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// Issue validates req, assigns an identifier and integrity hash, renders the
// artifact and stores the certificate. Identifier collisions are retried up
// to MaxIssueAttempts times.
func (s *CertificateService) Issue(ctx context.Context, req *model.IssueRequest) (*model.Certificate, error) {
	completed, err := req.Validate()
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxIssueAttempts; attempt++ {
		stamp := s.nextStamp()
		c := &model.Certificate{
			CertificateID:  integrity.GenerateID(req.RecipientName, req.CourseName, stamp),
			RecipientName:  req.RecipientName,
			CourseName:     req.CourseName,
			CompletionDate: completed,
			IssueDate:      model.DateOf(stamp),
			InstructorName: req.InstructorName,
			Organization:   req.OrganizationOrDefault(),
			Grade:          req.Grade,
			Email:          req.Email,
			Phone:          req.Phone,
			HashScheme:     model.SchemeFramed,
			IsActive:       true,
			CreatedAt:      stamp.Truncate(time.Microsecond),
		}
		if c.IntegrityHash, err = integrity.HashCertificate(c); err != nil {
			return nil, fmt.Errorf("hash certificate: %w", err)
		}

		artifact, err := s.stage(ctx, c)
		if err != nil {
			return nil, err
		}

		err = s.store.Insert(ctx, c)
		if errors.Is(err, repository.ErrDuplicateKey) {
			s.discard(artifact)
			s.logger.Warn("certificate id collision, retrying",
				zap.String("certificate_id", c.CertificateID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			s.discard(artifact)
			s.logger.Error("failed to store certificate", zap.Error(err))
			return nil, fmt.Errorf("%w: insert certificate: %w", ErrStorage, err)
		}

		if artifact != nil {
			if err := artifact.Commit(); err != nil {
				s.logger.Error("artifact commit failed, deactivating certificate",
					zap.String("certificate_id", c.CertificateID),
					zap.Error(err),
				)
				if _, derr := s.store.SetActive(ctx, c.CertificateID, false); derr != nil {
					s.logger.Error("deactivate after failed commit", zap.Error(derr))
				}
				return nil, fmt.Errorf("%w: %w", ErrRender, err)
			}
		}

		s.logger.Info("certificate issued",
			zap.String("certificate_id", c.CertificateID),
			zap.String("course", c.CourseName),
			zap.Int("attempt", attempt),
		)
		s.appendAudit(ctx, auditlog.Event{
			CertificateID: c.CertificateID,
			Action:        auditlog.ActionIssue,
			DataHash:      c.IntegrityHash,
		})
		s.notify(ctx, EventIssued, map[string]string{
			"certificate_id": c.CertificateID,
			"recipient_name": c.RecipientName,
			"course_name":    c.CourseName,
		})
		return c, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrIDExhausted, MaxIssueAttempts, repository.ErrDuplicateKey)
}

func (s *CertificateService) stage(ctx context.Context, c *model.Certificate) (render.Artifact, error) {
	if s.renderer == nil {
		return nil, nil
	}
	a, err := s.renderer.Render(ctx, c)
	if err != nil {
		s.logger.Error("render failed", zap.String("certificate_id", c.CertificateID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	c.ArtifactReference = a.Reference()
	return a, nil
}

func (s *CertificateService) discard(a render.Artifact) {
	if a == nil {
		return
	}
	if err := a.Discard(); err != nil {
		s.logger.Warn("discard staged artifact", zap.Error(err))
	}
}

// appendAudit appends to the audit chain in a non-fatal manner.
func (s *CertificateService) appendAudit(ctx context.Context, ev auditlog.Event) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Append(ctx, ev); err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("action", ev.Action),
			zap.String("certificate_id", ev.CertificateID),
			zap.Error(err),
		)
	}
}

func (s *CertificateService) notify(ctx context.Context, eventType string, payload map[string]string) {
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, eventType, payload)
	}
}

// Verify reports whether certificateID names an active certificate whose
// stored fields still match its integrity hash. The error return is
// reserved for ErrStorage; unknown, inactive and tampered certificates are
// outcomes, not errors.
func (s *CertificateService) Verify(ctx context.Context, certificateID string) (*model.VerifyResult, error) {
	res := &model.VerifyResult{CertificateID: certificateID}

	c, err := s.store.GetActive(ctx, certificateID)
	if errors.Is(err, repository.ErrNotFound) {
		res.Outcome = model.OutcomeNotFound
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get certificate: %w", ErrStorage, err)
	}

	if err := integrity.Check(c); err != nil {
		s.logger.Warn("certificate failed integrity check",
			zap.String("certificate_id", certificateID),
			zap.String("hash_scheme", string(c.HashScheme)),
			zap.Error(err),
		)
		res.Outcome = model.OutcomeCorrupted
		return res, nil
	}

	res.Outcome = model.OutcomeValid
	res.Certificate = c
	return res, nil
}

// List returns certificates newest first.
func (s *CertificateService) List(ctx context.Context, f model.ListFilter) ([]*model.Certificate, error) {
	var (
		out []*model.Certificate
		err error
	)
	if f.IncludeInactive {
		out, err = s.store.ListAll(ctx, f.Limit, f.Offset)
	} else {
		out, err = s.store.ListActive(ctx, f.Limit, f.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list certificates: %w", ErrStorage, err)
	}
	if out == nil {
		out = []*model.Certificate{}
	}
	return out, nil
}

// Get returns a certificate in any state. Administrative path only; public
// callers use Verify.
func (s *CertificateService) Get(ctx context.Context, certificateID string) (*model.Certificate, error) {
	c, err := s.store.GetAny(ctx, certificateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get certificate: %w", ErrStorage, err)
	}
	return c, nil
}

// Deactivate soft-deletes a certificate. It returns 1 when the state
// changed and 0 when the certificate was already inactive.
func (s *CertificateService) Deactivate(ctx context.Context, certificateID string) (int64, error) {
	return s.setActive(ctx, certificateID, false, auditlog.ActionDeactivate, EventDeactivated)
}

// Restore reactivates a soft-deleted certificate. It returns 1 when the
// state changed and 0 when the certificate was already active.
func (s *CertificateService) Restore(ctx context.Context, certificateID string) (int64, error) {
	return s.setActive(ctx, certificateID, true, auditlog.ActionRestore, EventRestored)
}

func (s *CertificateService) setActive(ctx context.Context, certificateID string, active bool, action, event string) (int64, error) {
	n, err := s.store.SetActive(ctx, certificateID, active)
	if err != nil {
		return 0, fmt.Errorf("%w: %s certificate: %w", ErrStorage, action, err)
	}
	if n == 0 {
		if _, err := s.store.GetAny(ctx, certificateID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("%w: get certificate: %w", ErrStorage, err)
		}
		return 0, nil
	}

	s.logger.Info("certificate "+action+"d", zap.String("certificate_id", certificateID))
	dataHash, err := auditlog.PayloadHash(map[string]any{"certificate_id": certificateID, "is_active": active})
	if err == nil {
		s.appendAudit(ctx, auditlog.Event{CertificateID: certificateID, Action: action, DataHash: dataHash})
	}
	s.notify(ctx, event, map[string]string{"certificate_id": certificateID})
	return n, nil
}

// BulkIssue issues every request independently. A failing record never
// stops the batch; each outcome carries the record's position.
func (s *CertificateService) BulkIssue(ctx context.Context, reqs []*model.IssueRequest) []model.BulkOutcome {
	out := make([]model.BulkOutcome, len(reqs))
	for i, req := range reqs {
		o := model.BulkOutcome{Index: i}
		if req == nil {
			o.Err = &model.ValidationError{Fields: []model.FieldError{{Field: "record", Message: "is empty"}}}
		} else {
			o.RecipientName = req.RecipientName
			if err := ctx.Err(); err != nil {
				o.Err = err
			} else {
				o.Certificate, o.Err = s.Issue(ctx, req)
			}
		}

		if o.Err != nil {
			o.Certificate = nil
			o.Error = o.Err.Error()
			var verr *model.ValidationError
			if errors.As(o.Err, &verr) {
				o.Fields = verr.Fields
			}
		}
		out[i] = o
	}

	s.logger.Info("bulk issue finished",
		zap.Int("records", len(reqs)),
		zap.Int("succeeded", Succeeded(out)),
	)
	return out
}

// Succeeded counts the issued records of a bulk result.
func Succeeded(outcomes []model.BulkOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}
