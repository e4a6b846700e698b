// Package health runs periodic integrity sweeps over the certificate ledger.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/certs/integrity"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"go.uber.org/zap"
)

// Config holds sweep configuration.
type Config struct {
	CheckInterval time.Duration
	PageSize      int
}

// Lister pages through every stored certificate. repository.Store
// satisfies it.
type Lister interface {
	ListAll(ctx context.Context, limit, offset int) ([]*model.Certificate, error)
}

// ChainVerifier validates the audit chain. auditlog.Log satisfies it.
type ChainVerifier interface {
	Verify(ctx context.Context) error
}

// WebhookDispatchFunc is an optional callback for dispatching sweep findings.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback receiving every completed sweep.
type MetricsRecordFunc func(r Report)

// Report summarises one sweep.
type Report struct {
	At        time.Time `json:"at"`
	Checked   int       `json:"checked"`
	Corrupted []string  `json:"corrupted"`
	ChainOK   bool      `json:"chain_ok"`
	ChainErr  string    `json:"chain_error,omitempty"`
}

// HealthChecker re-verifies stored certificates and the audit chain.
type HealthChecker struct {
	lister    Lister
	chain     ChainVerifier // nil = audit disabled
	cfg       Config
	onWebhook WebhookDispatchFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.Mutex
	corrupted map[string]bool
	chainOK   bool
	last      *Report
}

// New creates a HealthChecker. chain may be nil.
func New(lister Lister, chain ChainVerifier, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Minute
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}

	return &HealthChecker{
		lister:    lister,
		chain:     chain,
		cfg:       cfg,
		logger:    logger,
		corrupted: make(map[string]bool),
		chainOK:   true,
	}
}

// SetWebhookDispatch configures the webhook dispatch callback.
func (h *HealthChecker) SetWebhookDispatch(fn WebhookDispatchFunc) {
	h.onWebhook = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs a sweep immediately and then on every interval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		h.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthChecker) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, h.cfg.CheckInterval)
	defer cancel()
	if _, err := h.CheckAll(sctx); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("health: sweep failed", zap.Error(err))
	}
}

// CheckAll recomputes every certificate hash and verifies the audit chain.
// Findings that are new since the previous sweep are logged and dispatched;
// certificates that recover are logged once.
func (h *HealthChecker) CheckAll(ctx context.Context) (*Report, error) {
	r := &Report{At: time.Now().UTC(), Corrupted: []string{}, ChainOK: true}
	current := make(map[string]bool)

	// Entries are never removed and new issues land ahead of the cursor, so
	// offsets can only shift rows into a later page. Skipping ids already
	// seen keeps every entry counted once.
	seen := make(map[string]bool)
	for offset := 0; ; offset += h.cfg.PageSize {
		page, err := h.lister.ListAll(ctx, h.cfg.PageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			if seen[c.CertificateID] {
				continue
			}
			seen[c.CertificateID] = true
			r.Checked++
			if err := integrity.Check(c); err != nil {
				current[c.CertificateID] = true
				r.Corrupted = append(r.Corrupted, c.CertificateID)
			}
		}
		if len(page) < h.cfg.PageSize {
			break
		}
	}
	sort.Strings(r.Corrupted)

	if h.chain != nil {
		if err := h.chain.Verify(ctx); err != nil {
			r.ChainOK = false
			r.ChainErr = err.Error()
		}
	}

	h.mu.Lock()
	prev, prevChainOK := h.corrupted, h.chainOK
	h.corrupted, h.chainOK, h.last = current, r.ChainOK, r
	h.mu.Unlock()

	for _, id := range r.Corrupted {
		if prev[id] {
			continue
		}
		// Transition: intact → corrupted
		h.logger.Warn("health: certificate failed integrity check", zap.String("certificate_id", id))
		h.dispatch(ctx, "certificate.corrupted", map[string]string{"certificate_id": id})
	}
	for id := range prev {
		if !current[id] {
			h.logger.Info("health: certificate intact again", zap.String("certificate_id", id))
		}
	}
	if prevChainOK && !r.ChainOK {
		h.logger.Error("health: audit chain broken", zap.String("error", r.ChainErr))
		h.dispatch(ctx, "audit.chain_broken", map[string]string{"error": r.ChainErr})
	}

	if h.onMetrics != nil {
		h.onMetrics(*r)
	}
	h.logger.Debug("health: sweep complete",
		zap.Int("checked", r.Checked),
		zap.Int("corrupted", len(r.Corrupted)),
		zap.Bool("chain_ok", r.ChainOK),
	)
	return r, nil
}

func (h *HealthChecker) dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if h.onWebhook != nil {
		h.onWebhook(ctx, eventType, payload)
	}
}

// Last returns the most recent report, or nil before the first sweep.
func (h *HealthChecker) Last() *Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	cp := *h.last
	cp.Corrupted = append([]string{}, h.last.Corrupted...)
	return &cp
}
