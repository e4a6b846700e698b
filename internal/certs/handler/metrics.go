package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/certs/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	certificatesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certledger_certificates",
		Help: "Stored certificates by state, as of the last status query.",
	}, []string{"state"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	issuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certledger_certificates_issued_total",
		Help: "Total certificates issued.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_verifications_total",
		Help: "Total verification queries by outcome.",
	}, []string{"outcome"})

	lifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_lifecycle_changes_total",
		Help: "Total state changes by action.",
	}, []string{"action"})

	certificateDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_certificate_deliveries_total",
		Help: "Total certificate deliveries by method and status.",
	}, []string{"method", "status"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by result.",
	}, []string{"result"})

	sweepCorrupted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_sweep_corrupted_certificates",
		Help: "Certificates failing their integrity check in the last sweep.",
	})

	sweepChainOK = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_sweep_audit_chain_ok",
		Help: "1 if the audit chain verified in the last sweep, else 0.",
	})

	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certledger_sweeps_total",
		Help: "Total completed integrity sweeps.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// Unmatched routes share one label.
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIssued adds n to the issued counter.
func RecordIssued(n int) {
	issuedTotal.Add(float64(n))
}

// RecordVerification records one verification outcome.
func RecordVerification(outcome model.Outcome) {
	verificationsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordLifecycleChange records a deactivate or restore that changed state.
func RecordLifecycleChange(action string) {
	lifecycleTotal.WithLabelValues(action).Inc()
}

// SetCertificatesGauge publishes store counts.
func SetCertificatesGauge(c model.Counts) {
	certificatesGauge.WithLabelValues("active").Set(float64(c.Active))
	certificatesGauge.WithLabelValues("inactive").Set(float64(c.Inactive))
}

// RecordDelivery records one certificate delivery.
func RecordDelivery(method, status string) {
	certificateDeliveries.WithLabelValues(method, status).Inc()
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	webhookDeliveries.WithLabelValues(result).Inc()
}

// RecordSweep publishes the result of an integrity sweep.
func RecordSweep(corrupted int, chainOK bool) {
	sweepsTotal.Inc()
	sweepCorrupted.Set(float64(corrupted))
	if chainOK {
		sweepChainOK.Set(1)
	} else {
		sweepChainOK.Set(0)
	}
}
