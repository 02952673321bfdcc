package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger Metrics
	LedgerOpsTotal     *prometheus.CounterVec
	LedgerOpDuration   *prometheus.HistogramVec
	LedgerAmountMinor  *prometheus.CounterVec
	FallbackMatches    *prometheus.CounterVec
	WebhookEventsTotal *prometheus.CounterVec
}

// NewMetrics registers every collector on reg so tests can use a private
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LedgerOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_ledger_operations_total",
				Help: "Ledger operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		LedgerOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_ledger_operation_duration_seconds",
				Help:    "Time spent inside a ledger transaction, including lock waits",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"op"},
		),
		LedgerAmountMinor: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_ledger_amount_minor_total",
				Help: "Sum of amounts written to the ledger, in minor units",
			},
			[]string{"kind"},
		),
		FallbackMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_reconcile_fallback_total",
				Help: "Charges located by recipient instead of correlation id",
			},
			[]string{"result"},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_webhook_events_total",
				Help: "Provider webhook events by processing outcome",
			},
			[]string{"source", "outcome"},
		),
	}
}

// --- Recording Methods ---

func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordLedgerOp(op, outcome string, duration time.Duration) {
	m.LedgerOpsTotal.WithLabelValues(op, outcome).Inc()
	m.LedgerOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordLedgerAmount(kind string, amount int64) {
	m.LedgerAmountMinor.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) RecordFallback(result string) {
	m.FallbackMatches.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordWebhookEvent(source, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(source, outcome).Inc()
}
