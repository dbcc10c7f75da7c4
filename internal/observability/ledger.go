package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

// LedgerMetrics exposes collectors for posting, reversal and reporting work.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	residual   *prometheus.GaugeVec
}

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriledger_ledger_operations_total",
			Help: "Ledger operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agriledger_ledger_operation_duration_seconds",
			Help:    "Ledger operation latency including transaction retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		residual: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agriledger_reconciliation_residual",
			Help: "Unexplained subledger to control account residual from the last reconciliation.",
		}, []string{"side"}),
	}
	registerer.MustRegister(m.operations, m.duration, m.residual)
	return m
}

// Tracker instruments a single ledger operation.
type Tracker struct {
	metrics  *LedgerMetrics
	op       string
	start    time.Time
	replayed bool
}

// Track starts a tracker for op.
func (m *LedgerMetrics) Track(op string) *Tracker {
	return &Tracker{metrics: m, op: op, start: time.Now()}
}

// Replayed marks the operation as an idempotent replay.
func (t *Tracker) Replayed() {
	if t != nil {
		t.replayed = true
	}
}

// End records the outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	t.metrics.operations.WithLabelValues(t.op, outcome(err, t.replayed)).Inc()
	t.metrics.duration.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveResidual stores the latest reconciliation residual for side.
func (m *LedgerMetrics) ObserveResidual(side string, residual float64) {
	if m == nil {
		return
	}
	m.residual.WithLabelValues(strings.ToLower(side)).Set(residual)
}

func outcome(err error, replayed bool) string {
	if err == nil {
		if replayed {
			return "replay"
		}
		return "ok"
	}
	if kind := fault.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}
