package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements timecredit.Metrics using Prometheus.
type Metrics struct {
	settlementsTotal   *prometheus.CounterVec
	deductedSeconds    *prometheus.CounterVec
	duplicateEvents    *prometheus.CounterVec
	clockAnomalies     *prometheus.CounterVec
	guardTriggers      *prometheus.CounterVec
	earnedSeconds      prometheus.Counter
	exhaustionsTotal   prometheus.Counter
	storeWriteDuration *prometheus.HistogramVec
	storeWriteErrors   *prometheus.CounterVec
	recoveryRunsTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		settlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total number of completed settlements.",
		}, []string{"reason"}),

		deductedSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deducted_seconds_total",
			Help:      "Total credit seconds deducted by settlements.",
		}, []string{"reason"}),

		duplicateEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Total number of idempotency-guard hits.",
		}, []string{"reason"}),

		clockAnomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_anomalies_total",
			Help:      "Total number of detected clock rewinds and implausible intervals.",
		}, []string{"kind"}),

		guardTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_triggers_total",
			Help:      "Total number of defensive clamps firing.",
		}, []string{"kind"}),

		earnedSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "earned_seconds_total",
			Help:      "Total credit seconds earned from abstinence.",
		}),

		exhaustionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exhaustions_total",
			Help:      "Total number of exhaustion effects fired.",
		}),

		storeWriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Latency of durable store writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),

		storeWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_errors_total",
			Help:      "Total number of failed durable store writes.",
		}, []string{"mode"}),

		recoveryRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_runs_total",
			Help:      "Total number of startup recovery runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordSettlement(reason string, deducted int64) {
	m.settlementsTotal.WithLabelValues(reason).Inc()
	if deducted > 0 {
		m.deductedSeconds.WithLabelValues(reason).Add(float64(deducted))
	}
}

func (m *Metrics) RecordDuplicateEvent(reason string) {
	m.duplicateEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordClockAnomaly(kind string) {
	m.clockAnomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordGuardTrigger(kind string) {
	m.guardTriggers.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEarn(amount int64) {
	m.earnedSeconds.Add(float64(amount))
}

func (m *Metrics) RecordExhaustion() {
	m.exhaustionsTotal.Inc()
}

func (m *Metrics) RecordStoreWrite(mode string, duration time.Duration, err error) {
	m.storeWriteDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err != nil {
		m.storeWriteErrors.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) RecordRecovery(outcome string) {
	m.recoveryRunsTotal.WithLabelValues(outcome).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
