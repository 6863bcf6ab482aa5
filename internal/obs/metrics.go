package obs

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecore"

// Metrics collects counters and latency stats for the control core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	signals        *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	admissions     prometheus.Counter
	breakerState   prometheus.Gauge
	breakerTrips   *prometheus.CounterVec
	orders         *prometheus.CounterVec
	gatewayRetries prometheus.Counter
	gatewayFails   *prometheus.CounterVec
	mismatches     prometheus.Counter
	equity         prometheus.Gauge
	exposure       prometheus.Gauge
	journalDrops   prometheus.Counter
	rebalances     *prometheus.CounterVec
	riskEvalHist   prometheus.Histogram

	journalDropCount uint64
	mismatchCount    uint64

	orderFlowLatency LatencyStats
	riskEvalLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the in-process values that are not read from Prometheus.
type Snapshot struct {
	JournalDrops     uint64          `json:"journalDrops"`
	Mismatches       uint64          `json:"mismatches"`
	OrderFlowLatency LatencySnapshot `json:"orderFlowLatency"`
	RiskEvalLatency  LatencySnapshot `json:"riskEvalLatency"`
}

// NewMetrics allocates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals received by the aggregator, by result.",
		}, []string{"result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejections_total",
			Help:      "Risk engine rejections by reason.",
		}, []string{"reason"}),
		admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_admissions_total",
			Help:      "Decisions admitted by the risk engine.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_triggered",
			Help:      "1 while the circuit breaker is triggered.",
		}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker trips by condition.",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order status transitions.",
		}, []string{"status"}),
		gatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Retried gateway placements.",
		}),
		gatewayFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_failures_total",
			Help:      "Gateway placement failures by class.",
		}, []string{"class"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_mismatches_total",
			Help:      "Gateway events that could not be reconciled.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Account equity at the last mark.",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_exposure",
			Help:      "Aggregate mark-to-market exposure.",
		}),
		journalDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_drops_total",
			Help:      "Journal records dropped because a sink queue was full.",
		}),
		rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebalance_signals_total",
			Help:      "Rebalancing signals emitted by the allocator.",
		}, []string{"symbol"}),
		riskEvalHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_eval_seconds",
			Help:      "Risk evaluation latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.signals, m.rejections, m.admissions, m.breakerState, m.breakerTrips,
		m.orders, m.gatewayRetries, m.gatewayFails, m.mismatches, m.equity,
		m.exposure, m.journalDrops, m.rebalances, m.riskEvalHist,
	)
	return m
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncSignal(result string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAdmission() {
	if m == nil {
		return
	}
	m.admissions.Inc()
}

func (m *Metrics) SetBreaker(triggered bool) {
	if m == nil {
		return
	}
	if triggered {
		m.breakerState.Set(1)
		return
	}
	m.breakerState.Set(0)
}

func (m *Metrics) IncBreakerTrip(reason string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncOrder(status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status).Inc()
}

func (m *Metrics) IncGatewayRetry() {
	if m == nil {
		return
	}
	m.gatewayRetries.Inc()
}

func (m *Metrics) IncGatewayFailure(class string) {
	if m == nil {
		return
	}
	m.gatewayFails.WithLabelValues(class).Inc()
}

func (m *Metrics) IncReconciliationMismatch() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.mismatchCount, 1)
	m.mismatches.Inc()
}

func (m *Metrics) SetEquity(v float64) {
	if m == nil {
		return
	}
	m.equity.Set(v)
}

func (m *Metrics) SetExposure(v float64) {
	if m == nil {
		return
	}
	m.exposure.Set(v)
}

// IncJournalDrop records a dropped journal record.
func (m *Metrics) IncJournalDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.journalDropCount, 1)
	m.journalDrops.Inc()
}

func (m *Metrics) IncRebalanceSignal(symbol string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(symbol).Inc()
}

// ObserveOrderFlow measures admission to terminal order latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
	m.riskEvalHist.Observe(d.Seconds())
}

// Snapshot returns a copy of the in-process values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		JournalDrops:     atomic.LoadUint64(&m.journalDropCount),
		Mismatches:       atomic.LoadUint64(&m.mismatchCount),
		OrderFlowLatency: m.orderFlowLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
