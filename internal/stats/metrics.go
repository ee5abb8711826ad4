package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gtpu_harness"

// Label names for harness metrics.
const (
	labelScenario  = "scenario"
	labelVerdict   = "verdict"
	labelMalformed = "malformed"
	labelResult    = "result"
)

// Metrics holds the Prometheus view of a run.
type Metrics struct {
	// PacketsSent counts packets handed to the transport per scenario.
	PacketsSent *prometheus.CounterVec

	// SendFailures counts packets the transport refused or the self-check
	// rejected per scenario.
	SendFailures *prometheus.CounterVec

	// CapturedEvents counts downlink packets observed per scenario.
	CapturedEvents *prometheus.CounterVec

	// Verdicts counts scenario outcomes.
	Verdicts *prometheus.CounterVec

	OracleQueries        *prometheus.CounterVec
	OracleQueryDurations prometheus.Histogram
}

// NewMetrics creates Metrics registered against reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total GTP-U packets handed to the transport.",
		}, []string{labelScenario}),

		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total packets not transmitted because of transport or self-check errors.",
		}, []string{labelScenario}),

		CapturedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_events_total",
			Help:      "Total downlink GTP-U packets observed from the UPF.",
		}, []string{labelScenario, labelMalformed}),

		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Total scenario verdicts.",
		}, []string{labelScenario, labelVerdict}),

		OracleQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "queries_total",
			Help:      "Total session oracle queries by result.",
		}, []string{labelResult}),

		OracleQueryDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "query_duration_seconds",
			Help:      "Session oracle query latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.PacketsSent,
		m.SendFailures,
		m.CapturedEvents,
		m.Verdicts,
		m.OracleQueries,
		m.OracleQueryDurations,
	)
	return m
}

func (m *Metrics) observeOracle(d time.Duration, result string) {
	m.OracleQueries.WithLabelValues(result).Inc()
	m.OracleQueryDurations.Observe(d.Seconds())
}
