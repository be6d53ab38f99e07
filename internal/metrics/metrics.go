package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of calls currently not in a
// terminal state.
type ActiveCallsProvider interface {
	ActiveCalls() int
}

// LegStateProvider exposes a point-in-time count of legs grouped by
// orchestrator.LegState, keyed by its string value so this package never
// imports internal/orchestrator.
type LegStateProvider interface {
	LegsByState() map[string]int
}

// BridgeFailureCounter exposes the cumulative number of calls that failed
// at the uuid_bridge step.
type BridgeFailureCounter interface {
	BridgeFailures() int64
}

// RecordingFailureCounter exposes the cumulative number of uuid_record
// issuances that failed: a response not starting with +OK, or a transport
// error.
type RecordingFailureCounter interface {
	RecordingFailures() int64
}

// Collector is a prometheus.Collector gathering dialer metrics at scrape
// time, the same shape as the teacher's metrics.Collector: small provider
// interfaces queried on Collect, any of which may be nil.
type Collector struct {
	activeCalls       ActiveCallsProvider
	legStates         LegStateProvider
	bridgeFailures    BridgeFailureCounter
	recordingFailures RecordingFailureCounter
	startTime         time.Time

	activeCallsDesc       *prometheus.Desc
	legStateDesc          *prometheus.Desc
	bridgeFailuresDesc    *prometheus.Desc
	recordingFailuresDesc *prometheus.Desc
	uptimeDesc            *prometheus.Desc

	answerLatency prometheus.Histogram
}

// NewCollector creates a metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	activeCalls ActiveCallsProvider,
	legStates LegStateProvider,
	bridgeFailures BridgeFailureCounter,
	recordingFailures RecordingFailureCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		activeCalls:       activeCalls,
		legStates:         legStates,
		bridgeFailures:    bridgeFailures,
		recordingFailures: recordingFailures,
		startTime:         startTime,

		activeCallsDesc: prometheus.NewDesc(
			"dialer_active_calls",
			"Number of calls currently not in a terminal state",
			nil, nil,
		),
		legStateDesc: prometheus.NewDesc(
			"dialer_legs",
			"Number of legs currently in each state",
			[]string{"state"}, nil,
		),
		bridgeFailuresDesc: prometheus.NewDesc(
			"dialer_bridge_failures_total",
			"Total calls that failed at the uuid_bridge step",
			nil, nil,
		),
		recordingFailuresDesc: prometheus.NewDesc(
			"dialer_recording_failures_total",
			"Total uuid_record issuances that failed (non-+OK response or transport error)",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialer_uptime_seconds",
			"Seconds since the dialer process started",
			nil, nil,
		),
		answerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialer_answer_latency_seconds",
			Help:    "Time from agent originate to confirmed bridge, per call",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveAnswerLatency records one bridge's agent-originate-to-bridged
// duration. Called by the orchestrator once a call reaches Bridged.
func (c *Collector) ObserveAnswerLatency(d time.Duration) {
	c.answerLatency.Observe(d.Seconds())
}

// BindProviders attaches the call/leg/bridge-failure providers once they
// exist. The Collector itself must be constructed before the Orchestrator
// (it doubles as the Orchestrator's latency observer), so its other
// providers are wired in a second step rather than at construction time.
func (c *Collector) BindProviders(activeCalls ActiveCallsProvider, legStates LegStateProvider, bridgeFailures BridgeFailureCounter) {
	c.activeCalls = activeCalls
	c.legStates = legStates
	c.bridgeFailures = bridgeFailures
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.legStateDesc
	ch <- c.bridgeFailuresDesc
	ch <- c.recordingFailuresDesc
	ch <- c.uptimeDesc
	c.answerLatency.Describe(ch)
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.activeCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.activeCalls.ActiveCalls()),
		)
	}

	if c.legStates != nil {
		for state, n := range c.legStates.LegsByState() {
			ch <- prometheus.MustNewConstMetric(
				c.legStateDesc, prometheus.GaugeValue,
				float64(n), state,
			)
		}
	}

	if c.bridgeFailures != nil {
		ch <- prometheus.MustNewConstMetric(
			c.bridgeFailuresDesc, prometheus.CounterValue,
			float64(c.bridgeFailures.BridgeFailures()),
		)
	}

	if c.recordingFailures != nil {
		ch <- prometheus.MustNewConstMetric(
			c.recordingFailuresDesc, prometheus.CounterValue,
			float64(c.recordingFailures.RecordingFailures()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	c.answerLatency.Collect(ch)
}
