package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "okx"

// Pipeline stages observed by StageLag.
const (
	StageReceive   = "receive"   // event time to socket read
	StageLane      = "lane"      // socket read to lane processing
	StageNormalize = "normalize" // socket read to ts_ingest stamp
	StageFlush     = "flush"     // sink write duration
)

// Metrics holds every series the ingester reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	events          *prometheus.CounterVec
	malformed       *prometheus.CounterVec
	unknown         *prometheus.CounterVec
	reconnects      prometheus.Counter
	sessionState    prometheus.Gauge
	stageLag        *prometheus.HistogramVec
	staleness       *prometheus.GaugeVec
	resyncs         *prometheus.CounterVec
	dedupRejections *prometheus.CounterVec
	discarded       *prometheus.CounterVec
	writerRows      *prometheus.CounterVec
	flushErrors     *prometheus.CounterVec
	backpressure    *prometheus.GaugeVec
	sinkFailures    *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// New constructs and registers the ingester metrics with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Data events received by channel and instrument.",
		}, []string{"channel", "inst_id"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_total",
			Help:      "Frames or records dropped as malformed.",
		}, []string{"channel"}),
		unknown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_total",
			Help:      "Frames for channels or instruments that are not subscribed.",
		}, []string{"channel"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Websocket reconnect attempts.",
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Session state: 0 disconnected, 1 connecting, 2 subscribing, 3 streaming.",
		}),
		stageLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_lag_seconds",
			Help:      "Latency per pipeline stage.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		staleness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_staleness_seconds",
			Help:      "Receive time minus exchange event time of the latest event per channel.",
		}, []string{"channel"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Order book resyncs by instrument and reason.",
		}, []string{"inst_id", "reason"}),
		dedupRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_rejections_total",
			Help:      "Duplicate trades dropped.",
		}, []string{"inst_id"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_updates_discarded_total",
			Help:      "Book increments discarded while awaiting a snapshot.",
		}, []string{"inst_id"}),
		writerRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_total",
			Help:      "Rows handed to the sink successfully.",
		}, []string{"table"}),
		flushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flush_errors_total",
			Help:      "Failed sink attempts.",
		}, []string{"table"}),
		backpressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "backpressure",
			Help:      "1 while appends to the table are blocked at the hard cap.",
		}, []string{"table"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "sink_failures_total",
			Help:      "Batches that exhausted every retry.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		m.events, m.malformed, m.unknown, m.reconnects, m.sessionState,
		m.stageLag, m.staleness, m.resyncs, m.dedupRejections, m.discarded,
		m.writerRows, m.flushErrors, m.backpressure, m.sinkFailures,
	)
	return m
}

// Event counts one data event.
func (m *Metrics) Event(channel, instID string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(channel, instID).Inc()
}

// Malformed counts a dropped frame or record.
func (m *Metrics) Malformed(channel string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(channel).Inc()
}

// Unknown counts a frame for an unsubscribed channel or instrument.
func (m *Metrics) Unknown(channel string) {
	if m == nil {
		return
	}
	m.unknown.WithLabelValues(channel).Inc()
}

// Reconnect counts one reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetSessionState records the numeric session state.
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

// StageLag observes latency for one pipeline stage. Negative values from
// clock skew are clamped to zero.
func (m *Metrics) StageLag(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageLag.WithLabelValues(stage).Observe(max(d, 0).Seconds())
}

// Staleness records receive time minus event time for a channel.
func (m *Metrics) Staleness(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.staleness.WithLabelValues(channel).Set(d.Seconds())
}

// Resync counts one order book resync.
func (m *Metrics) Resync(instID, reason string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(instID, reason).Inc()
}

// DedupRejected counts one duplicate trade.
func (m *Metrics) DedupRejected(instID string) {
	if m == nil {
		return
	}
	m.dedupRejections.WithLabelValues(instID).Inc()
}

// BookDiscarded counts an increment dropped before the first snapshot.
func (m *Metrics) BookDiscarded(instID string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(instID).Inc()
}

// ObserveFlush records a successful sink write.
func (m *Metrics) ObserveFlush(table string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.writerRows.WithLabelValues(table).Add(float64(rows))
	m.stageLag.WithLabelValues(StageFlush).Observe(d.Seconds())
}

// ObserveFlushError counts a failed sink attempt.
func (m *Metrics) ObserveFlushError(table string) {
	if m == nil {
		return
	}
	m.flushErrors.WithLabelValues(table).Inc()
}

// SetBackpressure flips the backpressure gauge for a table.
func (m *Metrics) SetBackpressure(table string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.backpressure.WithLabelValues(table).Set(v)
}

// SinkFailure counts a batch that exhausted its retries.
func (m *Metrics) SinkFailure(table string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(table).Inc()
}
