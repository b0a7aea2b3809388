package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records matchmaking and session metrics.
type Collector interface {
	TicketJoined()
	TicketResolved(result string, wait time.Duration)
	PoolSize(n int)
	SessionOpened(opponent string)
	SessionClosed(outcome, reason string, duration time.Duration, turns int)
	FrameRejected(kind string)
}

// NoOpCollector is used when metrics aren't needed.
type NoOpCollector struct{}

func (NoOpCollector) TicketJoined()                                    {}
func (NoOpCollector) TicketResolved(result string, wait time.Duration) {}
func (NoOpCollector) PoolSize(n int)                                   {}
func (NoOpCollector) SessionOpened(opponent string)                    {}
func (NoOpCollector) SessionClosed(string, string, time.Duration, int) {}
func (NoOpCollector) FrameRejected(kind string)                        {}

// PrometheusCollector implements Collector with client_golang metrics.
type PrometheusCollector struct {
	ticketsJoined   prometheus.Counter
	ticketsResolved *prometheus.CounterVec
	ticketWait      prometheus.Histogram
	poolWaiting     prometheus.Gauge

	sessionsActive  prometheus.Gauge
	sessionsOpened  *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	sessionTurns    prometheus.Histogram
	framesRejected  *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on promhttp.Handler().
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	f := promauto.With(reg)

	return &PrometheusCollector{
		ticketsJoined: f.NewCounter(prometheus.CounterOpts{
			Name: "turing_tickets_joined_total",
			Help: "Total tickets created by pool joins",
		}),
		ticketsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turing_tickets_resolved_total",
			Help: "Tickets leaving the waiting queue by result",
		}, []string{"result"}),
		ticketWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "turing_ticket_wait_seconds",
			Help:    "Time a ticket spent waiting in the pool",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		}),
		poolWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "turing_pool_waiting",
			Help: "Current waiting queue size",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "turing_sessions_active",
			Help: "Sessions currently open",
		}),
		sessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turing_sessions_opened_total",
			Help: "Sessions created by opponent type",
		}, []string{"opponent"}),
		sessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turing_sessions_closed_total",
			Help: "Sessions closed by outcome and reason",
		}, []string{"outcome", "reason"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "turing_session_duration_seconds",
			Help:    "Lifetime of a session from creation to close",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		sessionTurns: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "turing_session_turns",
			Help:    "Number of relayed turns per session",
			Buckets: prometheus.LinearBuckets(0, 4, 10),
		}),
		framesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turing_frames_rejected_total",
			Help: "Inbound frames rejected by error kind",
		}, []string{"kind"}),
	}
}

func (m *PrometheusCollector) TicketJoined() {
	m.ticketsJoined.Inc()
}

func (m *PrometheusCollector) TicketResolved(result string, wait time.Duration) {
	m.ticketsResolved.WithLabelValues(result).Inc()
	m.ticketWait.Observe(wait.Seconds())
}

func (m *PrometheusCollector) PoolSize(n int) {
	m.poolWaiting.Set(float64(n))
}

func (m *PrometheusCollector) SessionOpened(opponent string) {
	m.sessionsActive.Inc()
	m.sessionsOpened.WithLabelValues(opponent).Inc()
}

func (m *PrometheusCollector) SessionClosed(outcome, reason string, duration time.Duration, turns int) {
	m.sessionsActive.Dec()
	m.sessionsClosed.WithLabelValues(outcome, reason).Inc()
	m.sessionDuration.Observe(duration.Seconds())
	m.sessionTurns.Observe(float64(turns))
}

func (m *PrometheusCollector) FrameRejected(kind string) {
	m.framesRejected.WithLabelValues(kind).Inc()
}
