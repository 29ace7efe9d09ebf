package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors.
type Metrics struct {
	eventsDecoded    prometheus.Counter
	decodeErrors     prometheus.Counter
	alertsSent       prometheus.Counter
	suppressed       *prometheus.CounterVec
	resolverFailures *prometheus.CounterVec
	reconnects       prometheus.Counter
	walletsLearned   prometheus.Counter
	connected        prometheus.Gauge
	resolution       prometheus.Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			eventsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "launch_watch_events_decoded_total",
				Help: "Total number of factory logs decoded into deployment events",
			}),
			decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "launch_watch_decode_errors_total",
				Help: "Total number of malformed factory logs dropped",
			}),
			alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "launch_watch_alerts_sent_total",
				Help: "Total number of watchlist matches delivered to notifiers",
			}),
			suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "launch_watch_resolutions_suppressed_total",
				Help: "Resolutions that ended without an alert, by reason",
			}, []string{"reason"}),
			resolverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "launch_watch_resolver_failures_total",
				Help: "Failed metadata resolver attempts, by resolver",
			}, []string{"resolver"}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "launch_watch_reconnects_total",
				Help: "Total number of chain reconnect attempts",
			}),
			walletsLearned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "launch_watch_wallets_learned_total",
				Help: "Wallet to handle mappings written by the pipeline",
			}),
			connected: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "launch_watch_chain_connected",
				Help: "1 when the chain connection is live, 0 otherwise",
			}),
			resolution: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "launch_watch_resolution_seconds",
				Help:    "Time spent resolving one deployment event",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
			}),
		}
		prometheus.MustRegister(
			metrics.eventsDecoded,
			metrics.decodeErrors,
			metrics.alertsSent,
			metrics.suppressed,
			metrics.resolverFailures,
			metrics.reconnects,
			metrics.walletsLearned,
			metrics.connected,
			metrics.resolution,
		)
	})
	return metrics
}

// EventDecoded increments the decoded events counter.
func (m *Metrics) EventDecoded() {
	if m != nil {
		m.eventsDecoded.Inc()
	}
}

// DecodeError increments the malformed log counter.
func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

// AlertSent increments the alerts sent counter.
func (m *Metrics) AlertSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// Suppressed counts a resolution that ended without an alert.
func (m *Metrics) Suppressed(reason string) {
	if m != nil {
		m.suppressed.WithLabelValues(reason).Inc()
	}
}

// ResolverFailure counts one failed resolver attempt.
func (m *Metrics) ResolverFailure(resolver string) {
	if m != nil {
		m.resolverFailures.WithLabelValues(resolver).Inc()
	}
}

// Reconnect increments the reconnect attempts counter.
func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// WalletLearned increments the learned mappings counter.
func (m *Metrics) WalletLearned() {
	if m != nil {
		m.walletsLearned.Inc()
	}
}

// SetConnected records the chain connection state.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// ObserveResolution records how long one resolution took.
func (m *Metrics) ObserveResolution(seconds float64) {
	if m != nil {
		m.resolution.Observe(seconds)
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
