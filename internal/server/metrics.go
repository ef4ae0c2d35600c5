package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabregas/media-chat/internal/linkpreview"
)

// Metrics holds the collectors of one server. Each server owns its registry
// so several can run side by side in one process.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	sessionsJoined    prometheus.Counter
	joinsRejected     prometheus.Counter
	disconnects       prometheus.Counter
	messagesBroadcast prometheus.Counter
	broadcastFanout   prometheus.Histogram
	historyEntries    prometheus.Gauge
	linkResolutions   *prometheus.CounterVec
	probeDuration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediachat_active_sessions",
			Help: "Number of joined chat sessions.",
		}),
		sessionsJoined: f.NewCounter(prometheus.CounterOpts{
			Name: "mediachat_sessions_joined_total",
			Help: "Sessions that completed the username handshake.",
		}),
		joinsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "mediachat_joins_rejected_total",
			Help: "Handshakes rejected for a taken or invalid username.",
		}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "mediachat_sessions_disconnected_total",
			Help: "Sessions removed from the registry.",
		}),
		messagesBroadcast: f.NewCounter(prometheus.CounterOpts{
			Name: "mediachat_messages_broadcast_total",
			Help: "Chat messages fanned out and recorded in history.",
		}),
		broadcastFanout: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediachat_broadcast_fanout",
			Help:    "Sessions reached by a single broadcast.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		historyEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediachat_history_entries",
			Help: "Entries currently held in the history buffer.",
		}),
		linkResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediachat_link_resolutions_total",
			Help: "Link previews resolved, by kind.",
		}, []string{"kind"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediachat_link_probe_duration_seconds",
			Help:    "Latency of network probes for unrecognized links.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, k := range linkpreview.Kinds {
		m.linkResolutions.WithLabelValues(k.String())
	}
	return m
}

// ObserveResolution implements linkpreview.Observer.
func (m *Metrics) ObserveResolution(kind linkpreview.Kind) {
	m.linkResolutions.WithLabelValues(kind.String()).Inc()
}

// ObserveProbe implements linkpreview.Observer.
func (m *Metrics) ObserveProbe(elapsed time.Duration) {
	m.probeDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
