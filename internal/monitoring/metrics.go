package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates session metrics. A nil *Collector is valid and
// records nothing, so wiring metrics stays optional for tests and CLIs.
type Collector struct {
	sessionsActive      prometheus.Gauge
	listenersConnected  prometheus.Gauge
	offersReceived      prometheus.Counter
	negotiationFailures prometheus.Counter
	connectionDuration  prometheus.Histogram
}

// NewCollector registers the session metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aircast_sessions_active",
			Help: "Number of active broadcast sessions",
		}),
		listenersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aircast_listeners_connected",
			Help: "Number of listeners currently connected",
		}),
		offersReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_offers_received_total",
			Help: "Total number of listener offers received",
		}),
		negotiationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_negotiation_failures_total",
			Help: "Total number of failed peer negotiations",
		}),
		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aircast_connection_duration_seconds",
			Help:    "Duration of listener connections",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) OfferReceived() {
	if c == nil {
		return
	}
	c.offersReceived.Inc()
}

func (c *Collector) ListenerConnected() {
	if c == nil {
		return
	}
	c.listenersConnected.Inc()
}

func (c *Collector) ListenerDisconnected(connectedFor time.Duration) {
	if c == nil {
		return
	}
	c.listenersConnected.Dec()
	if connectedFor > 0 {
		c.connectionDuration.Observe(connectedFor.Seconds())
	}
}

func (c *Collector) NegotiationFailed() {
	if c == nil {
		return
	}
	c.negotiationFailures.Inc()
}
