// Package metrics exposes relay counters to Prometheus. A nil *Collector is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authFailures      prometheus.Counter

	eventsRouted  *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	callsAccepted prometheus.Counter
	callDuration  prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "callrelay_connections_active",
			Help: "Number of open signaling connections",
		}),
		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "callrelay_connections_total",
			Help: "Signaling connections accepted since start",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "callrelay_auth_failures_total",
			Help: "Connection attempts refused for a missing or invalid token",
		}),

		eventsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_events_routed_total",
			Help: "Inbound signaling events delivered to their destination",
		}, []string{"event"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_events_dropped_total",
			Help: "Inbound signaling events dropped, by reason",
		}, []string{"event", "reason"}),

		callsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "callrelay_calls_accepted_total",
			Help: "Calls that reached the accepted phase",
		}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callrelay_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
	c.connectionsTotal.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

func (c *Collector) AuthFailed() {
	if c == nil {
		return
	}
	c.authFailures.Inc()
}

func (c *Collector) EventRouted(event string) {
	if c == nil {
		return
	}
	c.eventsRouted.WithLabelValues(event).Inc()
}

func (c *Collector) EventDropped(event, reason string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(event, reason).Inc()
}

func (c *Collector) CallAccepted() {
	if c == nil {
		return
	}
	c.callsAccepted.Inc()
}

func (c *Collector) CallCompleted(durationSeconds int) {
	if c == nil {
		return
	}
	c.callDuration.Observe(float64(durationSeconds))
}
