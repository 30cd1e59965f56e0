// Package metrics wraps a private Prometheus registry with the
// counters and gauges the runtime façade exposes on an optional
// /metrics listener (D2): connected bots, dispatched events, API
// calls in flight, and plugin load outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private prometheus.Registry rather than using the
// global default registerer, so a process can construct more than one
// (tests, multiple runtime instances) without collector collisions.
type Registry struct {
	reg *prometheus.Registry

	BotsConnected        prometheus.Gauge
	EventsDispatchedTotal *prometheus.CounterVec
	APICallsInFlight     prometheus.Gauge
	APICallsTotal        *prometheus.CounterVec
	PluginLoadTotal      *prometheus.CounterVec
}

// API call outcome labels for APICallsTotal.
const (
	OutcomeOK           = "ok"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeProtocolErr  = "protocol_error"
)

// Plugin load outcome labels for PluginLoadTotal.
const (
	PluginOutcomeLoaded = "loaded"
	PluginOutcomeFailed = "failed"
)

// New constructs a Registry with all collectors registered against a
// fresh prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		BotsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alloyrt_bots_connected",
			Help: "Number of bot identities currently connected.",
		}),
		EventsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alloyrt_events_dispatched_total",
			Help: "Total inbound events handed to the dispatcher, by event name.",
		}, []string{"event"}),
		APICallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alloyrt_api_calls_in_flight",
			Help: "Number of API calls awaiting a response.",
		}),
		APICallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alloyrt_api_calls_total",
			Help: "Total API calls, by outcome.",
		}, []string{"outcome"}),
		PluginLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alloyrt_plugin_load_total",
			Help: "Total plugin load attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.BotsConnected,
		r.EventsDispatchedTotal,
		r.APICallsInFlight,
		r.APICallsTotal,
		r.PluginLoadTotal,
	)
	return r
}

// Handler returns the promhttp handler serving this registry's
// collectors, mounted by the runtime façade at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
