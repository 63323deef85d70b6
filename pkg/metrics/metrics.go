// Package metrics exposes Prometheus collectors for simulation runs. Every
// method is safe to call on a nil *Recorder, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "troupe"

type Recorder struct {
	registry *prometheus.Registry

	gatewayCalls   *prometheus.CounterVec
	gatewayRetries *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	actions           *prometheus.CounterVec
	truncations       *prometheus.CounterVec
	actFailures       *prometheus.CounterVec
	deliveriesDropped *prometheus.CounterVec
	steps             *prometheus.CounterVec

	checkpoints *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.gatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "LLM gateway calls by request kind and outcome",
	}, []string{"kind", "status"})

	r.gatewayRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "LLM gateway retries by request kind",
	}, []string{"kind"})

	r.gatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "latency_seconds",
		Help:      "Latency of a single LLM gateway attempt",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	r.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "LLM cache lookups by layer and result",
	}, []string{"layer", "result"})

	r.actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "actions_total",
		Help:      "Actions produced by agents",
	}, []string{"kind"})

	r.truncations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "truncations_total",
		Help:      "Act calls that ended without DONE",
	}, []string{"reason"})

	r.actFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "world",
		Name:      "act_failures_total",
		Help:      "Agent turns skipped because act failed",
	}, []string{"world"})

	r.deliveriesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "world",
		Name:      "deliveries_dropped_total",
		Help:      "Directed actions dropped by the accessibility policy",
	}, []string{"world", "reason"})

	r.steps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "world",
		Name:      "steps_total",
		Help:      "Completed world steps",
	}, []string{"world"})

	r.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "simulation",
		Name:      "checkpoints_total",
		Help:      "Checkpoint attempts by outcome",
	}, []string{"status"})

	r.registry.MustRegister(
		r.gatewayCalls,
		r.gatewayRetries,
		r.gatewayLatency,
		r.cacheLookups,
		r.actions,
		r.truncations,
		r.actFailures,
		r.deliveriesDropped,
		r.steps,
		r.checkpoints,
	)

	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) GatewayCall(kind, status string) {
	if r == nil {
		return
	}
	r.gatewayCalls.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) GatewayRetry(kind string) {
	if r == nil {
		return
	}
	r.gatewayRetries.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveGatewayLatency(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.gatewayLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) CacheLookup(layer, result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(layer, result).Inc()
}

func (r *Recorder) Action(kind string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(kind).Inc()
}

func (r *Recorder) Truncation(reason string) {
	if r == nil {
		return
	}
	r.truncations.WithLabelValues(reason).Inc()
}

func (r *Recorder) ActFailure(world string) {
	if r == nil {
		return
	}
	r.actFailures.WithLabelValues(world).Inc()
}

func (r *Recorder) DeliveryDropped(world, reason string) {
	if r == nil {
		return
	}
	r.deliveriesDropped.WithLabelValues(world, reason).Inc()
}

func (r *Recorder) Step(world string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(world).Inc()
}

func (r *Recorder) Checkpoint(status string) {
	if r == nil {
		return
	}
	r.checkpoints.WithLabelValues(status).Inc()
}
