package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Dispatch metrics
	MessagesDispatched *prometheus.CounterVec
	MessagesDropped    prometheus.Counter
	CallbackErrors     prometheus.Counter
	CallbackPanics     prometheus.Counter
	DispatchQueueDepth prometheus.Gauge

	// Reconciliation metrics
	ReconcileRounds    prometheus.Counter
	ResubscribeRetries prometheus.Counter
	ConvergenceState   *prometheus.GaugeVec
	ConvergenceLatency prometheus.Histogram

	// Subscription metrics
	SubscriptionsActive *prometheus.GaugeVec

	// Publish metrics
	PublishTotal  *prometheus.CounterVec
	PublishErrors prometheus.Counter
}

// NewRegistry creates a new metrics registry with all collectors
// registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	r := &Registry{
		reg: reg,
		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages delivered to subscriber callbacks, by push kind.",
		}, []string{"kind"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "dispatch",
			Name:      "messages_dropped_total",
			Help:      "Messages discarded because no subscription matched.",
		}),
		CallbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "dispatch",
			Name:      "callback_errors_total",
			Help:      "Subscriber callbacks that returned an error.",
		}),
		CallbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "dispatch",
			Name:      "callback_panics_total",
			Help:      "Subscriber callbacks that panicked and were recovered.",
		}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "channelmesh",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Messages waiting in dispatcher worker queues.",
		}),
		ReconcileRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "reconcile",
			Name:      "rounds_total",
			Help:      "Reconciliation rounds executed.",
		}),
		ResubscribeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "reconcile",
			Name:      "resubscribe_retries_total",
			Help:      "Resubscribe commands retried after failure.",
		}),
		ConvergenceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "channelmesh",
			Subsystem: "reconcile",
			Name:      "converged",
			Help:      "Whether the connection's desired and actual sets match (1 or 0).",
		}, []string{"node"}),
		ConvergenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "channelmesh",
			Subsystem: "reconcile",
			Name:      "convergence_seconds",
			Help:      "Time from reconnect to full subscription convergence.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SubscriptionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "channelmesh",
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Active subscriptions in the desired set, by mode.",
		}, []string{"mode"}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "publish",
			Name:      "total",
			Help:      "Publish commands sent, by mode.",
		}, []string{"mode"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelmesh",
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Publish commands that failed.",
		}),
	}

	reg.MustRegister(
		r.MessagesDispatched,
		r.MessagesDropped,
		r.CallbackErrors,
		r.CallbackPanics,
		r.DispatchQueueDepth,
		r.ReconcileRounds,
		r.ResubscribeRetries,
		r.ConvergenceState,
		r.ConvergenceLatency,
		r.SubscriptionsActive,
		r.PublishTotal,
		r.PublishErrors,
	)
	return r
}

// Prometheus returns the underlying registry for custom collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
