package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weave/storefront/internal/services"
)

const namespace = "storefront"

// Registry owns the process's Prometheus collectors and records checkout and reconcile outcomes.
type Registry struct {
	reg *prometheus.Registry

	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	terminalSkips     *prometheus.CounterVec
	checkouts         *prometheus.CounterVec
}

var (
	_ services.ReconcileRecorder = (*Registry)(nil)
	_ services.CheckoutRecorder  = (*Registry)(nil)
)

// NewRegistry registers every collector, including Go runtime and process collectors.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_total",
		Help:      "Order line reconciliations by outcome.",
	}, []string{"outcome"})
	reconcileDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Wall time of one order line reconciliation, carrier fetch included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	terminalSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_terminal_skipped_total",
		Help:      "Carrier updates ignored because the line is terminal-protected.",
	}, []string{"status"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_orders_total",
		Help:      "Order placement attempts by result.",
	}, []string{"result"})

	r.MustRegister(
		reconciles,
		reconcileDuration,
		terminalSkips,
		checkouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:               r,
		reconciles:        reconciles,
		reconcileDuration: reconcileDuration,
		terminalSkips:     terminalSkips,
		checkouts:         checkouts,
	}
}

func (r *Registry) RecordReconcile(outcome services.ReconcileOutcome, duration time.Duration) {
	r.reconciles.WithLabelValues(string(outcome)).Inc()
	r.reconcileDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (r *Registry) RecordTerminalSkip(status services.OrderLineStatus) {
	r.terminalSkips.WithLabelValues(string(status)).Inc()
}

func (r *Registry) RecordCheckout(result string) {
	r.checkouts.WithLabelValues(result).Inc()
}

// Gatherer exposes the underlying registry, mainly for tests and pushers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
