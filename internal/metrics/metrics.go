// Package metrics exposes checkout and HTTP metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront/internal/checkout"
	"storefront/internal/model"
)

const namespace = "storefront"

// Recorder owns a private registry so tests and multiple hosts in one
// process never collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	polls            *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cartItems        prometheus.Gauge
	cartValue        prometheus.Gauge

	now     func() time.Time
	mu      sync.Mutex
	started time.Time
}

// New creates a recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transitions_total",
			Help:      "Checkout state transitions by target state.",
		}, []string{"state"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_polls_total",
			Help:      "Payment status polls by classified result.",
		}, []string{"result"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Time from session request to a terminal state.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		cartItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cart_items",
			Help:      "Total quantity in the cart.",
		}),
		cartValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cart_subtotal",
			Help:      "Cart subtotal in major currency units.",
		}),
	}

	r.registry.MustRegister(
		r.transitions, r.polls, r.checkoutDuration,
		r.requests, r.requestDuration,
		r.cartItems, r.cartValue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Every state shows up at zero before its first transition.
	for _, s := range checkout.AllStates {
		r.transitions.WithLabelValues(string(s))
	}
	return r
}

// ObserveCheckout records one orchestrator event. Pass it to
// Orchestrator.Subscribe.
func (r *Recorder) ObserveCheckout(ev checkout.Event) {
	if ev.Poll != "" {
		r.polls.WithLabelValues(ev.Poll).Inc()
	}
	if ev.From == ev.To {
		return
	}
	r.transitions.WithLabelValues(string(ev.To)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case ev.To == checkout.SessionRequested:
		r.started = r.now()
	case ev.To.Terminal() && !r.started.IsZero():
		r.checkoutDuration.WithLabelValues(string(ev.To)).Observe(r.now().Sub(r.started).Seconds())
		r.started = time.Time{}
	case ev.To == checkout.Idle:
		r.started = time.Time{}
	}
}

// ObserveRequest matches middleware.ObserveFunc.
func (r *Recorder) ObserveRequest(method, route string, status int, d time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveCart tracks cart size. Pass it to cart.Store.Subscribe.
func (r *Recorder) ObserveCart(c model.Cart) {
	r.cartItems.Set(float64(c.Count))
	r.cartValue.Set(c.Subtotal.InexactFloat64())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
