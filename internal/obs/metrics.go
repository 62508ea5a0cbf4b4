package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// CheckoutTotal counts checkout creation outcomes.
	CheckoutTotal *prometheus.CounterVec
	// WebhookTotal counts inbound payment webhook processing outcomes.
	WebhookTotal *prometheus.CounterVec
	// RefundTotal counts refund request outcomes.
	RefundTotal *prometheus.CounterVec
	// ProcessorLatency records processor call latency in milliseconds.
	ProcessorLatency *prometheus.HistogramVec
)

// MustRegisterMetrics initialises and registers the bridge's Prometheus
// collectors. Callers that skip registration get nil collectors; all call
// sites nil-guard.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout creation outcomes.",
		}, []string{"result"})
		WebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"result"})
		RefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_total",
			Help:      "Count of refund request outcomes.",
		}, []string{"result"})
		ProcessorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_call_duration_ms",
			Help:      "Latency of outbound processor calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"endpoint"})

		reg.MustRegister(CheckoutTotal, WebhookTotal, RefundTotal, ProcessorLatency)
	})
}
