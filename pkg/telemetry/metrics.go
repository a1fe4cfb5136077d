// Package telemetry exposes Prometheus observability primitives for the
// capture pipeline. Recording methods are nil-safe so library users who do not
// care about metrics can thread a nil *Metrics through.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	eventsCaptured   *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	queueOverflow    prometheus.Counter
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	deliveryRetries  prometheus.Counter
	batchesDropped   prometheus.Counter
	webhookEvents    *prometheus.CounterVec
}

// NewMetrics builds and registers pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	eventsCaptured := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outlit_events_captured_total",
		Help: "Tracking calls by outcome (accepted, consent_denied, closed).",
	}, []string{"outcome"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outlit_queue_depth",
		Help: "Events currently waiting for delivery.",
	})

	queueOverflow := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outlit_queue_overflow_total",
		Help: "Events evicted because the queue was at capacity.",
	})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outlit_deliveries_total",
		Help: "Batch delivery attempts by status (delivered, failed).",
	}, []string{"status"})

	deliveryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outlit_delivery_duration_seconds",
		Help:    "Batch delivery latency including retries.",
		Buckets: prometheus.DefBuckets,
	})

	deliveryRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outlit_delivery_retries_total",
		Help: "Individual delivery attempts that were retried.",
	})

	batchesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outlit_batches_dropped_total",
		Help: "Batches dropped after exhausting the requeue budget.",
	})

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outlit_webhook_events_total",
		Help: "Billing webhook events by provider and result.",
	}, []string{"provider", "result"})

	if reg != nil {
		reg.MustRegister(
			eventsCaptured,
			queueDepth,
			queueOverflow,
			deliveries,
			deliveryDuration,
			deliveryRetries,
			batchesDropped,
			webhookEvents,
		)
	}

	return &Metrics{
		eventsCaptured:   eventsCaptured,
		queueDepth:       queueDepth,
		queueOverflow:    queueOverflow,
		deliveries:       deliveries,
		deliveryDuration: deliveryDuration,
		deliveryRetries:  deliveryRetries,
		batchesDropped:   batchesDropped,
		webhookEvents:    webhookEvents,
	}
}

func (m *Metrics) EventCaptured(outcome string) {
	if m == nil {
		return
	}
	m.eventsCaptured.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueOverflow() {
	if m == nil {
		return
	}
	m.queueOverflow.Inc()
}

func (m *Metrics) DeliveryDone(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
	m.deliveryDuration.Observe(took.Seconds())
}

func (m *Metrics) DeliveryRetried() {
	if m == nil {
		return
	}
	m.deliveryRetries.Inc()
}

func (m *Metrics) BatchDropped() {
	if m == nil {
		return
	}
	m.batchesDropped.Inc()
}

func (m *Metrics) WebhookEvent(provider, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, result).Inc()
}
