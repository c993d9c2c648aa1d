// Package telemetry exports chatrelay metrics to Prometheus and traces over OTLP.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

const namespace = "chatrelay"

// Metrics is a chatrelay.NotificationService that counts relay events.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent        prometheus.Counter
	relayFailures       prometheus.Counter
	subscribersDropped  *prometheus.CounterVec
	subscriptionChanges *prometheus.CounterVec
}

// HubStatsFunc returns a snapshot of relay counters.
type HubStatsFunc func() chatrelay.HubStats

// NewMetrics registers the chatrelay collectors on a fresh registry.
// stats may be nil when no hub runs in this process.
func NewMetrics(stats HubStatsFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted by the send endpoint.",
		}),
		relayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failures_total",
			Help:      "Stored messages whose live delivery failed.",
		}),
		subscribersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Connections dropped by the relay.",
		}, []string{"reason"}),
		subscriptionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_changes_total",
			Help:      "Channel joins and leaves.",
		}, []string{"change"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesSent,
		m.relayFailures,
		m.subscribersDropped,
		m.subscriptionChanges,
	)

	if stats != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Open relay connections.",
			}, func() float64 { return float64(stats().Connections) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscriptions",
				Help:      "Active channel subscriptions.",
			}, func() float64 { return float64(stats().Subscriptions) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Events queued to subscriber connections.",
			}, func() float64 { return float64(stats().Delivered) }),
		)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessageSent counts a persisted message.
func (m *Metrics) MessageSent() {
	m.messagesSent.Inc()
}

// NotifyRelayFailure implements chatrelay.NotificationService.
func (m *Metrics) NotifyRelayFailure(_ context.Context, _ model.Message, _ string, _ error) {
	m.relayFailures.Inc()
}

// NotifySubscriberDropped implements chatrelay.NotificationService.
func (m *Metrics) NotifySubscriberDropped(_ context.Context, _, _, reason string) {
	m.subscribersDropped.WithLabelValues(reason).Inc()
}

// NotifySubscriptionCreated implements chatrelay.NotificationService.
func (m *Metrics) NotifySubscriptionCreated(_ context.Context, _, _ string) {
	m.subscriptionChanges.WithLabelValues("created").Inc()
}

// NotifySubscriptionRemoved implements chatrelay.NotificationService.
func (m *Metrics) NotifySubscriptionRemoved(_ context.Context, _, _ string) {
	m.subscriptionChanges.WithLabelValues("removed").Inc()
}

var _ chatrelay.NotificationService = (*Metrics)(nil)
