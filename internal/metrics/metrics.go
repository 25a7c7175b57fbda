package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "featuredfeed"

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Events       *prometheus.CounterVec
	Resolutions  *prometheus.CounterVec
	EventErrors  *prometheus.CounterVec
	FeedRecords  prometheus.Gauge
	FeedChannels prometheus.Gauge
	Pending      prometheus.Gauge
	Publishes    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Platform events handled, by kind and admission result.",
		}, []string{"kind", "admission"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Moderator replies resolved, by outcome.",
		}, []string{"outcome"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Events whose handling failed, by error class.",
		}, []string{"class"}),
		FeedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_records",
			Help:      "Records currently retained in the feed.",
		}),
		FeedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_channels",
			Help:      "Channel buckets currently in the feed.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Records waiting for a moderator decision.",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Static feed publish runs, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Events, m.Resolutions, m.EventErrors,
		m.FeedRecords, m.FeedChannels, m.Pending,
		m.Publishes,
	)
	return m
}

// SetState records the latest status snapshot.
func (m *Metrics) SetState(channels, records, pending int) {
	m.FeedChannels.Set(float64(channels))
	m.FeedRecords.Set(float64(records))
	m.Pending.Set(float64(pending))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
