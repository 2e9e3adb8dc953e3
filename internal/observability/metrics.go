// Package observability holds the bot's Prometheus instruments.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	ActiveGenerations prometheus.Gauge
	GatewayEvents     *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	StreamChunks      prometheus.Counter
	MessageSplits     prometheus.Counter
	MessagesSent      prometheus.Counter
	MessageEdits      prometheus.Counter
	GenerationErrors  *prometheus.CounterVec
	GenerationLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveGenerations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_generations",
			Help:      "Number of completions currently being streamed.",
		}),
		GatewayEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_total",
			Help:      "Gateway dispatches by event type.",
		}, []string{"event"}),
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Bot commands by name and outcome.",
		}, []string{"command", "outcome"}),
		StreamChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Completion chunks received from llama.cpp.",
		}),
		MessageSplits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_splits_total",
			Help:      "Responses split across an extra Discord message.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Discord messages created by the bot.",
		}),
		MessageEdits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_edits_total",
			Help:      "Discord message edits issued while streaming.",
		}),
		GenerationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Failed generations by reason.",
		}, []string{"reason"}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_ms",
			Help:      "End-to-end completion duration in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}),
	}
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
