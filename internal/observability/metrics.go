package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors the gateway records into.
type Metrics struct {
	// Messages counts inbound and outbound messages per channel.
	Messages *prometheus.CounterVec

	// RunDuration measures agent runs end to end, labelled by the
	// originating channel and success|error.
	RunDuration *prometheus.HistogramVec

	// ActiveRuns tracks in-flight agent runs per channel.
	ActiveRuns *prometheus.GaugeVec

	// CronDispatches counts scheduler fires by job id and outcome.
	CronDispatches *prometheus.CounterVec

	// Heartbeats counts heartbeat runs by outcome (ok, surfaced,
	// error).
	Heartbeats *prometheus.CounterVec

	// Errors counts failures by component and kind.
	Errors *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in the gateway and a fresh registry in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squidbot_messages_total",
				Help: "Messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squidbot_agent_run_duration_seconds",
				Help:    "Agent run duration from inbound message to final reply",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"channel", "status"},
		),
		ActiveRuns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "squidbot_active_runs",
				Help: "Agent runs currently in flight by channel",
			},
			[]string{"channel"},
		),
		CronDispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squidbot_cron_dispatches_total",
				Help: "Cron job dispatches by job and outcome",
			},
			[]string{"job", "status"},
		),
		Heartbeats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squidbot_heartbeats_total",
				Help: "Heartbeat runs by outcome",
			},
			[]string{"status"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squidbot_errors_total",
				Help: "Errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}

// MessageReceived counts one inbound message.
func (m *Metrics) MessageReceived(channel string) {
	m.Messages.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent counts one delivered reply.
func (m *Metrics) MessageSent(channel string) {
	m.Messages.WithLabelValues(channel, "outbound").Inc()
}

// RunStarted marks an agent run in flight.
func (m *Metrics) RunStarted(channel string) {
	m.ActiveRuns.WithLabelValues(channel).Inc()
}

// RunFinished ends an in-flight run and records its duration.
func (m *Metrics) RunFinished(channel, status string, seconds float64) {
	m.ActiveRuns.WithLabelValues(channel).Dec()
	m.RunDuration.WithLabelValues(channel, status).Observe(seconds)
}

// CronDispatched counts one scheduler fire.
func (m *Metrics) CronDispatched(job, status string) {
	m.CronDispatches.WithLabelValues(job, status).Inc()
}

// HeartbeatResult counts one heartbeat run.
func (m *Metrics) HeartbeatResult(status string) {
	m.Heartbeats.WithLabelValues(status).Inc()
}

// RecordError counts one failure.
func (m *Metrics) RecordError(component, kind string) {
	m.Errors.WithLabelValues(component, kind).Inc()
}

// MetricsHandler serves the default registry in Prometheus text
// format; the gateway mounts it at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
