package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// connectionStates are the label values exported by the state gauge
var connectionStates = []string{"idle", "connecting", "connected", "broken"}

// PrometheusProvider implements the Provider interface using Prometheus.
// Each provider owns its registry so several can coexist in one process.
type PrometheusProvider struct {
	registry *prometheus.Registry

	connectionState     *prometheus.GaugeVec
	connectAttempts     *prometheus.CounterVec
	reconnectAttempts   prometheus.Gauge
	activeSubscriptions prometheus.Gauge
	messagesDelivered   prometheus.Counter
	messagesDropped     *prometheus.CounterVec
	polls               *prometheus.CounterVec
}

// NewPrometheusProvider creates a new Prometheus metrics provider.
// A nil config uses DefaultConfig.
func NewPrometheusProvider(cfg *Config) *PrometheusProvider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &PrometheusProvider{
		registry: reg,
		connectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "connection_state",
				Help:      "Current phase of the shared connection (1 for the active phase)",
			},
			[]string{"state"},
		),
		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "connect_attempts_total",
				Help:      "Total number of connect attempts by result",
			},
			[]string{"result"},
		),
		reconnectAttempts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "reconnect_attempts",
				Help:      "Consecutive failed connect attempts since the last success",
			},
		),
		activeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_subscriptions",
				Help:      "Number of registered topic subscriptions",
			},
		),
		messagesDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "messages_delivered_total",
				Help:      "Total number of messages handed to subscribers",
			},
		),
		messagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "messages_dropped_total",
				Help:      "Total number of messages dropped before reaching a subscriber",
			},
			[]string{"reason"},
		),
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "polls_total",
				Help:      "Total number of poll loop ticks by loop and result",
			},
			[]string{"loop", "result"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

// SetConnectionState implements Provider interface
func (p *PrometheusProvider) SetConnectionState(state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.connectionState.WithLabelValues(s).Set(value)
	}
}

// RecordConnectAttempt implements Provider interface
func (p *PrometheusProvider) RecordConnectAttempt(result string) {
	p.connectAttempts.WithLabelValues(result).Inc()
}

// SetReconnectAttempts implements Provider interface
func (p *PrometheusProvider) SetReconnectAttempts(n int) {
	p.reconnectAttempts.Set(float64(n))
}

// SetActiveSubscriptions implements Provider interface
func (p *PrometheusProvider) SetActiveSubscriptions(n int) {
	p.activeSubscriptions.Set(float64(n))
}

// RecordMessageDelivered implements Provider interface
func (p *PrometheusProvider) RecordMessageDelivered() {
	p.messagesDelivered.Inc()
}

// RecordMessageDropped implements Provider interface
func (p *PrometheusProvider) RecordMessageDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

// RecordPoll implements Provider interface
func (p *PrometheusProvider) RecordPoll(loop, result string) {
	p.polls.WithLabelValues(loop, result).Inc()
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
