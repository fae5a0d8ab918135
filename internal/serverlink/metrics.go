package serverlink

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus instruments for one server link.
type Metrics struct {
	samplesEnqueued   prometheus.Counter
	samplesSent       prometheus.Counter
	samplesDropped    prometheus.Counter
	commandsReceived  prometheus.Counter
	commandsDiscarded *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connected         prometheus.Gauge
}

// NewMetrics creates and registers the link metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "samples_enqueued_total",
			Help:      "Samples accepted into the outbound buffer",
		}),
		samplesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "samples_sent_total",
			Help:      "Sample frames written to the server connection",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "samples_dropped_total",
			Help:      "Samples evicted from the outbound buffer (oldest first)",
		}),
		commandsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "commands_received_total",
			Help:      "Command frames accepted from the server",
		}),
		commandsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "commands_discarded_total",
			Help:      "Command frames discarded before delivery",
		}, []string{"reason"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts to the interpretation service",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brainpilot",
			Subsystem: "serverlink",
			Name:      "connected",
			Help:      "1 while the server session is established",
		}),
	}

	reg.MustRegister(
		m.samplesEnqueued,
		m.samplesSent,
		m.samplesDropped,
		m.commandsReceived,
		m.commandsDiscarded,
		m.reconnectAttempts,
		m.connected,
	)
	return m
}
