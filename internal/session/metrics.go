package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus instruments for the session core.
type Metrics struct {
	samplesForwarded   prometheus.Counter
	commandsDispatched prometheus.Counter
	commandsRejected   *prometheus.CounterVec
	commandsDropped    prometheus.Counter
	stateTransitions   *prometheus.CounterVec
}

// NewMetrics creates and registers the session metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "session",
			Name:      "samples_forwarded_total",
			Help:      "Samples handed to the server link",
		}),
		commandsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "session",
			Name:      "commands_dispatched_total",
			Help:      "Commands accepted by the drone",
		}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "session",
			Name:      "commands_rejected_total",
			Help:      "Commands refused locally by the safety policy",
		}, []string{"reason"}),
		commandsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "session",
			Name:      "commands_dropped_total",
			Help:      "Commands lost at dispatch (timeout or link failure)",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainpilot",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state machine transitions",
		}, []string{"to"}),
	}

	reg.MustRegister(
		m.samplesForwarded,
		m.commandsDispatched,
		m.commandsRejected,
		m.commandsDropped,
		m.stateTransitions,
	)
	return m
}
