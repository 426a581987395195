package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAccepted labels signals that created a new incident.
	OutcomeAccepted = "accepted"
	// OutcomeDuplicate labels signals dropped by duplicate suppression.
	OutcomeDuplicate = "duplicate"
	// OutcomeSuppressed labels signals filtered out by the pattern matcher.
	OutcomeSuppressed = "suppressed"
	// OutcomeMalformed labels signals rejected as unreadable.
	OutcomeMalformed = "malformed"

	// OutcomeSuccess labels completed stage executions and deliveries.
	OutcomeSuccess = "success"
	// OutcomeFailure labels failed stage executions and deliveries.
	OutcomeFailure = "failure"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "signals_total",
			Help:      "Signals observed by monitors, partitioned by monitor and submission outcome.",
		},
		[]string{"monitor", "outcome"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "incidents_total",
			Help:      "Incidents reaching a terminal state, partitioned by state and severity.",
		},
		[]string{"state", "severity"},
	)

	activeIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_ir",
			Name:      "active_incidents",
			Help:      "Number of incidents currently in a non-terminal state.",
		},
	)

	stageExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "stage_executions_total",
			Help:      "Pipeline stage executions, partitioned by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	advanceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_ir",
			Name:      "advance_seconds",
			Help:      "Latency of a single pipeline advancement in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	autoResolutionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "auto_resolutions_total",
			Help:      "Incidents closed by the resolver sweep using historical fixes.",
		},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "deliveries_total",
			Help:      "Escalation notifications and report emissions, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// Register attaches the engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		signalsTotal,
		incidentsTotal,
		activeIncidents,
		stageExecutionsTotal,
		advanceDurationSeconds,
		autoResolutionsTotal,
		deliveriesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSignal records one monitor submission outcome.
func ObserveSignal(monitor, outcome string) {
	signalsTotal.WithLabelValues(monitor, outcome).Inc()
}

// ObserveTerminal records an incident reaching a terminal state.
func ObserveTerminal(state, severity string) {
	incidentsTotal.WithLabelValues(state, severity).Inc()
}

// SetActiveIncidents updates the active incident gauge.
func SetActiveIncidents(n int) {
	activeIncidents.Set(float64(n))
}

// ObserveStage records one stage execution and its outcome.
func ObserveStage(stage, outcome string, duration time.Duration) {
	stageExecutionsTotal.WithLabelValues(stage, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	advanceDurationSeconds.Observe(duration.Seconds())
}

// ObserveAutoResolution records one resolver-driven closure.
func ObserveAutoResolution() {
	autoResolutionsTotal.Inc()
}

// ObserveDelivery records a notification or report emission attempt.
func ObserveDelivery(kind, outcome string) {
	deliveriesTotal.WithLabelValues(kind, outcome).Inc()
}
