package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "jobs_claimed_total",
		Help:      "Jobs claimed by workers, including lease reclaims.",
	})

	stageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "stage_outcomes_total",
		Help:      "Stage execution outcomes by stage and outcome kind.",
	}, []string{"stage", "outcome"})

	retriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "retries_scheduled_total",
		Help:      "Retries scheduled, by failure code.",
	}, []string{"code"})

	jobsDeadlettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "jobs_deadlettered_total",
		Help:      "Jobs dead-lettered, by failure code.",
	}, []string{"code"})

	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "jobs_completed_total",
		Help:      "Jobs that reached the embedded stage.",
	})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "jobs_in_flight",
		Help:      "Jobs currently executing in this process.",
	})

	eventWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coverline",
		Subsystem: "pipeline",
		Name:      "event_write_failures_total",
		Help:      "Event log writes that failed and were dropped.",
	})
)
