// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	VerificationSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_step_transitions_total",
			Help: "Verification step operations by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcomes_total",
			Help: "Terminal verification outcomes by trust state and reason",
		},
		[]string{"state", "reason"},
	)

	ScoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoring_request_duration_seconds",
			Help:    "Duration of scoring gateway calls",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	ScoringInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoring_requests_in_flight",
			Help: "Scoring submissions currently awaiting a response",
		},
	)

	MilestoneTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_milestone_transitions_total",
			Help: "Milestone status transitions",
		},
		[]string{"from", "to"},
	)

	ReleasedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_released_amount_minor_units_total",
			Help: "Sum of released milestone amounts in minor currency units",
		},
	)

	OfferTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_offer_transitions_total",
			Help: "Offer log actions",
		},
		[]string{"action"},
	)
)
