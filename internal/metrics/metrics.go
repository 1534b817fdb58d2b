package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_engine_builds_processed_total",
			Help: "Total number of build notifications processed",
		},
		[]string{"project", "result"},
	)

	ChallengesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_engine_challenges_generated_total",
			Help: "Total number of challenges handed out",
		},
		[]string{"kind"},
	)

	ChallengesSolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_engine_challenges_solved_total",
			Help: "Total number of challenges solved",
		},
		[]string{"kind"},
	)

	ChallengesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_engine_challenges_rejected_total",
			Help: "Total number of challenges rejected as unsolvable or by the user",
		},
		[]string{"kind"},
	)

	GenerationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_engine_generation_fallbacks_total",
			Help: "Total number of times generation fell back to a dummy challenge",
		},
	)

	UserFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_engine_user_failures_total",
			Help: "Total number of per-user processing failures",
		},
	)

	BuildProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "challenge_engine_build_processing_duration_seconds",
			Help:    "Time taken to process one build notification",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatisticsRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_engine_statistics_repaired_total",
			Help: "Total number of run entries synthesised by the backfill worker",
		},
	)
)
