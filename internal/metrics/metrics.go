package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

const (
	// OutcomeProvider labels interpretations answered by an LLM provider.
	OutcomeProvider = "provider"
	// OutcomeRuleBased labels interpretations served by the rule-based fallback.
	OutcomeRuleBased = "rule_based"
)

var (
	interpretationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneiro",
			Name:      "interpretations_total",
			Help:      "Total number of interpretations served, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	interpretationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "oneiro",
			Name:      "interpretation_seconds",
			Help:      "End-to-end interpretation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	providerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneiro",
			Name:      "provider_attempts_total",
			Help:      "Provider cascade attempts, partitioned by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneiro",
			Name:      "rate_limited_total",
			Help:      "Requests denied by the sliding-window limiter, partitioned by scope.",
		},
		[]string{"scope"},
	)

	reviewFlaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oneiro",
			Name:      "review_flagged_total",
			Help:      "Interpretations flagged for human review by the quality gate.",
		},
	)
)

// Register attaches the service collectors to the supplied Prometheus
// registerer. Re-registration is tolerated so tests can share the default
// registry.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		interpretationsTotal,
		interpretationDurationSeconds,
		providerAttemptsTotal,
		rateLimitedTotal,
		reviewFlaggedTotal,
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

// ObserveInterpretation records one finished interpretation: its latency,
// whether a provider or the fallback answered, each cascade attempt and the
// review flag.
func ObserveInterpretation(duration time.Duration, result models.AnalysisResult) {
	outcome := OutcomeProvider
	if result.ModelUsed == models.ModelRuleBased {
		outcome = OutcomeRuleBased
	}
	interpretationsTotal.WithLabelValues(outcome).Inc()

	if duration < 0 {
		duration = 0
	}
	interpretationDurationSeconds.Observe(duration.Seconds())

	for _, attempt := range result.Attempts {
		providerAttemptsTotal.WithLabelValues(attempt.Provider, string(attempt.Outcome)).Inc()
	}
	if result.RequiresHumanReview {
		reviewFlaggedTotal.Inc()
	}
}

// ObserveRateLimited records one denied admission.
func ObserveRateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
}
