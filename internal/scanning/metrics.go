package scanning

import "github.com/prometheus/client_golang/prometheus"

var (
	// attemptsTotal counts model calls by result: accepted, mismatch or failed.
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragon_extraction_attempts_total",
			Help: "Extraction attempts by result.",
		},
		[]string{"result"},
	)

	// outcomesTotal counts finished reconciliations: first_attempt, corrected or fallback.
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragon_extraction_outcomes_total",
			Help: "Reconciled extractions by outcome.",
		},
		[]string{"outcome"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragon_model_tokens_total",
			Help: "Model tokens consumed, by direction.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, outcomesTotal, tokensTotal)
}
