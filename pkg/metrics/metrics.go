package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mimir_curation"

var (
	// diffDuration measures the time taken to align the CASes of all raters
	diffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "diff",
		Name:      "duration_seconds",
		Help:      "CAS diff duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// configurationSets counts diff positions.
	// Labels: classification (agreement, disagreement, incomplete)
	configurationSets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "diff",
		Name:      "configuration_sets_total",
		Help:      "Configuration sets produced by the diff by classification",
	}, []string{"classification"})

	// agreementComputations counts agreement calculations.
	// Labels: measure, status (success, nan, error)
	agreementComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agreement",
		Name:      "computations_total",
		Help:      "Agreement computations by measure and status",
	}, []string{"measure", "status"})

	// trainingRuns counts recommender training runs.
	// Labels: tool, status (success, error, skipped)
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recommender",
		Name:      "training_runs_total",
		Help:      "Recommender training runs by tool and status",
	}, []string{"tool", "status"})

	// trainingDuration measures training plus prediction time per recommender.
	// Labels: tool
	trainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "recommender",
		Name:      "training_duration_seconds",
		Help:      "Recommender training and prediction duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"tool"})

	// suggestionsGenerated counts suggestions extracted from predictions.
	// Labels: tool
	suggestionsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recommender",
		Name:      "suggestions_total",
		Help:      "Suggestions generated by tool",
	}, []string{"tool"})

	// queueDepth tracks the number of pending training tasks
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Pending training tasks",
	})
)

// RecordDiff records the duration and classification counts of one diff
func RecordDiff(elapsed time.Duration, agreement, disagreement, incomplete int) {
	diffDuration.Observe(elapsed.Seconds())
	configurationSets.WithLabelValues("agreement").Add(float64(agreement))
	configurationSets.WithLabelValues("disagreement").Add(float64(disagreement))
	configurationSets.WithLabelValues("incomplete").Add(float64(incomplete))
}

// RecordAgreement records one agreement computation
func RecordAgreement(measure, status string) {
	agreementComputations.WithLabelValues(measure, status).Inc()
}

// RecordTraining records one training run
func RecordTraining(tool, status string, elapsed time.Duration) {
	trainingRuns.WithLabelValues(tool, status).Inc()
	trainingDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordSuggestions records generated suggestions
func RecordSuggestions(tool string, count int) {
	suggestionsGenerated.WithLabelValues(tool).Add(float64(count))
}

// SetQueueDepth sets the number of pending training tasks
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}
