package recommendation

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sjwhitworth/golearn/evaluation"

	"github.com/mimir-aip/mimir-curation/pkg/models"
)

// NoLabel is the predicted label of a test item the engine had no prediction for
const NoLabel = "<none>"

// LabelPair is the gold and predicted label of one test item
type LabelPair struct {
	Gold      string
	Predicted string
}

// EvaluationResult holds the outcome of an engine evaluation
type EvaluationResult struct {
	TrainingSetSize int
	TestSetSize     int
	Matrix          evaluation.ConfusionMatrix
	Skipped         bool
	SkipReason      string
	Duration        time.Duration
}

// NewEvaluationResult builds the confusion matrix of gold against predicted labels
func NewEvaluationResult(pairs []LabelPair, trainingSetSize, testSetSize int) *EvaluationResult {
	matrix := make(evaluation.ConfusionMatrix)
	for _, p := range pairs {
		predicted := p.Predicted
		if predicted == "" {
			predicted = NoLabel
		}
		if matrix[p.Gold] == nil {
			matrix[p.Gold] = make(map[string]int)
		}
		matrix[p.Gold][predicted]++
	}
	return &EvaluationResult{
		TrainingSetSize: trainingSetSize,
		TestSetSize:     testSetSize,
		Matrix:          matrix,
	}
}

// SkippedEvaluation reports an evaluation that could not run
func SkippedEvaluation(reason string, trainingSetSize, testSetSize int) *EvaluationResult {
	return &EvaluationResult{
		TrainingSetSize: trainingSetSize,
		TestSetSize:     testSetSize,
		Matrix:          make(evaluation.ConfusionMatrix),
		Skipped:         true,
		SkipReason:      reason,
	}
}

func (r *EvaluationResult) empty() bool {
	return r.Skipped || len(r.Matrix) == 0
}

// Accuracy returns the share of correctly predicted test items, NaN when nothing was tested
func (r *EvaluationResult) Accuracy() float64 {
	if r.empty() {
		return math.NaN()
	}
	return evaluation.GetAccuracy(r.Matrix)
}

// MacroPrecision averages precision over the gold labels
func (r *EvaluationResult) MacroPrecision() float64 {
	return r.macro(evaluation.GetPrecision)
}

// MacroRecall averages recall over the gold labels
func (r *EvaluationResult) MacroRecall() float64 {
	return r.macro(evaluation.GetRecall)
}

// MacroF1 averages the F1 score over the gold labels
func (r *EvaluationResult) MacroF1() float64 {
	return r.macro(evaluation.GetF1Score)
}

// macro averages a per label metric, skipping labels where it is undefined
func (r *EvaluationResult) macro(metric func(string, evaluation.ConfusionMatrix) float64) float64 {
	if r.empty() {
		return math.NaN()
	}
	sum, n := 0.0, 0
	for _, label := range r.Labels() {
		v := metric(label, r.Matrix)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Labels returns the gold labels in sorted order
func (r *EvaluationResult) Labels() []string {
	labels := make([]string, 0, len(r.Matrix))
	for label := range r.Matrix {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Summary renders the per label metrics as a table
func (r *EvaluationResult) Summary() string {
	if r.empty() {
		return "evaluation skipped: " + r.SkipReason
	}
	return evaluation.GetSummary(r.Matrix)
}

// Record converts the result into a persistable evaluation record
func (r *EvaluationResult) Record(rec Recommender) *models.EvaluationRecord {
	return &models.EvaluationRecord{
		ID:              uuid.New().String(),
		RecommenderID:   rec.ID,
		Tool:            rec.Tool,
		TrainingSetSize: r.TrainingSetSize,
		TestSetSize:     r.TestSetSize,
		Accuracy:        models.OptionalScore(r.Accuracy()),
		Precision:       models.OptionalScore(r.MacroPrecision()),
		Recall:          models.OptionalScore(r.MacroRecall()),
		F1:              models.OptionalScore(r.MacroF1()),
		Skipped:         r.Skipped,
		SkipReason:      r.SkipReason,
		CreatedAt:       time.Now().UTC(),
	}
}
