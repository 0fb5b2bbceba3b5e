package models

import "time"

// TrainingTaskStatus represents the current status of a training task
type TrainingTaskStatus string

const (
	TrainingTaskStatusQueued    TrainingTaskStatus = "queued"
	TrainingTaskStatusRunning   TrainingTaskStatus = "running"
	TrainingTaskStatusCompleted TrainingTaskStatus = "completed"
	TrainingTaskStatusFailed    TrainingTaskStatus = "failed"
	TrainingTaskStatusCancelled TrainingTaskStatus = "cancelled"
)

// TrainingTrigger names what caused a training run
type TrainingTrigger string

const (
	TrainingTriggerManual     TrainingTrigger = "manual"
	TrainingTriggerAnnotation TrainingTrigger = "annotation"
	TrainingTriggerSchedule   TrainingTrigger = "schedule"
)

// TrainingTask is one train-and-predict run of a recommender for a user
type TrainingTask struct {
	ID              string             `json:"id"`
	RecommenderID   string             `json:"recommender_id"`
	User            string             `json:"user"`
	Trigger         TrainingTrigger    `json:"trigger"`
	Status          TrainingTaskStatus `json:"status"`
	Priority        int                `json:"priority"`
	SubmittedAt     time.Time          `json:"submitted_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	DocumentCount   int                `json:"document_count"`
	SuggestionCount int                `json:"suggestion_count"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ContextMessages []string           `json:"context_messages,omitempty"`
}

// IsTerminal reports whether the task will not change state again
func (t *TrainingTask) IsTerminal() bool {
	switch t.Status {
	case TrainingTaskStatusCompleted, TrainingTaskStatusFailed, TrainingTaskStatusCancelled:
		return true
	default:
		return false
	}
}

// EvaluationRecord is a persisted recommender evaluation
type EvaluationRecord struct {
	ID              string    `json:"id"`
	RecommenderID   string    `json:"recommender_id"`
	Tool            string    `json:"tool"`
	TrainingSetSize int       `json:"training_set_size"`
	TestSetSize     int       `json:"test_set_size"`
	Accuracy        *float64  `json:"accuracy"`
	Precision       *float64  `json:"precision"`
	Recall          *float64  `json:"recall"`
	F1              *float64  `json:"f1"`
	Skipped         bool      `json:"skipped"`
	SkipReason      string    `json:"skip_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
