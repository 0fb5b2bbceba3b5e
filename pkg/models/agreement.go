package models

import (
	"encoding/json"
	"math"
	"time"
)

// AgreementReport is a persisted inter-annotator agreement computation
type AgreementReport struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id,omitempty"`
	Layer     string          `json:"layer"`
	Feature   string          `json:"feature"`
	Measure   string          `json:"measure"`
	Raters    []string        `json:"raters"`
	Agreement *float64        `json:"agreement"` // nil when the measure is undefined
	Pairwise  []PairwiseScore `json:"pairwise,omitempty"`
	Study     StudyCounts     `json:"study"`
	CreatedAt time.Time       `json:"created_at"`
}

// PairwiseScore is the agreement between two raters
type PairwiseScore struct {
	RaterA    string   `json:"rater_a"`
	RaterB    string   `json:"rater_b"`
	Agreement *float64 `json:"agreement"`
}

// StudyCounts summarises the coding study an agreement was computed on
type StudyCounts struct {
	Items                int `json:"items"`
	Categories           int `json:"categories"`
	IncompleteByPosition int `json:"incomplete_by_position"`
	IncompleteByLabel    int `json:"incomplete_by_label"`
	Stacked              int `json:"stacked"`
	Irrelevant           int `json:"irrelevant"`
	UnknownLabel         int `json:"unknown_label"`
}

// OptionalScore converts a score for JSON encoding, mapping NaN and infinities to nil
func OptionalScore(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// AgreementReportRequest asks for agreement over CASes supplied inline as JSON documents.
// When LinkMode is set, Feature names a link feature of the layer.
type AgreementReportRequest struct {
	ProjectID string                     `json:"project_id,omitempty"`
	Layer     string                     `json:"layer"`
	Feature   string                     `json:"feature"`
	Measure   string                     `json:"measure,omitempty"`
	Kind      string                     `json:"kind,omitempty"` // span, relation or document
	Source    string                     `json:"source_feature,omitempty"`
	Target    string                     `json:"target_feature,omitempty"`
	LinkMode  string                     `json:"link_mode,omitempty"`
	Pairwise  bool                       `json:"pairwise,omitempty"`
	Tagset    []string                   `json:"tagset,omitempty"`
	Documents map[string]json.RawMessage `json:"documents"` // user -> CAS JSON
}
