package recommendation

import (
	"cmp"
	"slices"
	"sort"
	"sync"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
)

// PredictedFeature marks an annotation as a prediction
const PredictedFeature = "predicted"

// ScoreFeature returns the name of the feature holding the score of a predicted label
func ScoreFeature(feature string) string { return feature + "_score" }

// ExplanationFeature returns the name of the feature holding the explanation of a score
func ExplanationFeature(feature string) string { return feature + "_score_explanation" }

// AddPrediction writes a prediction for the recommender's layer and feature into the CAS
func AddPrediction(c *cas.CAS, rec Recommender, begin, end int, label string, score float64, explanation string) *cas.FeatureStructure {
	features := map[string]any{
		rec.Feature:               label,
		ScoreFeature(rec.Feature): score,
		PredictedFeature:          true,
	}
	if explanation != "" {
		features[ExplanationFeature(rec.Feature)] = explanation
	}
	return c.Annotate(rec.Layer, begin, end, features)
}

// SpanSuggestion is a predicted span label offered to a user
type SpanSuggestion struct {
	ID              int     `json:"id"`
	RecommenderID   string  `json:"recommender_id"`
	RecommenderName string  `json:"recommender_name"`
	Layer           string  `json:"layer"`
	Feature         string  `json:"feature"`
	DocumentName    string  `json:"document_name"`
	Begin           int     `json:"begin"`
	End             int     `json:"end"`
	CoveredText     string  `json:"covered_text"`
	Label           string  `json:"label"`
	Score           float64 `json:"score"`
	Explanation     string  `json:"explanation,omitempty"`
	Hidden          bool    `json:"hidden"`
}

// ExtractSuggestions removes the predictions of a recommender from the CAS and returns them
// as suggestions. Predictions below the recommender threshold are dropped and at most
// MaxRecommendations suggestions are kept per span, best scores first.
func ExtractSuggestions(c *cas.CAS, documentName string, rec Recommender) []SpanSuggestion {
	var suggestions []SpanSuggestion
	for _, fs := range c.Select(rec.Layer) {
		if !fs.FeatureBool(PredictedFeature) {
			continue
		}
		c.Remove(fs)

		score, _ := fs.FeatureFloat(ScoreFeature(rec.Feature))
		if score < rec.Threshold {
			continue
		}
		label, _ := fs.FeatureString(rec.Feature)
		explanation, _ := fs.FeatureString(ExplanationFeature(rec.Feature))
		suggestions = append(suggestions, SpanSuggestion{
			RecommenderID:   rec.ID,
			RecommenderName: rec.Name,
			Layer:           rec.Layer,
			Feature:         rec.Feature,
			DocumentName:    documentName,
			Begin:           fs.Begin,
			End:             fs.End,
			CoveredText:     c.CoveredText(fs),
			Label:           label,
			Score:           score,
			Explanation:     explanation,
		})
	}

	if rec.MaxRecommendations > 0 {
		var limited []SpanSuggestion
		for _, group := range GroupSuggestions(suggestions) {
			limited = append(limited, group.Top(rec.MaxRecommendations)...)
		}
		suggestions = limited
	}

	for i := range suggestions {
		suggestions[i].ID = i + 1
	}
	return suggestions
}

// SuggestionGroup holds the suggestions for one span
type SuggestionGroup struct {
	Begin       int
	End         int
	suggestions []*SpanSuggestion
}

// Suggestions returns the suggestions ordered by descending score
func (g *SuggestionGroup) Suggestions() []*SpanSuggestion {
	return g.suggestions
}

// Top returns copies of at most n best suggestions
func (g *SuggestionGroup) Top(n int) []SpanSuggestion {
	var result []SpanSuggestion
	for i, s := range g.suggestions {
		if i >= n {
			break
		}
		result = append(result, *s)
	}
	return result
}

// Best returns the visible suggestion with the highest score, or nil
func (g *SuggestionGroup) Best() *SpanSuggestion {
	for _, s := range g.suggestions {
		if !s.Hidden {
			return s
		}
	}
	return nil
}

// GroupSuggestions groups suggestions by span in document order. The groups point into the
// given slice so that hiding a suggestion through a group is visible to the caller.
func GroupSuggestions(suggestions []SpanSuggestion) []*SuggestionGroup {
	index := make(map[[2]int]*SuggestionGroup)
	var groups []*SuggestionGroup
	for i := range suggestions {
		s := &suggestions[i]
		key := [2]int{s.Begin, s.End}
		group, ok := index[key]
		if !ok {
			group = &SuggestionGroup{Begin: s.Begin, End: s.End}
			index[key] = group
			groups = append(groups, group)
		}
		group.suggestions = append(group.suggestions, s)
	}

	for _, g := range groups {
		sort.SliceStable(g.suggestions, func(i, j int) bool {
			return g.suggestions[i].Score > g.suggestions[j].Score
		})
	}
	slices.SortFunc(groups, func(a, b *SuggestionGroup) int {
		return cmp.Or(cmp.Compare(a.Begin, b.Begin), cmp.Compare(b.End, a.End))
	})
	return groups
}

// HideSuggestionsMatchingAnnotations hides suggestions whose label the user already
// annotated at the same span and returns how many were hidden
func HideSuggestionsMatchingAnnotations(groups []*SuggestionGroup, c *cas.CAS, layer, feature string) int {
	existing := make(map[[2]int]map[string]bool)
	for _, fs := range c.Select(layer) {
		if fs.FeatureBool(PredictedFeature) {
			continue
		}
		label, ok := fs.FeatureString(feature)
		if !ok {
			continue
		}
		key := [2]int{fs.Begin, fs.End}
		if existing[key] == nil {
			existing[key] = make(map[string]bool)
		}
		existing[key][label] = true
	}

	hidden := 0
	for _, g := range groups {
		labels := existing[[2]int{g.Begin, g.End}]
		for _, s := range g.suggestions {
			if !s.Hidden && labels[s.Label] {
				s.Hidden = true
				hidden++
			}
		}
	}
	return hidden
}

// Predictions holds the suggestions of one user per document. The generation is increased
// by the scheduler every time a new set of predictions replaces the previous one.
type Predictions struct {
	mu         sync.RWMutex
	owner      string
	generation int
	byDocument map[string][]SpanSuggestion
}

// NewPredictions creates an empty prediction set
func NewPredictions(owner string, generation int) *Predictions {
	return &Predictions{
		owner:      owner,
		generation: generation,
		byDocument: make(map[string][]SpanSuggestion),
	}
}

// Owner returns the user the predictions belong to
func (p *Predictions) Owner() string { return p.owner }

// Generation returns the generation counter
func (p *Predictions) Generation() int { return p.generation }

// Add appends suggestions for a document
func (p *Predictions) Add(documentName string, suggestions []SpanSuggestion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byDocument[documentName] = append(p.byDocument[documentName], suggestions...)
}

// Suggestions returns a copy of the suggestions of a document
func (p *Predictions) Suggestions(documentName string) []SpanSuggestion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.byDocument[documentName])
}

// Documents returns the names of documents with suggestions
func (p *Predictions) Documents() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	docs := make([]string, 0, len(p.byDocument))
	for doc := range p.byDocument {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	return docs
}

// Count returns the total number of suggestions
func (p *Predictions) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, s := range p.byDocument {
		n += len(s)
	}
	return n
}
