package agreement

import (
	"math"
	"slices"
	"sort"

	"github.com/mimir-aip/mimir-curation/pkg/models"
)

// AgreementResult is an agreement score together with the study it was computed on
type AgreementResult struct {
	Type        string
	Feature     string
	Measure     string
	Study       *CodingAnnotationStudy
	Agreement   float64
	CasGroupIDs []string
}

// IsAllNull reports whether none of the raters assigned a label to any item
func (r *AgreementResult) IsAllNull() bool {
	for _, item := range r.Study.Items() {
		if item.CodedCount() > 0 {
			return false
		}
	}
	return true
}

// Empty reports whether the study has no items
func (r *AgreementResult) Empty() bool {
	return r.Study.IsEmpty()
}

// Counts summarises the study for reports
func (r *AgreementResult) Counts() models.StudyCounts {
	return studyCounts(r.Study)
}

func studyCounts(s *CodingAnnotationStudy) models.StudyCounts {
	return models.StudyCounts{
		Items:                s.ItemCount(),
		Categories:           s.CategoryCount(),
		IncompleteByPosition: s.IncompleteByPosition,
		IncompleteByLabel:    s.IncompleteByLabel,
		Stacked:              s.Stacked,
		Irrelevant:           s.Irrelevant,
		UnknownLabel:         s.UnknownLabel,
	}
}

// PairwiseAnnotationResult holds the agreement of every pair of raters.
// Only one triangle is stored; lookups are symmetric.
type PairwiseAnnotationResult struct {
	Type    string
	Feature string
	Measure string
	raters  []string
	results map[[2]string]*AgreementResult
}

// NewPairwiseAnnotationResult creates an empty pairwise result over the raters
func NewPairwiseAnnotationResult(typeName, feature, measure string, raters []string) *PairwiseAnnotationResult {
	sorted := slices.Clone(raters)
	sort.Strings(sorted)
	return &PairwiseAnnotationResult{
		Type:    typeName,
		Feature: feature,
		Measure: measure,
		raters:  sorted,
		results: make(map[[2]string]*AgreementResult),
	}
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Add stores the result of a rater pair
func (p *PairwiseAnnotationResult) Add(a, b string, result *AgreementResult) {
	p.results[pairKey(a, b)] = result
}

// Get returns the result of a rater pair in either order, or nil
func (p *PairwiseAnnotationResult) Get(a, b string) *AgreementResult {
	if a == b {
		return nil
	}
	return p.results[pairKey(a, b)]
}

// Raters returns the raters in sorted order
func (p *PairwiseAnnotationResult) Raters() []string {
	return slices.Clone(p.raters)
}

// MeanAgreement averages all pairwise scores, ignoring undefined ones. It is NaN when no
// pair has a defined score.
func (p *PairwiseAnnotationResult) MeanAgreement() float64 {
	sum, n := 0.0, 0
	for _, r := range p.results {
		if !math.IsNaN(r.Agreement) {
			sum += r.Agreement
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Scores returns the stored pairs in rater order for reports
func (p *PairwiseAnnotationResult) Scores() []models.PairwiseScore {
	var scores []models.PairwiseScore
	for _, pair := range sortedRaterPairs(p.raters) {
		r, ok := p.results[pair]
		if !ok {
			continue
		}
		scores = append(scores, models.PairwiseScore{
			RaterA:    pair[0],
			RaterB:    pair[1],
			Agreement: models.OptionalScore(r.Agreement),
		})
	}
	return scores
}
