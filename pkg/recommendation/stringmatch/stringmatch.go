// Package stringmatch implements a dictionary recommender which suggests the labels
// previously assigned to the same text.
package stringmatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
)

// Tool is the tool id of the string matching recommender
const Tool = "string-matching"

// modelKey holds the trained dictionary
var modelKey = recommendation.NewKey[*Dictionary]("stringmatch.dictionary")

// Dictionary maps covered texts to label frequencies
type Dictionary struct {
	entries map[string]map[string]int
}

// NewDictionary creates an empty dictionary
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string]map[string]int)}
}

// Add counts one occurrence of a label for a text
func (d *Dictionary) Add(text, label string) {
	text = strings.TrimSpace(text)
	if text == "" || label == "" {
		return
	}
	if d.entries[text] == nil {
		d.entries[text] = make(map[string]int)
	}
	d.entries[text][label]++
}

// Len returns the number of distinct texts
func (d *Dictionary) Len() int { return len(d.entries) }

// LabelScore is a label with its frequency share
type LabelScore struct {
	Label string
	Score float64
}

// Lookup returns the labels seen for a text ordered by descending score
func (d *Dictionary) Lookup(text string) []LabelScore {
	counts := d.entries[text]
	total := 0
	for _, n := range counts {
		total += n
	}
	result := make([]LabelScore, 0, len(counts))
	for label, n := range counts {
		result = append(result, LabelScore{Label: label, Score: float64(n) / float64(total)})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Label < result[j].Label
	})
	return result
}

// texts returns the known texts, longest first
func (d *Dictionary) texts() []string {
	texts := make([]string, 0, len(d.entries))
	for text := range d.entries {
		texts = append(texts, text)
	}
	sort.Slice(texts, func(i, j int) bool {
		if len(texts[i]) != len(texts[j]) {
			return len(texts[i]) > len(texts[j])
		}
		return texts[i] < texts[j]
	})
	return texts
}

// Match is an occurrence of a dictionary text in a document
type Match struct {
	Begin int
	End   int
	Text  string
}

// FindMatches returns non-overlapping occurrences of known texts at word boundaries.
// Longer texts take precedence over shorter ones.
func (d *Dictionary) FindMatches(document string) []Match {
	taken := make([]bool, len(document))
	var matches []Match
	for _, text := range d.texts() {
		offset := 0
		for {
			idx := strings.Index(document[offset:], text)
			if idx < 0 {
				break
			}
			begin := offset + idx
			end := begin + len(text)
			offset = begin + 1
			if !atBoundary(document, begin, end) || overlapsTaken(taken, begin, end) {
				continue
			}
			for i := begin; i < end; i++ {
				taken[i] = true
			}
			matches = append(matches, Match{Begin: begin, End: end, Text: text})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Begin < matches[j].Begin })
	return matches
}

func atBoundary(document string, begin, end int) bool {
	if begin > 0 {
		r, _ := utf8.DecodeLastRuneInString(document[:begin])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(document) {
		r, _ := utf8.DecodeRuneInString(document[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlapsTaken(taken []bool, begin, end int) bool {
	for i := begin; i < end; i++ {
		if taken[i] {
			return true
		}
	}
	return false
}

// Engine is the string matching recommender
type Engine struct {
	rec recommendation.Recommender
}

// New creates a string matching engine
func New(rec recommendation.Recommender) (recommendation.Engine, error) {
	return &Engine{rec: rec}, nil
}

// Register adds the engine to a factory
func Register(factory *recommendation.Factory) error {
	return factory.Register(Tool, New)
}

func (e *Engine) Recommender() recommendation.Recommender { return e.rec }

func (e *Engine) IsEvaluable() bool { return true }

func (e *Engine) RequiresTraining() bool { return true }

// annotatedSpans returns the covered text and label of every manual annotation of the layer
func (e *Engine) annotatedSpans(c *cas.CAS) [][2]string {
	var spans [][2]string
	for _, fs := range c.Select(e.rec.Layer) {
		if fs.FeatureBool(recommendation.PredictedFeature) {
			continue
		}
		label, ok := fs.FeatureString(e.rec.Feature)
		if !ok || label == "" {
			continue
		}
		spans = append(spans, [2]string{c.CoveredText(fs), label})
	}
	return spans
}

// Train builds the dictionary from the annotated documents
func (e *Engine) Train(ctx context.Context, rc *recommendation.Context, casses []*cas.CAS) error {
	dict := NewDictionary()
	for _, c := range casses {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, span := range e.annotatedSpans(c) {
			dict.Add(span[0], span[1])
		}
	}

	if dict.Len() == 0 {
		rc.Warn("No annotations of %s found to train on", e.rec.Layer)
	} else {
		rc.Info("Learned %d distinct texts", dict.Len())
	}
	return recommendation.Put(rc, modelKey, dict)
}

// Predict adds a prediction for every label known for every matched text
func (e *Engine) Predict(ctx context.Context, rc *recommendation.Context, c *cas.CAS) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dict, err := recommendation.MustGet(rc, modelKey)
	if err != nil {
		return recommendation.NewEngineError(Tool, "predict", err)
	}

	for _, m := range dict.FindMatches(c.Text()) {
		for _, ls := range dict.Lookup(m.Text) {
			explanation := fmt.Sprintf("%q was labelled %s in %.0f%% of cases", m.Text, ls.Label, ls.Score*100)
			recommendation.AddPrediction(c, e.rec, m.Begin, m.End, ls.Label, ls.Score, explanation)
		}
	}
	return nil
}

// Evaluate splits the annotated spans, trains on the training part and predicts the test part
func (e *Engine) Evaluate(ctx context.Context, casses []*cas.CAS, splitter recommendation.DataSplitter) (*recommendation.EvaluationResult, error) {
	var train, test [][2]string
	for _, c := range casses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, span := range e.annotatedSpans(c) {
			target, err := splitter.TargetSet(span)
			if err != nil {
				return nil, err
			}
			switch target {
			case recommendation.Train:
				train = append(train, span)
			case recommendation.Test:
				test = append(test, span)
			}
		}
	}

	if len(train) == 0 {
		return recommendation.SkippedEvaluation("training set is empty", len(train), len(test)), nil
	}
	if len(test) == 0 {
		return recommendation.SkippedEvaluation("test set is empty", len(train), len(test)), nil
	}

	dict := NewDictionary()
	for _, span := range train {
		dict.Add(span[0], span[1])
	}

	pairs := make([]recommendation.LabelPair, 0, len(test))
	for _, span := range test {
		predicted := ""
		if labels := dict.Lookup(strings.TrimSpace(span[0])); len(labels) > 0 {
			predicted = labels[0].Label
		}
		pairs = append(pairs, recommendation.LabelPair{Gold: span[1], Predicted: predicted})
	}
	return recommendation.NewEvaluationResult(pairs, len(train), len(test)), nil
}
