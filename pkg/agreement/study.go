package agreement

import (
	"slices"
	"sort"

	"github.com/mimir-aip/mimir-curation/pkg/casdiff"
)

// Item is one row of a coding study. Values holds one cell per rater; nil marks a missing cell.
type Item struct {
	Position casdiff.Position
	Values   []*string
}

// IsComplete reports whether every rater coded the item
func (i Item) IsComplete() bool {
	for _, v := range i.Values {
		if v == nil {
			return false
		}
	}
	return true
}

// CodedCount returns the number of raters that coded the item
func (i Item) CodedCount() int {
	n := 0
	for _, v := range i.Values {
		if v != nil {
			n++
		}
	}
	return n
}

// CodingAnnotationStudy is an item by rater matrix of category labels
type CodingAnnotationStudy struct {
	raters     []string
	items      []Item
	categories []string

	// IncompleteByPosition counts rows where a rater has no annotation at the position
	IncompleteByPosition int
	// IncompleteByLabel counts rows where a rater annotated the position without a label
	IncompleteByLabel int
	// Stacked counts positions excluded because a rater has several annotations there
	Stacked int
	// Irrelevant counts positions where none of the selected raters has a label
	Irrelevant int
	// UnknownLabel counts labels dropped because they are not part of a closed tagset
	UnknownLabel int
}

// NewCodingStudy creates an empty study for the given raters
func NewCodingStudy(raters ...string) *CodingAnnotationStudy {
	return &CodingAnnotationStudy{raters: slices.Clone(raters)}
}

// AddItem appends a row. Values are given in rater order; nil marks a missing cell.
func (s *CodingAnnotationStudy) AddItem(pos casdiff.Position, values ...*string) {
	row := make([]*string, len(s.raters))
	copy(row, values)
	s.items = append(s.items, Item{Position: pos, Values: row})
	for _, v := range row {
		if v != nil {
			s.addCategory(*v)
		}
	}
}

// AddLabels appends a row built from plain labels where the empty string marks a missing cell
func (s *CodingAnnotationStudy) AddLabels(labels ...string) {
	values := make([]*string, len(labels))
	for i := range labels {
		if labels[i] != "" {
			values[i] = &labels[i]
		}
	}
	s.AddItem(casdiff.Position{}, values...)
}

func (s *CodingAnnotationStudy) addCategory(category string) {
	idx, found := slices.BinarySearch(s.categories, category)
	if !found {
		s.categories = slices.Insert(s.categories, idx, category)
	}
}

// Raters returns the raters in column order
func (s *CodingAnnotationStudy) Raters() []string { return slices.Clone(s.raters) }

// Items returns the rows of the study
func (s *CodingAnnotationStudy) Items() []Item { return s.items }

// Categories returns the observed categories in sorted order
func (s *CodingAnnotationStudy) Categories() []string { return slices.Clone(s.categories) }

// ItemCount returns the number of rows
func (s *CodingAnnotationStudy) ItemCount() int { return len(s.items) }

// RaterCount returns the number of raters
func (s *CodingAnnotationStudy) RaterCount() int { return len(s.raters) }

// CategoryCount returns the number of observed categories
func (s *CodingAnnotationStudy) CategoryCount() int { return len(s.categories) }

// IsEmpty reports whether the study has no rows
func (s *CodingAnnotationStudy) IsEmpty() bool { return len(s.items) == 0 }

func (s *CodingAnnotationStudy) categoryIndex(category string) int {
	idx, found := slices.BinarySearch(s.categories, category)
	if !found {
		return -1
	}
	return idx
}

// StudyOptions controls how a diff is turned into a coding study
type StudyOptions struct {
	// Raters selects and orders the rater columns; all diff raters when empty
	Raters []string
	// ExcludeIncomplete drops rows where a selected rater has no label
	ExcludeIncomplete bool
	// Tagset closes the category set; labels outside it become missing cells
	Tagset []string
}

// BuildCodingStudy turns the configuration sets of one layer into a coding study over a feature.
// When the feature is a link feature of the layer the link slots become the rows, otherwise
// the annotations themselves.
func BuildCodingStudy(diff *casdiff.DiffResult, typeName, feature string, opts StudyOptions) *CodingAnnotationStudy {
	raters := opts.Raters
	if len(raters) == 0 {
		raters = diff.CasGroupIDs()
	}
	study := NewCodingStudy(raters...)

	var tagset map[string]bool
	if len(opts.Tagset) > 0 {
		tagset = make(map[string]bool, len(opts.Tagset))
		for _, tag := range opts.Tagset {
			tagset[tag] = true
		}
	}

	sets := diff.ConfigurationSetsOfType(typeName)
	linkRows := false
	for _, set := range sets {
		if set.Position().LinkFeature == feature {
			linkRows = true
			break
		}
	}

	for _, set := range sets {
		pos := set.Position()
		if linkRows {
			if pos.LinkFeature != feature {
				continue
			}
		} else if pos.IsLinkPosition() {
			continue
		}

		stacked := false
		for _, rater := range raters {
			if set.AnnotationCount(rater) > 1 {
				stacked = true
				break
			}
		}
		if stacked {
			study.Stacked++
			continue
		}

		values := make([]*string, len(raters))
		missingPosition, missingLabel, unknown := false, false, 0
		for i, rater := range raters {
			configs := set.ConfigurationsFor(rater)
			if len(configs) == 0 {
				missingPosition = true
				continue
			}
			label, ok := configs[0].Label(feature)
			if !ok {
				missingLabel = true
				continue
			}
			if tagset != nil && !tagset[label] {
				unknown++
				missingLabel = true
				continue
			}
			values[i] = &label
		}
		study.UnknownLabel += unknown

		if allNil(values) {
			study.Irrelevant++
			continue
		}

		if missingPosition || missingLabel {
			if missingPosition {
				study.IncompleteByPosition++
			} else {
				study.IncompleteByLabel++
			}
			if opts.ExcludeIncomplete {
				continue
			}
		}

		study.AddItem(pos, values...)
	}

	return study
}

func allNil(values []*string) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// sortedRaterPairs returns all unordered rater pairs in column order
func sortedRaterPairs(raters []string) [][2]string {
	sorted := slices.Clone(raters)
	sort.Strings(sorted)
	var pairs [][2]string
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairs = append(pairs, [2]string{sorted[i], sorted[j]})
		}
	}
	return pairs
}
