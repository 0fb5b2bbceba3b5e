package casdiff

import (
	"slices"
	"sort"
	"strings"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
)

// Classification describes how the raters relate at one position
type Classification string

const (
	Agreement    Classification = "agreement"
	Disagreement Classification = "disagreement"
	Incomplete   Classification = "incomplete"
)

// Configuration groups annotations that share a position and have identical labels
type Configuration struct {
	key    string
	labels map[string]string
	fs     map[string][]*cas.FeatureStructure
}

// Label returns the value of a compared feature. The second return value is false when
// the feature was not set on the annotations in this configuration.
func (c *Configuration) Label(feature string) (string, bool) {
	v, ok := c.labels[feature]
	return v, ok
}

// Labels returns a copy of all compared feature values
func (c *Configuration) Labels() map[string]string {
	result := make(map[string]string, len(c.labels))
	for k, v := range c.labels {
		result[k] = v
	}
	return result
}

// CasGroupIDs returns the raters contributing to this configuration
func (c *Configuration) CasGroupIDs() []string {
	ids := make([]string, 0, len(c.fs))
	for id := range c.fs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FeatureStructures returns the annotations a rater contributed to this configuration
func (c *Configuration) FeatureStructures(casGroupID string) []*cas.FeatureStructure {
	return c.fs[casGroupID]
}

// Contains reports whether a rater contributed to this configuration
func (c *Configuration) Contains(casGroupID string) bool {
	return len(c.fs[casGroupID]) > 0
}

// ConfigurationSet holds all configurations found at one position
type ConfigurationSet struct {
	position       Position
	origin         Origin
	configurations []*Configuration
	counts         map[string]int
}

// Position returns the position of the set
func (s *ConfigurationSet) Position() Position { return s.position }

// Origin returns the diagnostic collection and document ids of the set
func (s *ConfigurationSet) Origin() Origin { return s.origin }

// Configurations returns the configurations ordered by label
func (s *ConfigurationSet) Configurations() []*Configuration {
	return slices.Clone(s.configurations)
}

// CasGroupIDs returns the raters with at least one annotation at the position
func (s *ConfigurationSet) CasGroupIDs() []string {
	ids := make([]string, 0, len(s.counts))
	for id := range s.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfigurationsFor returns the configurations a rater contributed to
func (s *ConfigurationSet) ConfigurationsFor(casGroupID string) []*Configuration {
	var result []*Configuration
	for _, c := range s.configurations {
		if c.Contains(casGroupID) {
			result = append(result, c)
		}
	}
	return result
}

// AnnotationCount returns how many annotations a rater has at the position
func (s *ConfigurationSet) AnnotationCount(casGroupID string) int {
	return s.counts[casGroupID]
}

// IsStacked reports whether any rater has more than one annotation at the position
func (s *ConfigurationSet) IsStacked() bool {
	for _, n := range s.counts {
		if n > 1 {
			return true
		}
	}
	return false
}

func (s *ConfigurationSet) add(casGroupID string, labels map[string]string, fs *cas.FeatureStructure) {
	key := labelKey(labels)
	idx, found := slices.BinarySearchFunc(s.configurations, key, func(c *Configuration, k string) int {
		return strings.Compare(c.key, k)
	})
	if !found {
		s.configurations = slices.Insert(s.configurations, idx, &Configuration{
			key:    key,
			labels: labels,
			fs:     make(map[string][]*cas.FeatureStructure),
		})
	}
	cfg := s.configurations[idx]
	cfg.fs[casGroupID] = append(cfg.fs[casGroupID], fs)
	s.counts[casGroupID]++
}

// labelKey renders label values into a canonical string. Unset features are omitted so
// that an unset value never equals an empty string value.
func labelKey(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('\x1e')
		sb.WriteString(labels[name])
		sb.WriteByte('\x1f')
	}
	return sb.String()
}

// Summary counts configuration sets by classification
type Summary struct {
	Total        int `json:"total"`
	Agreement    int `json:"agreement"`
	Disagreement int `json:"disagreement"`
	Incomplete   int `json:"incomplete"`
	Stacked      int `json:"stacked"`
}

// DiffResult is the alignment of all raters' annotations by position
type DiffResult struct {
	casGroupIDs []string
	sets        map[Position]*ConfigurationSet
	positions   []Position
}

func newDiffResult(casGroupIDs []string) *DiffResult {
	return &DiffResult{
		casGroupIDs: casGroupIDs,
		sets:        make(map[Position]*ConfigurationSet),
	}
}

func (r *DiffResult) add(pos Position, origin Origin, casGroupID string, labels map[string]string, fs *cas.FeatureStructure) {
	set, ok := r.sets[pos]
	if !ok {
		set = &ConfigurationSet{
			position: pos,
			origin:   origin,
			counts:   make(map[string]int),
		}
		r.sets[pos] = set
	}
	set.add(casGroupID, labels, fs)
}

func (r *DiffResult) seal() {
	r.positions = make([]Position, 0, len(r.sets))
	for pos := range r.sets {
		r.positions = append(r.positions, pos)
	}
	slices.SortFunc(r.positions, ComparePositions)
}

// CasGroupIDs returns all raters that took part in the diff
func (r *DiffResult) CasGroupIDs() []string {
	return slices.Clone(r.casGroupIDs)
}

// Positions returns all positions in a stable order
func (r *DiffResult) Positions() []Position {
	return slices.Clone(r.positions)
}

// ConfigurationSet returns the set at a position, or nil
func (r *DiffResult) ConfigurationSet(pos Position) *ConfigurationSet {
	return r.sets[pos]
}

// ConfigurationSets returns all sets in position order
func (r *DiffResult) ConfigurationSets() []*ConfigurationSet {
	result := make([]*ConfigurationSet, 0, len(r.positions))
	for _, pos := range r.positions {
		result = append(result, r.sets[pos])
	}
	return result
}

// ConfigurationSetsOfType returns the sets belonging to one annotation type
func (r *DiffResult) ConfigurationSetsOfType(typeName string) []*ConfigurationSet {
	var result []*ConfigurationSet
	for _, pos := range r.positions {
		if pos.Type == typeName {
			result = append(result, r.sets[pos])
		}
	}
	return result
}

// IsComplete reports whether every rater has an annotation at the set's position
func (r *DiffResult) IsComplete(set *ConfigurationSet) bool {
	for _, id := range r.casGroupIDs {
		if set.counts[id] == 0 {
			return false
		}
	}
	return true
}

// IsAgreement reports whether all raters produced exactly one annotation with the same labels
func (r *DiffResult) IsAgreement(set *ConfigurationSet) bool {
	return r.IsComplete(set) && len(set.configurations) == 1 && !set.IsStacked()
}

// Classify assigns a classification to a configuration set
func (r *DiffResult) Classify(set *ConfigurationSet) Classification {
	switch {
	case !r.IsComplete(set):
		return Incomplete
	case r.IsAgreement(set):
		return Agreement
	default:
		return Disagreement
	}
}

// IncompleteSets returns the sets where at least one rater has no annotation
func (r *DiffResult) IncompleteSets() []*ConfigurationSet {
	return r.filter(func(s *ConfigurationSet) bool { return !r.IsComplete(s) })
}

// DifferingSets returns the complete sets where the raters disagree
func (r *DiffResult) DifferingSets() []*ConfigurationSet {
	return r.filter(func(s *ConfigurationSet) bool { return r.Classify(s) == Disagreement })
}

// StackedSets returns the sets where a rater has more than one annotation
func (r *DiffResult) StackedSets() []*ConfigurationSet {
	return r.filter(func(s *ConfigurationSet) bool { return s.IsStacked() })
}

func (r *DiffResult) filter(keep func(*ConfigurationSet) bool) []*ConfigurationSet {
	var result []*ConfigurationSet
	for _, pos := range r.positions {
		if set := r.sets[pos]; keep(set) {
			result = append(result, set)
		}
	}
	return result
}

// Summary counts the configuration sets by classification
func (r *DiffResult) Summary() Summary {
	var s Summary
	for _, pos := range r.positions {
		set := r.sets[pos]
		s.Total++
		switch r.Classify(set) {
		case Agreement:
			s.Agreement++
		case Disagreement:
			s.Disagreement++
		case Incomplete:
			s.Incomplete++
		}
		if set.IsStacked() {
			s.Stacked++
		}
	}
	return s
}

// IsStacked reports whether any rater has more than one annotation in the set
func (r *DiffResult) IsStacked(set *ConfigurationSet) bool {
	return set.IsStacked()
}
