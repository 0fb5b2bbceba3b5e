package agreement

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CohenKappa is Cohen's kappa for two raters. Missing cells are treated as a category of
// their own, so incomplete items always count.
type CohenKappa struct{}

// NewCohenKappa creates a Cohen's kappa measure
func NewCohenKappa() *CohenKappa { return &CohenKappa{} }

func (m *CohenKappa) Name() string { return MeasureCohenKappa }

func (m *CohenKappa) Pairwise() bool { return true }

func (m *CohenKappa) Traits() MeasureTraits { return MeasureTraits{ExcludeIncomplete: false} }

// Calculate computes (Po - Pe) / (1 - Pe) over the rater contingency table
func (m *CohenKappa) Calculate(study *CodingAnnotationStudy) (float64, error) {
	if study.RaterCount() != 2 {
		return 0, ErrRaterCount
	}
	n := float64(study.ItemCount())
	if n == 0 {
		return 0, ErrInsufficientData
	}

	missing := study.CategoryCount()
	q := missing + 1
	table := mat.NewDense(q, q, nil)
	index := func(v *string) int {
		if v == nil {
			return missing
		}
		return study.categoryIndex(*v)
	}
	for _, item := range study.Items() {
		a, b := index(item.Values[0]), index(item.Values[1])
		table.Set(a, b, table.At(a, b)+1)
	}

	observed := mat.Trace(table) / n

	expected := 0.0
	row := make([]float64, q)
	col := make([]float64, q)
	for k := 0; k < q; k++ {
		mat.Row(row, k, table)
		mat.Col(col, k, table)
		expected += floats.Sum(row) * floats.Sum(col)
	}
	expected /= n * n

	if expected == 1 {
		return 0, ErrInsufficientData
	}
	return (observed - expected) / (1 - expected), nil
}

// FleissKappa is Fleiss' kappa for any number of raters. Items may be coded by a varying
// number of raters; items coded by fewer than two are skipped.
type FleissKappa struct {
	traits MeasureTraits
}

// NewFleissKappa creates a Fleiss' kappa measure which excludes incomplete items by default
func NewFleissKappa() *FleissKappa {
	return &FleissKappa{traits: MeasureTraits{ExcludeIncomplete: true}}
}

// WithTraits overrides the default traits
func (m *FleissKappa) WithTraits(traits MeasureTraits) *FleissKappa {
	m.traits = traits
	return m
}

func (m *FleissKappa) Name() string { return MeasureFleissKappa }

func (m *FleissKappa) Pairwise() bool { return false }

func (m *FleissKappa) Traits() MeasureTraits { return m.traits }

// Calculate computes (P - Pe) / (1 - Pe) from the item by category count matrix
func (m *FleissKappa) Calculate(study *CodingAnnotationStudy) (float64, error) {
	var usable []Item
	for _, item := range study.Items() {
		if item.CodedCount() >= 2 {
			usable = append(usable, item)
		}
	}
	if len(usable) == 0 || study.CategoryCount() == 0 {
		return 0, ErrInsufficientData
	}

	counts := mat.NewDense(len(usable), study.CategoryCount(), nil)
	for i, item := range usable {
		for _, v := range item.Values {
			if v != nil {
				k := study.categoryIndex(*v)
				counts.Set(i, k, counts.At(i, k)+1)
			}
		}
	}

	row := make([]float64, study.CategoryCount())
	agreement := 0.0
	for i := range usable {
		mat.Row(row, i, counts)
		ni := floats.Sum(row)
		pairs := floats.Dot(row, row) - ni
		agreement += pairs / (ni * (ni - 1))
	}
	agreement /= float64(len(usable))

	total := mat.Sum(counts)
	col := make([]float64, len(usable))
	expected := 0.0
	for k := 0; k < study.CategoryCount(); k++ {
		mat.Col(col, k, counts)
		p := floats.Sum(col) / total
		expected += p * p
	}

	if expected == 1 {
		return 0, ErrInsufficientData
	}
	return (agreement - expected) / (1 - expected), nil
}

// KrippendorffAlpha is Krippendorff's alpha for any number of raters with missing values
type KrippendorffAlpha struct {
	distance DistanceFunction
	traits   MeasureTraits
}

// NewKrippendorffAlpha creates a Krippendorff's alpha measure which keeps incomplete items by default
func NewKrippendorffAlpha(distance DistanceFunction) *KrippendorffAlpha {
	if distance == nil {
		distance = NominalDistance
	}
	return &KrippendorffAlpha{distance: distance}
}

// WithTraits overrides the default traits
func (m *KrippendorffAlpha) WithTraits(traits MeasureTraits) *KrippendorffAlpha {
	m.traits = traits
	return m
}

func (m *KrippendorffAlpha) Name() string { return "krippendorff-alpha-" + m.distance.Name() }

func (m *KrippendorffAlpha) Pairwise() bool { return false }

func (m *KrippendorffAlpha) Traits() MeasureTraits { return m.traits }

// Calculate computes 1 - Do / De from the coincidence matrix of pairable values
func (m *KrippendorffAlpha) Calculate(study *CodingAnnotationStudy) (float64, error) {
	q := study.CategoryCount()
	if q == 0 {
		return 0, ErrInsufficientData
	}

	coincidence := mat.NewDense(q, q, nil)
	for _, item := range study.Items() {
		coded := item.CodedCount()
		if coded < 2 {
			continue
		}
		weight := 1 / float64(coded-1)
		for i, a := range item.Values {
			if a == nil {
				continue
			}
			for j, b := range item.Values {
				if i == j || b == nil {
					continue
				}
				c, k := study.categoryIndex(*a), study.categoryIndex(*b)
				coincidence.Set(c, k, coincidence.At(c, k)+weight)
			}
		}
	}

	n := mat.Sum(coincidence)
	if n <= 1 {
		return 0, ErrInsufficientData
	}

	categories := study.Categories()
	delta := mat.NewDense(q, q, nil)
	for c := 0; c < q; c++ {
		for k := 0; k < q; k++ {
			d, err := m.distance.Distance(categories[c], categories[k])
			if err != nil {
				return 0, err
			}
			delta.Set(c, k, d)
		}
	}

	marginals := make([]float64, q)
	row := make([]float64, q)
	for c := 0; c < q; c++ {
		mat.Row(row, c, coincidence)
		marginals[c] = floats.Sum(row)
	}

	var weighted mat.Dense
	weighted.MulElem(coincidence, delta)
	observed := mat.Sum(&weighted)

	expected := 0.0
	for c := 0; c < q; c++ {
		for k := 0; k < q; k++ {
			expected += marginals[c] * marginals[k] * delta.At(c, k)
		}
	}

	if expected == 0 {
		return 0, ErrInsufficientData
	}
	return 1 - (n-1)*observed/expected, nil
}
