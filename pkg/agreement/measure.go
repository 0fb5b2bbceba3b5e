package agreement

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrInsufficientData is returned when a statistic is undefined for the study
	ErrInsufficientData = errors.New("insufficient data to compute agreement")
	// ErrRaterCount is returned when a pairwise measure receives more or fewer than two raters
	ErrRaterCount = errors.New("measure requires exactly two raters")
	// ErrUnknownMeasure is returned for measure names without a registered constructor
	ErrUnknownMeasure = errors.New("unknown agreement measure")
)

// MeasureTraits controls how the coding study for a measure is built
type MeasureTraits struct {
	ExcludeIncomplete bool `json:"exclude_incomplete" yaml:"exclude_incomplete"`
}

// Measure computes an agreement coefficient over a coding study
type Measure interface {
	// Name returns the registry name of the measure
	Name() string

	// Pairwise reports whether the measure is only defined for two raters
	Pairwise() bool

	// Traits returns the study options the measure expects
	Traits() MeasureTraits

	// Calculate computes the coefficient. Callers normally use Compute which handles
	// the degenerate studies.
	Calculate(study *CodingAnnotationStudy) (float64, error)
}

// Compute applies a measure to a study. An empty study yields NaN, a study with a single
// category yields 1.0 and an undefined statistic yields NaN. Only misuse such as a rater
// count the measure cannot handle is reported as an error.
func Compute(measure Measure, study *CodingAnnotationStudy) (float64, error) {
	if measure.Pairwise() && study.RaterCount() != 2 {
		return math.NaN(), fmt.Errorf("%s: %w (got %d)", measure.Name(), ErrRaterCount, study.RaterCount())
	}
	if study.IsEmpty() {
		return math.NaN(), nil
	}
	if study.CategoryCount() == 1 {
		return 1.0, nil
	}

	value, err := measure.Calculate(study)
	if errors.Is(err, ErrInsufficientData) {
		return math.NaN(), nil
	}
	if err != nil {
		return math.NaN(), fmt.Errorf("%s: %w", measure.Name(), err)
	}
	return value, nil
}

// DistanceFunction measures how far apart two category labels are
type DistanceFunction interface {
	Name() string
	Distance(a, b string) (float64, error)
}

type nominalDistance struct{}

func (nominalDistance) Name() string { return "nominal" }

func (nominalDistance) Distance(a, b string) (float64, error) {
	if a == b {
		return 0, nil
	}
	return 1, nil
}

type intervalDistance struct{}

func (intervalDistance) Name() string { return "interval" }

func (intervalDistance) Distance(a, b string) (float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, fmt.Errorf("interval distance needs numeric labels: %q", a)
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, fmt.Errorf("interval distance needs numeric labels: %q", b)
	}
	return (x - y) * (x - y), nil
}

var (
	// NominalDistance treats every pair of different labels as equally distant
	NominalDistance DistanceFunction = nominalDistance{}
	// IntervalDistance uses the squared difference of numeric labels
	IntervalDistance DistanceFunction = intervalDistance{}
)

// Measure names
const (
	MeasureCohenKappa                = "cohen-kappa"
	MeasureFleissKappa               = "fleiss-kappa"
	MeasureKrippendorffAlphaNominal  = "krippendorff-alpha-nominal"
	MeasureKrippendorffAlphaInterval = "krippendorff-alpha-interval"
)

var measureFactories = map[string]func() Measure{
	MeasureCohenKappa:                func() Measure { return NewCohenKappa() },
	MeasureFleissKappa:               func() Measure { return NewFleissKappa() },
	MeasureKrippendorffAlphaNominal:  func() Measure { return NewKrippendorffAlpha(NominalDistance) },
	MeasureKrippendorffAlphaInterval: func() Measure { return NewKrippendorffAlpha(IntervalDistance) },
}

// NewMeasure creates a measure by name with its default traits
func NewMeasure(name string) (Measure, error) {
	factory, ok := measureFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMeasure, name)
	}
	return factory(), nil
}

// MeasureNames returns the names accepted by NewMeasure
func MeasureNames() []string {
	names := make([]string, 0, len(measureFactories))
	for name := range measureFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
