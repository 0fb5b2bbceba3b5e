package recommendation

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidPercentage is returned for a training percentage outside (0, 1)
	ErrInvalidPercentage = errors.New("training percentage must be between 0 and 1 exclusive")
	// ErrSplitterNotReady is returned when an incremental splitter is used before SetTotal and Next
	ErrSplitterNotReady = errors.New("splitter is not ready: call SetTotal and Next first")
)

// TargetSet is the data set an item is assigned to
type TargetSet int

const (
	Train TargetSet = iota
	Test
	Ignore
)

// String returns the name of the target set
func (t TargetSet) String() string {
	switch t {
	case Train:
		return "train"
	case Test:
		return "test"
	default:
		return "ignore"
	}
}

// DataSplitter assigns items to training or test data. Assignment depends on the order in
// which items are presented, not on the items themselves.
type DataSplitter interface {
	TargetSet(item any) (TargetSet, error)
}

// blockRule assigns the first positions of every block to training
type blockRule struct {
	blockSize int
	trainSlot int
}

func newBlockRule(k float64, blockSize int) (blockRule, error) {
	if math.IsNaN(k) || k <= 0 || k >= 1 {
		return blockRule{}, fmt.Errorf("%w: %v", ErrInvalidPercentage, k)
	}
	if blockSize < 1 {
		return blockRule{}, fmt.Errorf("block size must be at least 1: %d", blockSize)
	}
	return blockRule{
		blockSize: blockSize,
		trainSlot: int(math.Floor(k*float64(blockSize) + 1e-9)),
	}, nil
}

// eligible reports whether the item at a 0-based index belongs to training
func (r blockRule) eligible(index int) bool {
	return index%r.blockSize < r.trainSlot
}

// eligibleCount returns how many of n items belong to training
func (r blockRule) eligibleCount(n int) int {
	full := n / r.blockSize
	rest := min(n%r.blockSize, r.trainSlot)
	return full*r.trainSlot + rest
}

// PercentageBasedSplitter assigns roughly a fraction k of the items to training
type PercentageBasedSplitter struct {
	rule  blockRule
	count int
}

// NewPercentageBasedSplitter creates a splitter sending the first k*blockSize items of every
// block of blockSize items to training
func NewPercentageBasedSplitter(k float64, blockSize int) (*PercentageBasedSplitter, error) {
	rule, err := newBlockRule(k, blockSize)
	if err != nil {
		return nil, err
	}
	return &PercentageBasedSplitter{rule: rule}, nil
}

// TargetSet assigns the next item
func (s *PercentageBasedSplitter) TargetSet(item any) (TargetSet, error) {
	index := s.count
	s.count++
	if s.rule.eligible(index) {
		return Train, nil
	}
	return Test, nil
}

// IncrementalSplitter grows the training set step by step for learning curves. Test items
// are the same in every round; training eligible items beyond the current size are ignored.
type IncrementalSplitter struct {
	rule     blockRule
	step     int
	total    int
	hasTotal bool
	round    int
	count    int
	trained  int
}

// NewIncrementalSplitter creates a splitter growing the training set by step items per round
func NewIncrementalSplitter(k float64, step, blockSize int) (*IncrementalSplitter, error) {
	rule, err := newBlockRule(k, blockSize)
	if err != nil {
		return nil, err
	}
	if step < 1 {
		return nil, fmt.Errorf("increment must be at least 1: %d", step)
	}
	return &IncrementalSplitter{rule: rule, step: step}, nil
}

// SetTotal sets the number of items presented in every round
func (s *IncrementalSplitter) SetTotal(total int) {
	s.total = total
	s.hasTotal = true
}

func (s *IncrementalSplitter) maxTraining() int {
	return s.rule.eligibleCount(s.total)
}

// TrainingSize returns the training set size of the current round
func (s *IncrementalSplitter) TrainingSize() int {
	return min(s.step*s.round, s.maxTraining())
}

// HasNext reports whether another round would enlarge the training set
func (s *IncrementalSplitter) HasNext() bool {
	if !s.hasTotal {
		return false
	}
	return s.round == 0 || s.TrainingSize() < s.maxTraining()
}

// Next starts the next round
func (s *IncrementalSplitter) Next() error {
	if !s.hasTotal {
		return ErrSplitterNotReady
	}
	s.round++
	s.count = 0
	s.trained = 0
	return nil
}

// TargetSet assigns the next item of the current round
func (s *IncrementalSplitter) TargetSet(item any) (TargetSet, error) {
	if !s.hasTotal || s.round == 0 {
		return Ignore, ErrSplitterNotReady
	}
	index := s.count
	s.count++
	if !s.rule.eligible(index) {
		return Test, nil
	}
	if s.trained < s.TrainingSize() {
		s.trained++
		return Train, nil
	}
	return Ignore, nil
}
