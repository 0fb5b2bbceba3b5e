package casdiff

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
)

// Engine aligns the annotations of several raters by position
type Engine struct {
	registry *Registry
	logger   *logging.Logger
	observer func(result *DiffResult, elapsed time.Duration)
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the logger of the engine
func WithLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver registers a callback invoked after every completed diff
func WithObserver(observer func(result *DiffResult, elapsed time.Duration)) EngineOption {
	return func(e *Engine) {
		e.observer = observer
	}
}

// NewEngine creates a diff engine over the adapters of a registry
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		logger:   logging.GetLogger().WithFields(logging.Component("casdiff")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diff compares the full documents of all raters
func Diff(casByUser map[string]*cas.CAS, adapters ...DiffAdapter) (*DiffResult, error) {
	registry, err := NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	return NewEngine(registry).Diff(casByUser)
}

// Diff compares the full documents of all raters
func (e *Engine) Diff(casByUser map[string]*cas.CAS) (*DiffResult, error) {
	return e.DiffWindow(casByUser, 0, math.MaxInt)
}

// DiffWindow compares the annotations of all raters overlapping [begin, end).
// A nil CAS counts as a rater without annotations.
func (e *Engine) DiffWindow(casByUser map[string]*cas.CAS, begin, end int) (*DiffResult, error) {
	if begin > end {
		return nil, fmt.Errorf("invalid diff window: begin %d is after end %d", begin, end)
	}
	start := time.Now()

	users := make([]string, 0, len(casByUser))
	for user := range casByUser {
		users = append(users, user)
	}
	sort.Strings(users)

	result := newDiffResult(users)
	adapters := e.registry.Adapters()

	for _, user := range users {
		c := casByUser[user]
		if c == nil {
			continue
		}
		origin := originOf(c)
		for _, adapter := range adapters {
			if err := e.collect(result, adapter, c, user, origin, begin, end); err != nil {
				return nil, fmt.Errorf("failed to diff %s annotations of %s: %w", adapter.Type(), user, err)
			}
		}
	}

	result.seal()
	e.logger.Debug("Diff completed",
		logging.Int("users", len(users)),
		logging.Int("positions", len(result.positions)))
	if e.observer != nil {
		e.observer(result, time.Since(start))
	}
	return result, nil
}

func (e *Engine) collect(result *DiffResult, adapter DiffAdapter, c *cas.CAS, user string, origin Origin, begin, end int) error {
	for _, fs := range adapter.SelectAnnotationsInWindow(c, begin, end) {
		pos, err := adapter.Position(c, fs, "", "", -1, -1, LinkModeNone)
		if err != nil {
			return err
		}
		result.add(pos, origin, user, mainLabels(adapter, fs), fs)

		subs, err := SubPositions(adapter, c, fs)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			result.add(sub.Position, origin, user, slotLabels(sub.Position, sub.Link), fs)
		}
	}
	return nil
}

func mainLabels(adapter DiffAdapter, fs *cas.FeatureStructure) map[string]string {
	labels := make(map[string]string)
	for _, feature := range adapter.LabelFeatures() {
		if v, ok := fs.FeatureString(feature); ok {
			labels[feature] = v
		}
	}
	return labels
}

// slotLabels derives the label of a slot from the part of the link not used as its key
func slotLabels(pos Position, link cas.Link) map[string]string {
	switch pos.LinkMode {
	case OneTargetMultipleRoles:
		return map[string]string{pos.LinkFeature: link.Role}
	case MultipleTargetsOneRole:
		return map[string]string{pos.LinkFeature: fmt.Sprintf("%d-%d", link.Target.Begin, link.Target.End)}
	default:
		return map[string]string{pos.LinkFeature: ""}
	}
}
