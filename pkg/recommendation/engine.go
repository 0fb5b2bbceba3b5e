package recommendation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
)

// Recommender configures one recommender of a project
type Recommender struct {
	ID                 string  `json:"id" yaml:"id"`
	Name               string  `json:"name" yaml:"name"`
	Layer              string  `json:"layer" yaml:"layer"`
	Feature            string  `json:"feature" yaml:"feature"`
	Tool               string  `json:"tool" yaml:"tool"`
	Threshold          float64 `json:"threshold" yaml:"threshold"`
	MaxRecommendations int     `json:"max_recommendations" yaml:"max_recommendations"`
	Enabled            bool    `json:"enabled" yaml:"enabled"`
}

// Validate checks that the recommender names a layer, feature and tool
func (r Recommender) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("recommender has no id")
	case r.Layer == "":
		return fmt.Errorf("recommender %s has no layer", r.ID)
	case r.Feature == "":
		return fmt.Errorf("recommender %s has no feature", r.ID)
	case r.Tool == "":
		return fmt.Errorf("recommender %s has no tool", r.ID)
	case r.Threshold < 0 || r.Threshold > 1:
		return fmt.Errorf("recommender %s threshold must be between 0 and 1", r.ID)
	}
	return nil
}

// Engine is a trainable annotation recommender.
//
// Train writes the learned model into the context only. Predict adds prediction annotations
// to the CAS. Engines check for cancellation between documents and accept zero or one
// document without failing for that reason.
type Engine interface {
	// Recommender returns the configuration the engine was built from
	Recommender() Recommender

	// Train learns from the annotated documents
	Train(ctx context.Context, rc *Context, casses []*cas.CAS) error

	// Predict adds predictions to a document using the trained model
	Predict(ctx context.Context, rc *Context, c *cas.CAS) error

	// Evaluate trains and tests on a split of the documents
	Evaluate(ctx context.Context, casses []*cas.CAS, splitter DataSplitter) (*EvaluationResult, error)

	// IsEvaluable reports whether Evaluate is supported
	IsEvaluable() bool

	// RequiresTraining reports whether Predict needs a prior Train
	RequiresTraining() bool
}

// EngineError reports a runtime failure of a recommender toolkit
type EngineError struct {
	Tool string
	Op   string
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("recommender %s failed during %s: %v", e.Tool, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps a toolkit failure
func NewEngineError(tool, op string, err error) *EngineError {
	return &EngineError{Tool: tool, Op: op, Err: err}
}

// Constructor builds an engine for a recommender
type Constructor func(rec Recommender) (Engine, error)

// Factory creates engines for the registered tools
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for a tool id
func (f *Factory) Register(tool string, constructor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[tool]; exists {
		return fmt.Errorf("recommender tool already registered: %s", tool)
	}
	f.constructors[tool] = constructor
	return nil
}

// Build creates the engine for a recommender
func (f *Factory) Build(rec Recommender) (Engine, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	constructor, ok := f.constructors[rec.Tool]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no engine available for tool: %s", rec.Tool)
	}
	return constructor(rec)
}

// Tools returns the registered tool ids
func (f *Factory) Tools() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tools := make([]string, 0, len(f.constructors))
	for tool := range f.constructors {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}
