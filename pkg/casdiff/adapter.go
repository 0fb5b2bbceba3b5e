package casdiff

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
)

// ErrDuplicateAdapter is returned when an adapter for a type is registered twice
var ErrDuplicateAdapter = errors.New("diff adapter already registered")

// LinkFeature declares a link feature of a layer and how its slots are compared
type LinkFeature struct {
	Name string
	Mode LinkMode
}

// DiffAdapter turns the annotations of one layer into positions.
//
// The set of implementations is closed: SpanAdapter, RelationAdapter and DocumentAdapter.
// New layer kinds are supported by registering one of these for the layer's type name.
type DiffAdapter interface {
	// Kind returns the shape of the layer
	Kind() LayerKind

	// Type returns the annotation type name handled by the adapter
	Type() string

	// LabelFeatures returns the features compared to decide agreement
	LabelFeatures() []string

	// LinkFeatures returns the link features which produce sub-positions
	LinkFeatures() []LinkFeature

	// SelectAnnotationsInWindow returns annotations overlapping [begin, end) in index order
	SelectAnnotationsInWindow(c *cas.CAS, begin, end int) []*cas.FeatureStructure

	// Position computes the position of an annotation. When linkFeature is empty the
	// position of the annotation itself is returned, otherwise the position of one slot.
	Position(c *cas.CAS, fs *cas.FeatureStructure, linkFeature, role string, linkBegin, linkEnd int, mode LinkMode) (Position, error)
}

// Origin carries diagnostic information about where an annotation was found
type Origin struct {
	CollectionID string
	DocumentID   string
}

// originOf tolerates a missing document metadata annotation
func originOf(c *cas.CAS) Origin {
	md := c.Metadata()
	if md == nil {
		return Origin{}
	}
	return Origin{CollectionID: md.CollectionID, DocumentID: md.DocumentID}
}

// SubPosition is the position of one link slot together with the link it came from
type SubPosition struct {
	Position
	Link cas.Link
}

// SubPositions returns the positions of all link slots of an annotation
func SubPositions(adapter DiffAdapter, c *cas.CAS, fs *cas.FeatureStructure) ([]SubPosition, error) {
	var positions []SubPosition
	for _, lf := range adapter.LinkFeatures() {
		for _, link := range fs.FeatureLinks(lf.Name) {
			if link.Target == nil {
				continue
			}
			pos, err := adapter.Position(c, fs, lf.Name, link.Role, link.Target.Begin, link.Target.End, lf.Mode)
			if err != nil {
				return nil, err
			}
			positions = append(positions, SubPosition{Position: pos, Link: link})
		}
	}
	return positions, nil
}

// linkPosition fills the link attributes of a base position according to the mode
func linkPosition(base Position, linkFeature, role string, linkBegin, linkEnd int, mode LinkMode) Position {
	if linkFeature == "" {
		return base
	}
	base.LinkFeature = linkFeature
	base.LinkMode = mode
	switch mode {
	case OneTargetMultipleRoles:
		base.LinkTargetBegin = linkBegin
		base.LinkTargetEnd = linkEnd
	case MultipleTargetsOneRole:
		base.LinkRole = role
	default:
		base.LinkMode = MultipleTargetsMultipleRoles
		base.LinkRole = role
		base.LinkTargetBegin = linkBegin
		base.LinkTargetEnd = linkEnd
	}
	return base
}

func noLink(p Position) Position {
	p.LinkTargetBegin = -1
	p.LinkTargetEnd = -1
	return p
}

// Registry holds diff adapters keyed by layer type name
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]DiffAdapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...DiffAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]DiffAdapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter for its layer type
func (r *Registry) Register(adapter DiffAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[adapter.Type()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, adapter.Type())
	}
	r.adapters[adapter.Type()] = adapter
	return nil
}

// Get returns the adapter for a layer type
func (r *Registry) Get(typeName string) (DiffAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[typeName]
	if !ok {
		return nil, fmt.Errorf("no diff adapter registered for type: %s", typeName)
	}
	return adapter, nil
}

// Adapters returns all registered adapters sorted by type name
func (r *Registry) Adapters() []DiffAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]DiffAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type() < result[j].Type()
	})
	return result
}
