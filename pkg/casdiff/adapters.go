package casdiff

import (
	"fmt"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
)

// AdapterOption configures a diff adapter
type AdapterOption func(*baseAdapter)

// WithLabelFeatures sets the features compared to decide agreement
func WithLabelFeatures(features ...string) AdapterOption {
	return func(b *baseAdapter) {
		b.labelFeatures = append([]string(nil), features...)
	}
}

// WithLinkFeature declares a link feature
func WithLinkFeature(name string, mode LinkMode) AdapterOption {
	return func(b *baseAdapter) {
		b.linkFeatures = append(b.linkFeatures, LinkFeature{Name: name, Mode: mode})
	}
}

type baseAdapter struct {
	typeName      string
	labelFeatures []string
	linkFeatures  []LinkFeature
	logger        *logging.Logger
}

func (b *baseAdapter) Type() string { return b.typeName }

func (b *baseAdapter) LabelFeatures() []string {
	return append([]string(nil), b.labelFeatures...)
}

func (b *baseAdapter) LinkFeatures() []LinkFeature {
	return append([]LinkFeature(nil), b.linkFeatures...)
}

func newBase(typeName string, opts []AdapterOption) baseAdapter {
	b := baseAdapter{
		typeName: typeName,
		logger:   logging.GetLogger().WithFields(logging.Component("casdiff"), logging.String("layer", typeName)),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// SpanAdapter handles annotations anchored on a single text span
type SpanAdapter struct {
	baseAdapter
}

// NewSpanAdapter creates a diff adapter for a span layer
func NewSpanAdapter(typeName string, opts ...AdapterOption) *SpanAdapter {
	return &SpanAdapter{baseAdapter: newBase(typeName, opts)}
}

// Kind returns KindSpan
func (a *SpanAdapter) Kind() LayerKind { return KindSpan }

// SelectAnnotationsInWindow returns span annotations directly overlapping the window
func (a *SpanAdapter) SelectAnnotationsInWindow(c *cas.CAS, begin, end int) []*cas.FeatureStructure {
	return c.SelectOverlapping(a.typeName, begin, end)
}

// Position computes the span position of an annotation or one of its link slots
func (a *SpanAdapter) Position(c *cas.CAS, fs *cas.FeatureStructure, linkFeature, role string, linkBegin, linkEnd int, mode LinkMode) (Position, error) {
	pos := noLink(Position{
		Kind:        KindSpan,
		Type:        a.typeName,
		Begin:       fs.Begin,
		End:         fs.End,
		SourceBegin: -1,
		SourceEnd:   -1,
		TargetBegin: -1,
		TargetEnd:   -1,
	})
	return linkPosition(pos, linkFeature, role, linkBegin, linkEnd, mode), nil
}

// RelationAdapter handles annotations connecting a source and a target annotation.
// Relations are positioned by their endpoints only; their own offsets are ignored.
type RelationAdapter struct {
	baseAdapter
	sourceFeature string
	targetFeature string
}

// NewRelationAdapter creates a diff adapter for a relation layer
func NewRelationAdapter(typeName, sourceFeature, targetFeature string, opts ...AdapterOption) *RelationAdapter {
	return &RelationAdapter{
		baseAdapter:   newBase(typeName, opts),
		sourceFeature: sourceFeature,
		targetFeature: targetFeature,
	}
}

// Kind returns KindRelation
func (a *RelationAdapter) Kind() LayerKind { return KindRelation }

// SourceFeature returns the name of the feature holding the relation source
func (a *RelationAdapter) SourceFeature() string { return a.sourceFeature }

// TargetFeature returns the name of the feature holding the relation target
func (a *RelationAdapter) TargetFeature() string { return a.targetFeature }

// Endpoints resolves the source and target annotations of a relation
func (a *RelationAdapter) Endpoints(fs *cas.FeatureStructure) (*cas.FeatureStructure, *cas.FeatureStructure, error) {
	source, ok := fs.FeatureRef(a.sourceFeature)
	if !ok {
		return nil, nil, fmt.Errorf("relation %s#%d has no source in feature %s", fs.Type, fs.ID, a.sourceFeature)
	}
	target, ok := fs.FeatureRef(a.targetFeature)
	if !ok {
		return nil, nil, fmt.Errorf("relation %s#%d has no target in feature %s", fs.Type, fs.ID, a.targetFeature)
	}
	return source, target, nil
}

// SelectAnnotationsInWindow returns relations whose union endpoint extent overlaps the window
func (a *RelationAdapter) SelectAnnotationsInWindow(c *cas.CAS, begin, end int) []*cas.FeatureStructure {
	var result []*cas.FeatureStructure
	for _, fs := range c.Select(a.typeName) {
		source, target, err := a.Endpoints(fs)
		if err != nil {
			a.logger.Warn("Skipping relation with missing endpoint",
				logging.String("document", originOf(c).DocumentID),
				logging.Error(err))
			continue
		}
		unionBegin := min(source.Begin, target.Begin)
		unionEnd := max(source.End, target.End)
		if cas.Overlaps(unionBegin, unionEnd, begin, end) {
			result = append(result, fs)
		}
	}
	return result
}

// Position computes the relation position of an annotation or one of its link slots
func (a *RelationAdapter) Position(c *cas.CAS, fs *cas.FeatureStructure, linkFeature, role string, linkBegin, linkEnd int, mode LinkMode) (Position, error) {
	source, target, err := a.Endpoints(fs)
	if err != nil {
		return Position{}, err
	}
	pos := noLink(Position{
		Kind:        KindRelation,
		Type:        a.typeName,
		Begin:       -1,
		End:         -1,
		SourceBegin: source.Begin,
		SourceEnd:   source.End,
		TargetBegin: target.Begin,
		TargetEnd:   target.End,
	})
	return linkPosition(pos, linkFeature, role, linkBegin, linkEnd, mode), nil
}

// DocumentAdapter handles document-level annotations which carry no meaningful offsets
type DocumentAdapter struct {
	baseAdapter
}

// NewDocumentAdapter creates a diff adapter for a document metadata layer
func NewDocumentAdapter(typeName string, opts ...AdapterOption) *DocumentAdapter {
	return &DocumentAdapter{baseAdapter: newBase(typeName, opts)}
}

// Kind returns KindDocument
func (a *DocumentAdapter) Kind() LayerKind { return KindDocument }

// SelectAnnotationsInWindow returns all annotations of the layer regardless of the window
func (a *DocumentAdapter) SelectAnnotationsInWindow(c *cas.CAS, begin, end int) []*cas.FeatureStructure {
	return c.Select(a.typeName)
}

// Position computes the document position of an annotation or one of its link slots
func (a *DocumentAdapter) Position(c *cas.CAS, fs *cas.FeatureStructure, linkFeature, role string, linkBegin, linkEnd int, mode LinkMode) (Position, error) {
	pos := noLink(Position{
		Kind:        KindDocument,
		Type:        a.typeName,
		Begin:       -1,
		End:         -1,
		SourceBegin: -1,
		SourceEnd:   -1,
		TargetBegin: -1,
		TargetEnd:   -1,
	})
	return linkPosition(pos, linkFeature, role, linkBegin, linkEnd, mode), nil
}
