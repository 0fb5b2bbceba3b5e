package casdiff

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
)

const text = "Alice met Bob in Paris"

func spanCAS(labels map[[2]int]string) *cas.CAS {
	c := cas.New(text)
	c.SetMetadata(&cas.DocumentMetadata{CollectionID: "project-1", DocumentID: "doc-1"})
	for offsets, label := range labels {
		c.Annotate("NamedEntity", offsets[0], offsets[1], map[string]any{"value": label})
	}
	return c
}

func neAdapter() DiffAdapter {
	return NewSpanAdapter("NamedEntity", WithLabelFeatures("value"))
}

func TestDiffClassification(t *testing.T) {
	casByUser := map[string]*cas.CAS{
		"anna": spanCAS(map[[2]int]string{{0, 5}: "PER", {10, 13}: "PER", {17, 22}: "LOC"}),
		"ben":  spanCAS(map[[2]int]string{{0, 5}: "PER", {10, 13}: "ORG"}),
	}

	result, err := Diff(casByUser, neAdapter())
	require.NoError(t, err)

	assert.Equal(t, []string{"anna", "ben"}, result.CasGroupIDs())
	positions := result.Positions()
	require.Len(t, positions, 3)

	alice := result.ConfigurationSet(positions[0])
	require.NotNil(t, alice)
	assert.Equal(t, Agreement, result.Classify(alice))
	assert.Equal(t, "doc-1", alice.Origin().DocumentID)

	bob := result.ConfigurationSet(positions[1])
	assert.Equal(t, Disagreement, result.Classify(bob))
	require.Len(t, bob.Configurations(), 2)
	label, ok := bob.ConfigurationsFor("ben")[0].Label("value")
	assert.True(t, ok)
	assert.Equal(t, "ORG", label)

	paris := result.ConfigurationSet(positions[2])
	assert.Equal(t, Incomplete, result.Classify(paris))
	assert.Equal(t, []string{"anna"}, paris.CasGroupIDs())

	assert.Len(t, result.IncompleteSets(), 1)
	assert.Len(t, result.DifferingSets(), 1)
	assert.Equal(t, Summary{Total: 3, Agreement: 1, Disagreement: 1, Incomplete: 1}, result.Summary())
}

func TestDiffStackedAnnotations(t *testing.T) {
	anna := spanCAS(map[[2]int]string{{0, 5}: "PER"})
	anna.Annotate("NamedEntity", 0, 5, map[string]any{"value": "PER"})
	ben := spanCAS(map[[2]int]string{{0, 5}: "PER"})

	result, err := Diff(map[string]*cas.CAS{"anna": anna, "ben": ben}, neAdapter())
	require.NoError(t, err)

	set := result.ConfigurationSet(result.Positions()[0])
	assert.True(t, result.IsStacked(set))
	assert.Equal(t, 2, set.AnnotationCount("anna"))
	assert.Equal(t, Disagreement, result.Classify(set))
	assert.Len(t, result.StackedSets(), 1)
}

func TestDiffUnsetLabelDiffersFromEmpty(t *testing.T) {
	anna := cas.New(text)
	anna.Annotate("NamedEntity", 0, 5, nil)
	ben := cas.New(text)
	ben.Annotate("NamedEntity", 0, 5, map[string]any{"value": ""})

	result, err := Diff(map[string]*cas.CAS{"anna": anna, "ben": ben}, neAdapter())
	require.NoError(t, err)

	set := result.ConfigurationSet(result.Positions()[0])
	assert.Len(t, set.Configurations(), 2)
}

func TestDiffNilCasCountsAsRater(t *testing.T) {
	casByUser := map[string]*cas.CAS{
		"anna": spanCAS(map[[2]int]string{{0, 5}: "PER"}),
		"ben":  nil,
	}

	result, err := Diff(casByUser, neAdapter())
	require.NoError(t, err)

	assert.Equal(t, []string{"anna", "ben"}, result.CasGroupIDs())
	set := result.ConfigurationSet(result.Positions()[0])
	assert.False(t, result.IsComplete(set))
}

func TestDiffMissingMetadata(t *testing.T) {
	c := cas.New(text)
	c.Annotate("NamedEntity", 0, 5, map[string]any{"value": "PER"})

	result, err := Diff(map[string]*cas.CAS{"anna": c}, neAdapter())
	require.NoError(t, err)

	set := result.ConfigurationSet(result.Positions()[0])
	assert.Equal(t, Origin{}, set.Origin())
}

func TestDiffWindow(t *testing.T) {
	casByUser := map[string]*cas.CAS{
		"anna": spanCAS(map[[2]int]string{{0, 5}: "PER", {17, 22}: "LOC"}),
	}
	registry, err := NewRegistry(neAdapter())
	require.NoError(t, err)

	result, err := NewEngine(registry).DiffWindow(casByUser, 15, 22)
	require.NoError(t, err)
	require.Len(t, result.Positions(), 1)
	assert.Equal(t, 17, result.Positions()[0].Begin)

	_, err = NewEngine(registry).DiffWindow(casByUser, 10, 5)
	assert.Error(t, err)
}

func relationCAS(label string, sourceBegin, sourceEnd int) *cas.CAS {
	c := cas.New(text)
	source := c.Annotate("Token", sourceBegin, sourceEnd, nil)
	target := c.Annotate("Token", 10, 13, nil)
	c.Annotate("Dependency", 0, 0, map[string]any{
		"Governor":  source,
		"Dependent": target,
		"type":      label,
	})
	return c
}

func TestDiffRelations(t *testing.T) {
	adapter := NewRelationAdapter("Dependency", "Governor", "Dependent", WithLabelFeatures("type"))

	casByUser := map[string]*cas.CAS{
		"anna": relationCAS("nsubj", 0, 5),
		"ben":  relationCAS("dobj", 0, 5),
		"cleo": relationCAS("nsubj", 6, 9),
	}

	result, err := Diff(casByUser, adapter)
	require.NoError(t, err)
	require.Len(t, result.Positions(), 2)

	first := result.Positions()[0]
	assert.Equal(t, KindRelation, first.Kind)
	assert.Equal(t, -1, first.Begin)
	assert.Equal(t, 0, first.SourceBegin)
	assert.Equal(t, 10, first.TargetBegin)

	set := result.ConfigurationSet(first)
	assert.Equal(t, Incomplete, result.Classify(set))
	assert.Len(t, set.Configurations(), 2)
}

func TestDiffSkipsRelationWithoutEndpoint(t *testing.T) {
	adapter := NewRelationAdapter("Dependency", "Governor", "Dependent")
	c := cas.New(text)
	c.Annotate("Dependency", 0, 5, map[string]any{"Governor": c.Annotate("Token", 0, 5, nil)})

	result, err := Diff(map[string]*cas.CAS{"anna": c}, adapter)
	require.NoError(t, err)
	assert.Empty(t, result.Positions())
}

func TestRelationWithoutEndpointIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logging.GetLogger().SetOutput(&buf)
	t.Cleanup(func() { logging.GetLogger().SetOutput(os.Stdout) })

	adapter := NewRelationAdapter("Dependency", "Governor", "Dependent")
	c := cas.New(text)
	c.SetMetadata(&cas.DocumentMetadata{DocumentID: "doc-1"})
	alice := c.Annotate("Token", 0, 5, nil)
	bob := c.Annotate("Token", 10, 13, nil)
	c.Annotate("Dependency", 0, 13, map[string]any{"Governor": alice, "Dependent": bob})
	c.Annotate("Dependency", 0, 5, map[string]any{"Governor": alice})

	result, err := Diff(map[string]*cas.CAS{"anna": c}, adapter)
	require.NoError(t, err)
	assert.Len(t, result.Positions(), 1)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Skipping relation with missing endpoint"), out)
	assert.Contains(t, out, "layer=Dependency")
	assert.Contains(t, out, "document=doc-1")
}

func TestDiffDocumentLayer(t *testing.T) {
	adapter := NewDocumentAdapter("DocumentLabel", WithLabelFeatures("category"))
	anna := cas.New(text)
	anna.Annotate("DocumentLabel", 0, 0, map[string]any{"category": "news"})
	ben := cas.New(text)
	ben.Annotate("DocumentLabel", 0, 0, map[string]any{"category": "news"})

	registry, err := NewRegistry(adapter)
	require.NoError(t, err)
	result, err := NewEngine(registry).DiffWindow(map[string]*cas.CAS{"anna": anna, "ben": ben}, 10, 12)
	require.NoError(t, err)

	require.Len(t, result.Positions(), 1)
	set := result.ConfigurationSet(result.Positions()[0])
	assert.Equal(t, KindDocument, set.Position().Kind)
	assert.True(t, result.IsAgreement(set))
}

func TestDiffLinkModes(t *testing.T) {
	tests := []struct {
		name         string
		mode         LinkMode
		anna, ben    func(alice, bob *cas.FeatureStructure) []cas.Link
		wantSubs     int
		wantAgreeing int
	}{
		{
			name: "one target multiple roles compares roles",
			mode: OneTargetMultipleRoles,
			anna: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: alice}, {Role: "patient", Target: bob}}
			},
			ben: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: alice}, {Role: "agent", Target: bob}}
			},
			wantSubs:     2,
			wantAgreeing: 1,
		},
		{
			name: "multiple targets one role compares targets",
			mode: MultipleTargetsOneRole,
			anna: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: alice}}
			},
			ben: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: bob}}
			},
			wantSubs:     1,
			wantAgreeing: 0,
		},
		{
			name: "multiple targets multiple roles has no label",
			mode: MultipleTargetsMultipleRoles,
			anna: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: alice}}
			},
			ben: func(alice, bob *cas.FeatureStructure) []cas.Link {
				return []cas.Link{{Role: "agent", Target: alice}, {Role: "agent", Target: bob}}
			},
			wantSubs:     2,
			wantAgreeing: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := func(f func(alice, bob *cas.FeatureStructure) []cas.Link) *cas.CAS {
				c := cas.New(text)
				alice := c.Annotate("Token", 0, 5, nil)
				bob := c.Annotate("Token", 10, 13, nil)
				c.Annotate("Event", 6, 9, map[string]any{"args": f(alice, bob)})
				return c
			}
			adapter := NewSpanAdapter("Event", WithLinkFeature("args", tt.mode))

			result, err := Diff(map[string]*cas.CAS{"anna": build(tt.anna), "ben": build(tt.ben)}, adapter)
			require.NoError(t, err)

			subs, agreeing := 0, 0
			for _, set := range result.ConfigurationSets() {
				if !set.Position().IsLinkPosition() {
					continue
				}
				subs++
				assert.Equal(t, tt.mode, set.Position().LinkMode)
				assert.Equal(t, "Event", set.Position().Base().Type)
				if result.IsAgreement(set) {
					agreeing++
				}
			}
			assert.Equal(t, tt.wantSubs, subs)
			assert.Equal(t, tt.wantAgreeing, agreeing)
		})
	}
}

func TestSubPositions(t *testing.T) {
	c := cas.New(text)
	alice := c.Annotate("Token", 0, 5, nil)
	event := c.Annotate("Event", 6, 9, map[string]any{"args": []cas.Link{{Role: "agent", Target: alice}, {Role: "x"}}})
	adapter := NewSpanAdapter("Event", WithLinkFeature("args", OneTargetMultipleRoles))

	subs, err := SubPositions(adapter, c, event)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 0, subs[0].LinkTargetBegin)
	assert.Equal(t, 5, subs[0].LinkTargetEnd)
	assert.Empty(t, subs[0].LinkRole)
	assert.Equal(t, "agent", subs[0].Link.Role)
	assert.Same(t, alice, subs[0].Link.Target)
}

func TestDiffIsDeterministic(t *testing.T) {
	build := func() map[string]*cas.CAS {
		return map[string]*cas.CAS{
			"anna": spanCAS(map[[2]int]string{{0, 5}: "PER", {10, 13}: "PER", {17, 22}: "LOC"}),
			"ben":  spanCAS(map[[2]int]string{{0, 5}: "ORG", {17, 22}: "LOC"}),
			"cleo": spanCAS(map[[2]int]string{{10, 13}: "PER"}),
		}
	}

	first, err := Diff(build(), neAdapter())
	require.NoError(t, err)
	second, err := Diff(build(), neAdapter())
	require.NoError(t, err)

	assert.Equal(t, first.Positions(), second.Positions())
	assert.Equal(t, first.Summary(), second.Summary())
	for _, pos := range first.Positions() {
		a, b := first.ConfigurationSet(pos), second.ConfigurationSet(pos)
		require.Len(t, b.Configurations(), len(a.Configurations()))
		for i := range a.Configurations() {
			assert.Equal(t, a.Configurations()[i].Labels(), b.Configurations()[i].Labels())
			assert.Equal(t, a.Configurations()[i].CasGroupIDs(), b.Configurations()[i].CasGroupIDs())
		}
	}
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry(neAdapter(), NewDocumentAdapter("A"))
	require.NoError(t, err)

	err = registry.Register(NewSpanAdapter("NamedEntity"))
	assert.ErrorIs(t, err, ErrDuplicateAdapter)

	adapters := registry.Adapters()
	require.Len(t, adapters, 2)
	assert.Equal(t, "A", adapters[0].Type())

	_, err = registry.Get("missing")
	assert.Error(t, err)
}

func TestEngineObserver(t *testing.T) {
	registry, err := NewRegistry(neAdapter())
	require.NoError(t, err)

	var observed *DiffResult
	engine := NewEngine(registry, WithObserver(func(result *DiffResult, elapsed time.Duration) {
		observed = result
	}))

	result, err := engine.Diff(map[string]*cas.CAS{"anna": spanCAS(map[[2]int]string{{0, 5}: "PER"})})
	require.NoError(t, err)
	assert.Same(t, result, observed)
}

func TestPositionOrderingAndString(t *testing.T) {
	a := Position{Kind: KindSpan, Type: "NE", Begin: 0, End: 5}
	b := Position{Kind: KindSpan, Type: "NE", Begin: 0, End: 3}
	assert.Negative(t, ComparePositions(a, b))
	assert.Zero(t, ComparePositions(a, a))
	assert.Equal(t, "NE [0-5]", a.String())

	link := Position{Kind: KindSpan, Type: "NE", Begin: 0, End: 5, LinkFeature: "args", LinkRole: "agent", LinkMode: MultipleTargetsOneRole}
	assert.True(t, link.IsLinkPosition())
	assert.Equal(t, "NE [0-5] args role=agent", link.String())
	assert.False(t, link.Base().IsLinkPosition())
}
