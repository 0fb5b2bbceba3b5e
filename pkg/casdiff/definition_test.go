package casdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLayerDefinitionAdapters(t *testing.T) {
	var definitions []LayerDefinition
	require.NoError(t, yaml.Unmarshal([]byte(`
- type: NamedEntity
  label_features: [value]
- kind: relation
  type: Dependency
  source_feature: Governor
  target_feature: Dependent
  label_features: [DependencyType]
- kind: document
  type: Sentiment
  label_features: [polarity]
- type: SemPred
  links:
    - name: arguments
      mode: multiple-targets-one-role
`), &definitions))

	registry, err := NewRegistryFromDefinitions(definitions...)
	require.NoError(t, err)

	adapters := registry.Adapters()
	require.Len(t, adapters, 4)

	relation, err := registry.Get("Dependency")
	require.NoError(t, err)
	assert.Equal(t, KindRelation, relation.Kind())
	assert.Equal(t, []string{"DependencyType"}, relation.LabelFeatures())

	document, err := registry.Get("Sentiment")
	require.NoError(t, err)
	assert.Equal(t, KindDocument, document.Kind())

	pred, err := registry.Get("SemPred")
	require.NoError(t, err)
	assert.Equal(t, KindSpan, pred.Kind())
	assert.Equal(t, []LinkFeature{{Name: "arguments", Mode: MultipleTargetsOneRole}}, pred.LinkFeatures())
}

func TestLayerDefinitionErrors(t *testing.T) {
	tests := []struct {
		name       string
		definition LayerDefinition
	}{
		{"missing type", LayerDefinition{}},
		{"unknown kind", LayerDefinition{Kind: "chain", Type: "Coref"}},
		{"relation without endpoints", LayerDefinition{Kind: "relation", Type: "Dependency"}},
		{"unknown link mode", LayerDefinition{Type: "SemPred", Links: []LinkDefinition{{Name: "args", Mode: "any"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.definition.Adapter()
			assert.Error(t, err)
		})
	}

	_, err := NewRegistryFromDefinitions(
		LayerDefinition{Type: "NamedEntity"},
		LayerDefinition{Type: "NamedEntity"},
	)
	assert.ErrorIs(t, err, ErrDuplicateAdapter)
}

func TestParseLinkMode(t *testing.T) {
	for _, mode := range []LinkMode{OneTargetMultipleRoles, MultipleTargetsOneRole, MultipleTargetsMultipleRoles} {
		parsed, err := ParseLinkMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := ParseLinkMode("none")
	assert.Error(t, err)
}
