package casdiff

import "fmt"

// LinkDefinition declares a link feature of a layer
type LinkDefinition struct {
	Name string `json:"name" yaml:"name"`
	Mode string `json:"mode" yaml:"mode"`
}

// LayerDefinition declares a layer in configuration files and API requests
type LayerDefinition struct {
	Kind          string           `json:"kind" yaml:"kind"`
	Type          string           `json:"type" yaml:"type"`
	LabelFeatures []string         `json:"label_features,omitempty" yaml:"label_features,omitempty"`
	Source        string           `json:"source_feature,omitempty" yaml:"source_feature,omitempty"`
	Target        string           `json:"target_feature,omitempty" yaml:"target_feature,omitempty"`
	Links         []LinkDefinition `json:"links,omitempty" yaml:"links,omitempty"`
}

// ParseLinkMode parses the name of a link mode
func ParseLinkMode(name string) (LinkMode, error) {
	for _, mode := range []LinkMode{OneTargetMultipleRoles, MultipleTargetsOneRole, MultipleTargetsMultipleRoles} {
		if mode.String() == name {
			return mode, nil
		}
	}
	return LinkModeNone, fmt.Errorf("unknown link mode: %q", name)
}

// Adapter builds the diff adapter a definition describes. An empty kind means a span layer.
func (d LayerDefinition) Adapter() (DiffAdapter, error) {
	if d.Type == "" {
		return nil, fmt.Errorf("layer definition has no type")
	}

	opts := []AdapterOption{WithLabelFeatures(d.LabelFeatures...)}
	for _, link := range d.Links {
		mode, err := ParseLinkMode(link.Mode)
		if err != nil {
			return nil, fmt.Errorf("layer %s link %s: %w", d.Type, link.Name, err)
		}
		opts = append(opts, WithLinkFeature(link.Name, mode))
	}

	switch d.Kind {
	case "", KindSpan.String():
		return NewSpanAdapter(d.Type, opts...), nil
	case KindRelation.String():
		if d.Source == "" || d.Target == "" {
			return nil, fmt.Errorf("relation layer %s needs source and target features", d.Type)
		}
		return NewRelationAdapter(d.Type, d.Source, d.Target, opts...), nil
	case KindDocument.String():
		return NewDocumentAdapter(d.Type, opts...), nil
	default:
		return nil, fmt.Errorf("unknown layer kind: %q", d.Kind)
	}
}

// NewRegistryFromDefinitions builds a registry with one adapter per definition
func NewRegistryFromDefinitions(definitions ...LayerDefinition) (*Registry, error) {
	adapters := make([]DiffAdapter, 0, len(definitions))
	for _, d := range definitions {
		adapter, err := d.Adapter()
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return NewRegistry(adapters...)
}
