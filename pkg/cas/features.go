package cas

import (
	"fmt"
	"strconv"
)

// FeatureString returns a primitive feature rendered as a label. The second return value
// is false when the feature is unset.
func (fs *FeatureStructure) FeatureString(name string) (string, bool) {
	v, ok := fs.Features[name]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case *FeatureStructure:
		if val == nil {
			return "", false
		}
		return fmt.Sprintf("%s[%d-%d]", val.Type, val.Begin, val.End), true
	case []Link:
		return fmt.Sprintf("%d links", len(val)), true
	default:
		return fmt.Sprint(val), true
	}
}

// FeatureFloat returns a numeric feature
func (fs *FeatureStructure) FeatureFloat(name string) (float64, bool) {
	switch val := fs.Features[name].(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}

// FeatureBool returns a boolean feature, false when unset
func (fs *FeatureStructure) FeatureBool(name string) bool {
	b, _ := fs.Features[name].(bool)
	return b
}

// FeatureRef returns a feature pointing at another annotation
func (fs *FeatureStructure) FeatureRef(name string) (*FeatureStructure, bool) {
	ref, ok := fs.Features[name].(*FeatureStructure)
	if !ok || ref == nil {
		return nil, false
	}
	return ref, true
}

// FeatureLinks returns the slots of a link feature
func (fs *FeatureStructure) FeatureLinks(name string) []Link {
	links, _ := fs.Features[name].([]Link)
	return links
}

// SetFeature sets a feature value
func (fs *FeatureStructure) SetFeature(name string, value any) {
	if fs.Features == nil {
		fs.Features = make(map[string]any)
	}
	fs.Features[name] = value
}
