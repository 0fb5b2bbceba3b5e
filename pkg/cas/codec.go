package cas

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

type jsonCAS struct {
	Text        string            `json:"text"`
	Metadata    *DocumentMetadata `json:"metadata,omitempty"`
	Annotations []jsonAnnotation  `json:"annotations"`
}

type jsonAnnotation struct {
	ID       int                        `json:"id"`
	Type     string                     `json:"type"`
	Begin    int                        `json:"begin"`
	End      int                        `json:"end"`
	Features map[string]json.RawMessage `json:"features,omitempty"`
}

type jsonRef struct {
	Ref *int `json:"ref"`
}

type jsonLinks struct {
	Links []jsonLink `json:"links"`
}

type jsonLink struct {
	Role string `json:"role"`
	Ref  int    `json:"ref"`
}

// Load reads a CAS from a JSON file
func Load(path string) (*CAS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CAS file: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CAS file %s: %w", path, err)
	}
	return c, nil
}

// Unmarshal decodes a CAS from its JSON representation. References between annotations
// are resolved after all annotations have been read, so forward references are allowed.
func Unmarshal(data []byte) (*CAS, error) {
	var doc jsonCAS
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	c := New(doc.Text)
	c.metadata = doc.Metadata

	byID := make(map[int]*FeatureStructure, len(doc.Annotations))
	for _, a := range doc.Annotations {
		if a.Type == "" {
			return nil, fmt.Errorf("annotation %d has no type", a.ID)
		}
		if a.ID != 0 {
			if _, dup := byID[a.ID]; dup {
				return nil, fmt.Errorf("duplicate annotation id %d", a.ID)
			}
		}
		fs := c.Add(&FeatureStructure{ID: a.ID, Type: a.Type, Begin: a.Begin, End: a.End})
		byID[fs.ID] = fs
	}

	for i, a := range doc.Annotations {
		fs := c.annotations[i]
		for name, raw := range a.Features {
			value, err := decodeFeature(raw, byID)
			if err != nil {
				return nil, fmt.Errorf("annotation %d feature %s: %w", fs.ID, name, err)
			}
			if value != nil {
				fs.Features[name] = value
			}
		}
	}

	if c.metadata == nil {
		if md := c.Select(DocumentMetadataType); len(md) > 0 {
			collection, _ := md[0].FeatureString("collectionId")
			document, _ := md[0].FeatureString("documentId")
			title, _ := md[0].FeatureString("documentTitle")
			c.metadata = &DocumentMetadata{CollectionID: collection, DocumentID: document, DocumentTitle: title}
		}
	}

	return c, nil
}

func decodeFeature(raw json.RawMessage, byID map[int]*FeatureStructure) (any, error) {
	var primitive any
	if err := json.Unmarshal(raw, &primitive); err != nil {
		return nil, err
	}

	obj, isObject := primitive.(map[string]any)
	if !isObject {
		return primitive, nil
	}

	if _, ok := obj["ref"]; ok {
		var ref jsonRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, err
		}
		if ref.Ref == nil {
			return nil, nil
		}
		target, ok := byID[*ref.Ref]
		if !ok {
			return nil, fmt.Errorf("unknown reference %d", *ref.Ref)
		}
		return target, nil
	}

	if _, ok := obj["links"]; ok {
		var links jsonLinks
		if err := json.Unmarshal(raw, &links); err != nil {
			return nil, err
		}
		result := make([]Link, 0, len(links.Links))
		for _, l := range links.Links {
			target, ok := byID[l.Ref]
			if !ok {
				return nil, fmt.Errorf("unknown link target %d", l.Ref)
			}
			result = append(result, Link{Role: l.Role, Target: target})
		}
		return result, nil
	}

	return nil, fmt.Errorf("unsupported object feature value")
}

// Marshal encodes a CAS to JSON
func Marshal(c *CAS) ([]byte, error) {
	doc := jsonCAS{
		Text:        c.text,
		Metadata:    c.metadata,
		Annotations: make([]jsonAnnotation, 0, len(c.annotations)),
	}

	for _, fs := range c.All() {
		a := jsonAnnotation{ID: fs.ID, Type: fs.Type, Begin: fs.Begin, End: fs.End}
		if len(fs.Features) > 0 {
			a.Features = make(map[string]json.RawMessage, len(fs.Features))
			names := make([]string, 0, len(fs.Features))
			for name := range fs.Features {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				raw, err := encodeFeature(fs.Features[name])
				if err != nil {
					return nil, fmt.Errorf("annotation %d feature %s: %w", fs.ID, name, err)
				}
				a.Features[name] = raw
			}
		}
		doc.Annotations = append(doc.Annotations, a)
	}

	return json.Marshal(doc)
}

func encodeFeature(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case *FeatureStructure:
		if v == nil {
			return json.Marshal(jsonRef{})
		}
		id := v.ID
		return json.Marshal(jsonRef{Ref: &id})
	case []Link:
		links := jsonLinks{Links: make([]jsonLink, 0, len(v))}
		for _, l := range v {
			if l.Target == nil {
				continue
			}
			links.Links = append(links.Links, jsonLink{Role: l.Role, Ref: l.Target.ID})
		}
		return json.Marshal(links)
	default:
		return json.Marshal(v)
	}
}
