package cas

import (
	"sort"
)

// DocumentMetadataType is the type name of the document metadata annotation
const DocumentMetadataType = "DocumentMetaData"

// DocumentMetadata identifies the document a CAS belongs to
type DocumentMetadata struct {
	CollectionID  string `json:"collection_id"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title,omitempty"`
}

// Link is one slot of a link feature
type Link struct {
	Role   string
	Target *FeatureStructure
}

// FeatureStructure is a single annotation inside a CAS
type FeatureStructure struct {
	ID       int
	Type     string
	Begin    int
	End      int
	Features map[string]any
}

// CAS holds the document text and all annotations of one data owner
type CAS struct {
	text        string
	metadata    *DocumentMetadata
	annotations []*FeatureStructure
	nextID      int
}

// New creates an empty CAS over the given text
func New(text string) *CAS {
	return &CAS{
		text:   text,
		nextID: 1,
	}
}

// Text returns the document text
func (c *CAS) Text() string {
	return c.text
}

// Metadata returns the document metadata, which may be nil
func (c *CAS) Metadata() *DocumentMetadata {
	return c.metadata
}

// SetMetadata sets the document metadata
func (c *CAS) SetMetadata(md *DocumentMetadata) {
	c.metadata = md
}

// Add appends an annotation and assigns it an ID if it has none
func (c *CAS) Add(fs *FeatureStructure) *FeatureStructure {
	if fs.ID == 0 {
		fs.ID = c.nextID
	}
	if fs.ID >= c.nextID {
		c.nextID = fs.ID + 1
	}
	if fs.Features == nil {
		fs.Features = make(map[string]any)
	}
	c.annotations = append(c.annotations, fs)
	return fs
}

// Annotate is a shorthand for adding an annotation with the given features
func (c *CAS) Annotate(typeName string, begin, end int, features map[string]any) *FeatureStructure {
	return c.Add(&FeatureStructure{
		Type:     typeName,
		Begin:    begin,
		End:      end,
		Features: features,
	})
}

// Remove deletes an annotation from the CAS. It reports whether it was present.
func (c *CAS) Remove(fs *FeatureStructure) bool {
	for i, a := range c.annotations {
		if a == fs {
			c.annotations = append(c.annotations[:i], c.annotations[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of annotations in the CAS
func (c *CAS) Len() int {
	return len(c.annotations)
}

// All returns every annotation in index order
func (c *CAS) All() []*FeatureStructure {
	result := make([]*FeatureStructure, len(c.annotations))
	copy(result, c.annotations)
	sortAnnotations(result)
	return result
}

// Select returns all annotations of a type in index order
func (c *CAS) Select(typeName string) []*FeatureStructure {
	var result []*FeatureStructure
	for _, a := range c.annotations {
		if a.Type == typeName {
			result = append(result, a)
		}
	}
	sortAnnotations(result)
	return result
}

// SelectOverlapping returns annotations of a type whose extent overlaps [begin, end).
// Zero-width annotations count as overlapping when they sit inside the window.
func (c *CAS) SelectOverlapping(typeName string, begin, end int) []*FeatureStructure {
	var result []*FeatureStructure
	for _, a := range c.Select(typeName) {
		if Overlaps(a.Begin, a.End, begin, end) {
			result = append(result, a)
		}
	}
	return result
}

// Types returns the distinct annotation type names present in the CAS
func (c *CAS) Types() []string {
	seen := make(map[string]bool)
	var types []string
	for _, a := range c.annotations {
		if !seen[a.Type] {
			seen[a.Type] = true
			types = append(types, a.Type)
		}
	}
	sort.Strings(types)
	return types
}

// CoveredText returns the text between the annotation offsets
func (c *CAS) CoveredText(fs *FeatureStructure) string {
	return c.Substring(fs.Begin, fs.End)
}

// Substring returns the document text between two offsets, clamped to the text bounds
func (c *CAS) Substring(begin, end int) string {
	if begin < 0 {
		begin = 0
	}
	if end > len(c.text) {
		end = len(c.text)
	}
	if begin >= end {
		return ""
	}
	return c.text[begin:end]
}

// Overlaps reports whether [aBegin, aEnd) and [bBegin, bEnd) overlap
func Overlaps(aBegin, aEnd, bBegin, bEnd int) bool {
	if aBegin == aEnd {
		return aBegin >= bBegin && aBegin <= bEnd
	}
	return aBegin < bEnd && bBegin < aEnd
}

func sortAnnotations(list []*FeatureStructure) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Begin != b.Begin {
			return a.Begin < b.Begin
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.ID < b.ID
	})
}
