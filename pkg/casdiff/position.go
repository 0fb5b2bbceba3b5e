package casdiff

import (
	"cmp"
	"fmt"
	"strings"
)

// LayerKind identifies the shape of the annotations a diff adapter handles
type LayerKind int

const (
	KindSpan LayerKind = iota
	KindRelation
	KindDocument
)

// String returns the name of the layer kind
func (k LayerKind) String() string {
	switch k {
	case KindSpan:
		return "span"
	case KindRelation:
		return "relation"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// LinkMode controls how link feature slots are turned into sub-positions
type LinkMode int

const (
	// LinkModeNone marks a position that is not a link sub-position
	LinkModeNone LinkMode = iota
	// OneTargetMultipleRoles keys the sub-position by the link target; the role is the label
	OneTargetMultipleRoles
	// MultipleTargetsOneRole keys the sub-position by the role; the target is the label
	MultipleTargetsOneRole
	// MultipleTargetsMultipleRoles keys the sub-position by role and target; there is no label
	MultipleTargetsMultipleRoles
)

// String returns the name of the link mode
func (m LinkMode) String() string {
	switch m {
	case OneTargetMultipleRoles:
		return "one-target-multiple-roles"
	case MultipleTargetsOneRole:
		return "multiple-targets-one-role"
	case MultipleTargetsMultipleRoles:
		return "multiple-targets-multiple-roles"
	default:
		return "none"
	}
}

// Position identifies the same annotation slot across different annotators' CASes.
// It is comparable and used directly as a map key: two positions are equal iff all
// fields are equal.
type Position struct {
	Kind  LayerKind
	Type  string
	Begin int
	End   int

	SourceBegin int
	SourceEnd   int
	TargetBegin int
	TargetEnd   int

	LinkFeature     string
	LinkRole        string
	LinkTargetBegin int
	LinkTargetEnd   int
	LinkMode        LinkMode
}

// IsLinkPosition reports whether the position describes a link feature slot
func (p Position) IsLinkPosition() bool {
	return p.LinkFeature != ""
}

// Base returns the position of the annotation owning a link sub-position
func (p Position) Base() Position {
	p.LinkFeature = ""
	p.LinkRole = ""
	p.LinkTargetBegin = -1
	p.LinkTargetEnd = -1
	p.LinkMode = LinkModeNone
	return p
}

// String renders the position for logs and reports
func (p Position) String() string {
	var sb strings.Builder
	sb.WriteString(p.Type)
	switch p.Kind {
	case KindSpan:
		fmt.Fprintf(&sb, " [%d-%d]", p.Begin, p.End)
	case KindRelation:
		fmt.Fprintf(&sb, " [%d-%d -> %d-%d]", p.SourceBegin, p.SourceEnd, p.TargetBegin, p.TargetEnd)
	case KindDocument:
		sb.WriteString(" [document]")
	}
	if p.IsLinkPosition() {
		fmt.Fprintf(&sb, " %s", p.LinkFeature)
		switch p.LinkMode {
		case OneTargetMultipleRoles:
			fmt.Fprintf(&sb, " -> [%d-%d]", p.LinkTargetBegin, p.LinkTargetEnd)
		case MultipleTargetsOneRole:
			fmt.Fprintf(&sb, " role=%s", p.LinkRole)
		case MultipleTargetsMultipleRoles:
			fmt.Fprintf(&sb, " role=%s -> [%d-%d]", p.LinkRole, p.LinkTargetBegin, p.LinkTargetEnd)
		}
	}
	return sb.String()
}

// ComparePositions orders positions by type, kind, offsets and link attributes
func ComparePositions(a, b Position) int {
	return cmp.Or(
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Begin, b.Begin),
		cmp.Compare(b.End, a.End),
		cmp.Compare(a.SourceBegin, b.SourceBegin),
		cmp.Compare(a.SourceEnd, b.SourceEnd),
		cmp.Compare(a.TargetBegin, b.TargetBegin),
		cmp.Compare(a.TargetEnd, b.TargetEnd),
		cmp.Compare(a.LinkFeature, b.LinkFeature),
		cmp.Compare(a.LinkRole, b.LinkRole),
		cmp.Compare(a.LinkTargetBegin, b.LinkTargetBegin),
		cmp.Compare(a.LinkTargetEnd, b.LinkTargetEnd),
		cmp.Compare(a.LinkMode, b.LinkMode),
	)
}
