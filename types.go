package vcgraph

import "strings"

// DeleteMarker is the value a delta records for an attribute, registry
// entry, pointer, set, member or meta rule that it removes.
const DeleteMarker = "*to*delete*"

// BasePointer is the pointer name under which a delta records a change of
// the inheritance base.
const BasePointer = "base"

// GUIDSet is a set of node guids. On the wire it is an object of guid -> true.
type GUIDSet map[string]bool

// DiffNode is one node of a delta tree. Children are keyed by relid and
// mirror the layout of the tree the delta was computed against.
type DiffNode struct {
	GUID                string `json:"guid,omitempty"`
	Hash                string `json:"hash,omitempty"`
	Removed             *bool  `json:"removed,omitempty"`   // nil: existing node, false: added, true: removed
	MovedFrom           string `json:"movedFrom,omitempty"` // origin path in the source tree
	CollidingRelid      string `json:"collidingRelid,omitempty"`
	ChildrenListChanged bool   `json:"childrenListChanged,omitempty"`

	Attr    map[string]any      `json:"attr,omitempty"`
	Reg     map[string]any      `json:"reg,omitempty"`
	Pointer map[string]any      `json:"pointer,omitempty"` // target path, nil or DeleteMarker
	Set     map[string]*SetDiff `json:"set,omitempty"`
	Meta    map[string]any      `json:"meta,omitempty"`

	OGuids      GUIDSet `json:"oGuids,omitempty"`
	OBaseGuids  GUIDSet `json:"oBaseGuids,omitempty"`
	OOGuids     GUIDSet `json:"ooGuids,omitempty"`
	OOBaseGuids GUIDSet `json:"ooBaseGuids,omitempty"`

	Children map[string]*DiffNode `json:"-"`

	// raw holds both sides of pointer, set and meta data until the move map
	// of the whole delta is known.
	raw *rawChange
}

// SetDiff is the change of one named set. An empty, non-deleted SetDiff
// means the set exists on the target side.
type SetDiff struct {
	Deleted bool
	Attr    map[string]any
	Reg     map[string]any
	Members map[string]*MemberDiff // keyed by member path
}

// MemberDiff is the change of one set member. An empty, non-deleted
// MemberDiff adds the member.
type MemberDiff struct {
	Deleted bool
	Attr    map[string]any
	Reg     map[string]any
}

// FieldKind enumerates the fields of a DiffNode that count as a real change
// of the node itself.
type FieldKind int

const (
	FieldHash FieldKind = iota
	FieldAttr
	FieldReg
	FieldPointer
	FieldSet
	FieldMeta
	FieldMovedFrom
	FieldRemoved
	fieldKindCount
)

var fieldKindNames = map[FieldKind]string{
	FieldHash:      "hash",
	FieldAttr:      "attr",
	FieldReg:       "reg",
	FieldPointer:   "pointer",
	FieldSet:       "set",
	FieldMeta:      "meta",
	FieldMovedFrom: "movedFrom",
	FieldRemoved:   "removed",
}

func (k FieldKind) String() string {
	if name, ok := fieldKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Has reports whether the field of kind k is present on d.
func (d *DiffNode) Has(k FieldKind) bool {
	switch k {
	case FieldHash:
		return d.Hash != ""
	case FieldAttr:
		return d.Attr != nil
	case FieldReg:
		return d.Reg != nil
	case FieldPointer:
		return d.Pointer != nil
	case FieldSet:
		return d.Set != nil
	case FieldMeta:
		return d.Meta != nil
	case FieldMovedFrom:
		return d.MovedFrom != ""
	case FieldRemoved:
		return d.Removed != nil
	}
	panic("vcgraph: unhandled field kind " + k.String())
}

// HasRealChange reports whether d changes its node, as opposed to only
// carrying identity data for its descendants.
func (d *DiffNode) HasRealChange() bool {
	for k := FieldKind(0); k < fieldKindCount; k++ {
		if d.Has(k) {
			return true
		}
	}
	return false
}

// Selection names the side chosen for a conflict item.
type Selection string

const (
	SelectMine   Selection = "mine"
	SelectTheirs Selection = "theirs"
	SelectOther  Selection = "other"
)

// ConflictSide is one side's proposal in a conflict item.
type ConflictSide struct {
	Path             string `json:"path"`
	Info             string `json:"info"`
	Value            any    `json:"value"`
	NodePath         string `json:"nodePath"`
	OriginalNodePath string `json:"originalNodePath,omitempty"`
}

// ConflictItem is one field-level disagreement between two deltas.
type ConflictItem struct {
	Selected Selection     `json:"selected"`
	Mine     ConflictSide  `json:"mine"`
	Theirs   ConflictSide  `json:"theirs"`
	Other    *ConflictSide `json:"other,omitempty"`
}

// ConflictRecord is one entry of a conflict table, keyed by field path.
type ConflictRecord struct {
	Value            any             `json:"value"`
	ConflictingPaths map[string]bool `json:"conflictingPaths"`
}

// ConcatResult is the outcome of combining two deltas. Merge holds every
// change that went in without conflict; contested fields keep the base
// delta's value until the items are resolved.
type ConcatResult struct {
	Items  []*ConflictItem            `json:"items"`
	Mine   map[string]*ConflictRecord `json:"mine"`
	Theirs map[string]*ConflictRecord `json:"theirs"`
	Merge  *DiffNode                  `json:"merge"`
}

func newSide(path string, value any) ConflictSide {
	return ConflictSide{
		Path:     path,
		Info:     strings.ReplaceAll(path, "/", " / "),
		Value:    value,
		NodePath: nodePathOf(path),
	}
}

func boolPtr(v bool) *bool {
	return &v
}
