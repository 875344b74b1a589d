package vcgraph

import (
	"encoding/json"
	"fmt"
)

func (d *DiffNode) isRemoved() bool { return d.Removed != nil && *d.Removed }
func (d *DiffNode) isAdded() bool   { return d.Removed != nil && !*d.Removed }
func (d *DiffNode) isMoved() bool   { return d.MovedFrom != "" }

func (d *DiffNode) childRelids() []string {
	return sortedKeys(d.Children)
}

func (d *DiffNode) child(relid string) *DiffNode {
	if d == nil {
		return nil
	}
	return d.Children[relid]
}

func (d *DiffNode) ensureChild(relid string) *DiffNode {
	if d.Children == nil {
		d.Children = make(map[string]*DiffNode)
	}
	c := d.Children[relid]
	if c == nil {
		c = &DiffNode{}
		d.Children[relid] = c
	}
	return c
}

// Lookup returns the diff node at path, or nil when the delta does not
// reach it.
func (d *DiffNode) Lookup(path string) *DiffNode {
	cur := d
	for _, relid := range splitNodePath(path) {
		if cur = cur.child(relid); cur == nil {
			return nil
		}
	}
	return cur
}

// ensure returns the diff node at path, creating empty nodes on the way.
func (d *DiffNode) ensure(path string) *DiffNode {
	cur := d
	for _, relid := range splitNodePath(path) {
		cur = cur.ensureChild(relid)
	}
	return cur
}

// insert places node at path, replacing whatever was there.
func (d *DiffNode) insert(path string, node *DiffNode) {
	if path == "" {
		*d = *node
		return
	}
	parent := d.ensure(parentPath(path))
	if parent.Children == nil {
		parent.Children = make(map[string]*DiffNode)
	}
	parent.Children[lastRelid(path)] = node
}

// remove drops the diff node at path. Missing paths are ignored.
func (d *DiffNode) remove(path string) {
	if path == "" {
		return
	}
	if parent := d.Lookup(parentPath(path)); parent != nil {
		delete(parent.Children, lastRelid(path))
	}
}

// find returns the first diff node carrying guid, in relid order, and its
// path.
func (d *DiffNode) find(guid string) (*DiffNode, string, bool) {
	if guid == "" {
		return nil, "", false
	}
	return d.findFrom("", guid)
}

func (d *DiffNode) findFrom(path, guid string) (*DiffNode, string, bool) {
	if d.GUID == guid {
		return d, path, true
	}
	for _, relid := range d.childRelids() {
		if n, p, ok := d.Children[relid].findFrom(joinPath(path, relid), guid); ok {
			return n, p, true
		}
	}
	return nil, "", false
}

// walk visits every diff node depth first, parents before children.
func (d *DiffNode) walk(path string, visit func(path string, n *DiffNode)) {
	visit(path, d)
	for _, relid := range d.childRelids() {
		if c := d.Children[relid]; c != nil {
			c.walk(joinPath(path, relid), visit)
		}
	}
}

func cloneGUIDs(s GUIDSet) GUIDSet {
	if s == nil {
		return nil
	}
	out := make(GUIDSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s *SetDiff) clone() *SetDiff {
	if s == nil {
		return nil
	}
	out := &SetDiff{Deleted: s.Deleted, Attr: cloneObject(s.Attr), Reg: cloneObject(s.Reg)}
	if s.Members != nil {
		out.Members = make(map[string]*MemberDiff, len(s.Members))
		for path, m := range s.Members {
			out.Members[path] = m.clone()
		}
	}
	return out
}

func (m *MemberDiff) clone() *MemberDiff {
	if m == nil {
		return nil
	}
	return &MemberDiff{Deleted: m.Deleted, Attr: cloneObject(m.Attr), Reg: cloneObject(m.Reg)}
}

func cloneSets(sets map[string]*SetDiff) map[string]*SetDiff {
	if sets == nil {
		return nil
	}
	out := make(map[string]*SetDiff, len(sets))
	for name, s := range sets {
		out[name] = s.clone()
	}
	return out
}

// single copies the node without its children.
func (d *DiffNode) single() *DiffNode {
	out := &DiffNode{
		GUID:                d.GUID,
		Hash:                d.Hash,
		MovedFrom:           d.MovedFrom,
		CollidingRelid:      d.CollidingRelid,
		ChildrenListChanged: d.ChildrenListChanged,
		Attr:                cloneObject(d.Attr),
		Reg:                 cloneObject(d.Reg),
		Pointer:             cloneObject(d.Pointer),
		Set:                 cloneSets(d.Set),
		Meta:                cloneObject(d.Meta),
		OGuids:              cloneGUIDs(d.OGuids),
		OBaseGuids:          cloneGUIDs(d.OBaseGuids),
		OOGuids:             cloneGUIDs(d.OOGuids),
		OOBaseGuids:         cloneGUIDs(d.OOBaseGuids),
		raw:                 d.raw,
	}
	if d.Removed != nil {
		out.Removed = boolPtr(*d.Removed)
	}
	return out
}

// Clone returns a deep copy of the delta tree.
func (d *DiffNode) Clone() *DiffNode {
	if d == nil {
		return nil
	}
	out := d.single()
	if len(d.Children) > 0 {
		out.Children = make(map[string]*DiffNode, len(d.Children))
		for relid, c := range d.Children {
			out.Children[relid] = c.Clone()
		}
	}
	return out
}

// mergeFrom folds other into d: scalar fields of other win when set, maps
// and children are merged key by key.
func (d *DiffNode) mergeFrom(other *DiffNode) {
	if other.GUID != "" {
		d.GUID = other.GUID
	}
	if other.Hash != "" {
		d.Hash = other.Hash
	}
	if other.Removed != nil {
		d.Removed = boolPtr(*other.Removed)
	}
	if other.MovedFrom != "" {
		d.MovedFrom = other.MovedFrom
	}
	if other.CollidingRelid != "" {
		d.CollidingRelid = other.CollidingRelid
	}
	d.ChildrenListChanged = d.ChildrenListChanged || other.ChildrenListChanged
	d.Attr = mergeObjects(d.Attr, other.Attr)
	d.Reg = mergeObjects(d.Reg, other.Reg)
	d.Pointer = mergeObjects(d.Pointer, other.Pointer)
	d.Meta = mergeObjects(d.Meta, other.Meta)
	for name, s := range other.Set {
		if d.Set == nil {
			d.Set = make(map[string]*SetDiff)
		}
		d.Set[name] = s.clone()
	}
	d.OGuids = mergeGUIDs(d.OGuids, other.OGuids)
	d.OBaseGuids = mergeGUIDs(d.OBaseGuids, other.OBaseGuids)
	d.OOGuids = mergeGUIDs(d.OOGuids, other.OOGuids)
	d.OOBaseGuids = mergeGUIDs(d.OOBaseGuids, other.OOBaseGuids)
	if other.raw != nil {
		d.raw = other.raw
	}
	for relid, c := range other.Children {
		if existing := d.child(relid); existing != nil {
			existing.mergeFrom(c)
		} else {
			d.ensureChild(relid)
			d.Children[relid] = c
		}
	}
}

func mergeObjects(into, from map[string]any) map[string]any {
	if from == nil {
		return into
	}
	if into == nil {
		into = make(map[string]any, len(from))
	}
	for k, v := range from {
		into[k] = cloneValue(v)
	}
	return into
}

func mergeGUIDs(into, from GUIDSet) GUIDSet {
	if from == nil {
		return into
	}
	if into == nil {
		into = make(GUIDSet, len(from))
	}
	for k := range from {
		into[k] = true
	}
	return into
}

// empty reports whether the node carries nothing at all.
func (d *DiffNode) empty() bool {
	return d.GUID == "" && d.Hash == "" && d.Removed == nil && d.MovedFrom == "" &&
		d.CollidingRelid == "" && !d.ChildrenListChanged && d.Attr == nil && d.Reg == nil &&
		d.Pointer == nil && d.Set == nil && d.Meta == nil && d.OGuids == nil &&
		d.OBaseGuids == nil && d.OOGuids == nil && d.OOBaseGuids == nil &&
		len(d.Children) == 0 && d.raw == nil
}

type diffNodeFields DiffNode

func (d *DiffNode) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal((*diffNodeFields)(d))
	if err != nil || len(d.Children) == 0 {
		return raw, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for relid, c := range d.Children {
		if c == nil {
			continue
		}
		if reservedKeys[relid] {
			return nil, fmt.Errorf("relid %q collides with a reserved key", relid)
		}
		encoded, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		fields[relid] = encoded
	}
	return json.Marshal(fields)
}

func (d *DiffNode) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	own := make(map[string]json.RawMessage)
	for key, value := range fields {
		if reservedKeys[key] {
			own[key] = value
			continue
		}
		var c DiffNode
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("child %q: %w", key, err)
		}
		if d.Children == nil {
			d.Children = make(map[string]*DiffNode)
		}
		d.Children[key] = &c
	}
	raw, err := json.Marshal(own)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, (*diffNodeFields)(d))
}

func (s *SetDiff) MarshalJSON() ([]byte, error) {
	if s.Deleted {
		return json.Marshal(DeleteMarker)
	}
	out := make(map[string]any, len(s.Members)+2)
	if s.Attr != nil {
		out["attr"] = s.Attr
	}
	if s.Reg != nil {
		out["reg"] = s.Reg
	}
	for path, m := range s.Members {
		out[path] = m
	}
	return json.Marshal(out)
}

func (s *SetDiff) UnmarshalJSON(data []byte) error {
	var marker string
	if json.Unmarshal(data, &marker) == nil {
		if marker != DeleteMarker {
			return fmt.Errorf("unexpected set value %q", marker)
		}
		*s = SetDiff{Deleted: true}
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*s = SetDiff{}
	for key, value := range fields {
		var err error
		switch key {
		case "attr":
			err = json.Unmarshal(value, &s.Attr)
		case "reg":
			err = json.Unmarshal(value, &s.Reg)
		default:
			var m MemberDiff
			if err = json.Unmarshal(value, &m); err == nil {
				if s.Members == nil {
					s.Members = make(map[string]*MemberDiff)
				}
				s.Members[key] = &m
			}
		}
		if err != nil {
			return fmt.Errorf("set field %q: %w", key, err)
		}
	}
	return nil
}

func (m *MemberDiff) MarshalJSON() ([]byte, error) {
	if m.Deleted {
		return json.Marshal(DeleteMarker)
	}
	out := make(map[string]any, 2)
	if m.Attr != nil {
		out["attr"] = m.Attr
	}
	if m.Reg != nil {
		out["reg"] = m.Reg
	}
	return json.Marshal(out)
}

func (m *MemberDiff) UnmarshalJSON(data []byte) error {
	var marker string
	if json.Unmarshal(data, &marker) == nil {
		if marker != DeleteMarker {
			return fmt.Errorf("unexpected member value %q", marker)
		}
		*m = MemberDiff{Deleted: true}
		return nil
	}
	var fields struct {
		Attr map[string]any `json:"attr"`
		Reg  map[string]any `json:"reg"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = MemberDiff{Attr: fields.Attr, Reg: fields.Reg}
	return nil
}
