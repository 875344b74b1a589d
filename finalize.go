package vcgraph

import "strings"

// shrinkDiff drops the removal entries of moved nodes, the hashes nothing
// needs to recreate a node from, and everything below removed nodes.
func shrinkDiff(root *DiffNode, moves map[string]string) {
	var shrink func(d *DiffNode)
	shrink = func(d *DiffNode) {
		if d.isMoved() {
			removeOrigin(root, d, moves)
		}
		if !d.isAdded() || d.isMoved() {
			d.Hash = ""
		}
		if d.isRemoved() {
			d.Children = nil
			return
		}
		for _, relid := range d.childRelids() {
			if c := d.Children[relid]; c != nil {
				shrink(c)
			}
		}
	}
	shrink(root)
}

// removeOrigin deletes the removal entry left behind by a moved node. The
// entry sits at the origin path, below the new location of its parent when
// that moved as well.
func removeOrigin(root, moved *DiffNode, moves map[string]string) {
	from := moved.MovedFrom
	candidates := []string{from}
	if parent := parentPath(from); parent != "" {
		if translated := translatePath(parent, moves); translated != parent {
			candidates = append(candidates, joinPath(translated, lastRelid(from)))
		}
	}
	for _, path := range candidates {
		if origin := root.Lookup(path); origin != nil && origin != moved && origin.isRemoved() && origin.GUID == moved.GUID {
			root.remove(path)
		}
	}
}

// finalizeDiff turns the raw pointer, set and meta data of every node into
// changes, expressing source side paths in terms of the target tree.
func finalizeDiff(d *DiffNode, moves map[string]string) {
	if raw := d.raw; raw != nil {
		d.raw = nil
		if raw.hasPointer {
			source := make(map[string]any, len(raw.pointerSource))
			for name, target := range raw.pointerSource {
				if path, ok := target.(string); ok {
					source[name] = translatePath(path, moves)
				} else {
					source[name] = target
				}
			}
			d.Pointer = diffObjects(source, raw.pointerTarget)
		}
		if raw.hasSet {
			source := make(map[string]*SetDiff, len(raw.setSource))
			for name, s := range raw.setSource {
				s = s.clone()
				members := make(map[string]*MemberDiff, len(s.Members))
				for path, m := range s.Members {
					members[translatePath(path, moves)] = m
				}
				s.Members = members
				source[name] = s
			}
			d.Set = diffSets(source, raw.setTarget)
		}
		if raw.hasMeta {
			source, _ := translateKeys(raw.metaSource, func(path string) string {
				return translatePath(path, moves)
			}).(map[string]any)
			d.Meta = diffObjects(source, raw.metaTarget)
		}
	}
	for _, c := range d.Children {
		if c != nil {
			finalizeDiff(c, moves)
		}
	}
	normalize(d)
}

// translateKeys copies a meta object, renaming its path keys and the paths
// listed in its aspects through translate.
func translateKeys(v any, translate func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if strings.HasPrefix(k, "/") {
				k = translate(k)
			}
			out[k] = translateKeys(item, translate)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			if path, ok := item.(string); ok && strings.HasPrefix(path, "/") {
				out[i] = translate(path)
			} else {
				out[i] = item
			}
		}
		return out
	}
	return v
}

func diffSets(source, target map[string]*SetDiff) map[string]*SetDiff {
	diff := make(map[string]*SetDiff)
	for name := range source {
		if _, ok := target[name]; !ok {
			diff[name] = &SetDiff{Deleted: true}
		}
	}
	for name, t := range target {
		s, ok := source[name]
		if !ok {
			diff[name] = t.clone()
			continue
		}
		change := &SetDiff{
			Attr:    keyValueDiff(sortedKeys(s.Attr), sortedKeys(t.Attr), lookup(s.Attr), lookup(t.Attr)),
			Reg:     keyValueDiff(sortedKeys(s.Reg), sortedKeys(t.Reg), lookup(s.Reg), lookup(t.Reg)),
			Members: make(map[string]*MemberDiff),
		}
		for path := range s.Members {
			if _, ok := t.Members[path]; !ok {
				change.Members[path] = &MemberDiff{Deleted: true}
			}
		}
		for path, tm := range t.Members {
			sm, ok := s.Members[path]
			if !ok {
				change.Members[path] = tm.clone()
				continue
			}
			m := &MemberDiff{
				Attr: keyValueDiff(sortedKeys(sm.Attr), sortedKeys(tm.Attr), lookup(sm.Attr), lookup(tm.Attr)),
				Reg:  keyValueDiff(sortedKeys(sm.Reg), sortedKeys(tm.Reg), lookup(sm.Reg), lookup(tm.Reg)),
			}
			if len(m.Attr) > 0 || len(m.Reg) > 0 {
				change.Members[path] = m
			}
		}
		if len(change.Attr) > 0 || len(change.Reg) > 0 || len(change.Members) > 0 {
			diff[name] = change
		}
	}
	return diff
}

func lookup(m map[string]any) func(string) any {
	return func(key string) any { return m[key] }
}

// normalize drops empty sections and, when a node carries nothing but its
// identity, the identity as well.
func normalize(d *DiffNode) {
	if len(d.Attr) == 0 {
		d.Attr = nil
	}
	if len(d.Reg) == 0 {
		d.Reg = nil
	}
	if len(d.Pointer) == 0 {
		d.Pointer = nil
	}
	if d.Meta != nil && !pruneEmpty(d.Meta) {
		d.Meta = nil
	}
	for _, s := range d.Set {
		if s == nil || s.Deleted {
			continue
		}
		if len(s.Attr) == 0 {
			s.Attr = nil
		}
		if len(s.Reg) == 0 {
			s.Reg = nil
		}
		if len(s.Members) == 0 {
			s.Members = nil
		}
		for _, m := range s.Members {
			if m != nil && len(m.Attr) == 0 {
				m.Attr = nil
			}
			if m != nil && len(m.Reg) == 0 {
				m.Reg = nil
			}
		}
	}
	if len(d.Set) == 0 {
		d.Set = nil
	}
	for relid, c := range d.Children {
		if c == nil {
			delete(d.Children, relid)
			continue
		}
		normalize(c)
		if c.empty() {
			delete(d.Children, relid)
		}
	}
	if len(d.Children) == 0 {
		d.Children = nil
	}

	identityOnly := d.Hash == "" && d.Removed == nil && d.MovedFrom == "" && d.CollidingRelid == "" &&
		!d.ChildrenListChanged && d.Attr == nil && d.Reg == nil && d.Pointer == nil &&
		d.Set == nil && d.Meta == nil && d.Children == nil && d.raw == nil
	if identityOnly {
		d.GUID = ""
		d.OGuids, d.OBaseGuids, d.OOGuids, d.OOBaseGuids = nil, nil, nil, nil
	}
}
