package vcgraph

import "strings"

// record returns the entry of table at path, creating it with value.
func (s *concatSession) record(table map[string]*ConflictRecord, path string, value any) *ConflictRecord {
	rec := table[path]
	if rec == nil {
		rec = &ConflictRecord{Value: cloneValue(value), ConflictingPaths: make(map[string]bool)}
		table[path] = rec
	}
	return rec
}

// link marks the mine entry at minePath and the theirs entry at theirsPath
// as conflicting with each other.
func (s *concatSession) link(minePath, theirsPath string) {
	if rec := s.mine[minePath]; rec != nil {
		rec.ConflictingPaths[theirsPath] = true
	}
	if rec := s.theirs[theirsPath]; rec != nil {
		rec.ConflictingPaths[minePath] = true
	}
}

// pair records a conflict on the same field of both sides.
func (s *concatSession) pair(path string, mineValue, theirsValue any) {
	s.record(s.mine, path, mineValue)
	s.record(s.theirs, path, theirsValue)
	s.link(path, path)
}

// oppose records fieldPath on the given side as conflicting with the entry
// at opposingPath on the other side.
func (s *concatSession) oppose(mine bool, fieldPath string, value any, opposingPath string) {
	if mine {
		s.record(s.mine, fieldPath, value)
		s.link(fieldPath, opposingPath)
		return
	}
	s.record(s.theirs, fieldPath, value)
	s.link(opposingPath, fieldPath)
}

// gatherNodeConflicts records every change of d as conflicting with
// opposingPath. Base side nodes contribute their whole subtree.
func (s *concatSession) gatherNodeConflicts(d *DiffNode, mine bool, path, opposingPath string) {
	if d.isMoved() || d.isAdded() {
		s.oppose(mine, path, generic(d.single()), opposingPath)
	}
	for _, field := range []struct {
		name   string
		values map[string]any
	}{{"attr", d.Attr}, {"reg", d.Reg}, {"pointer", d.Pointer}} {
		for _, key := range sortedKeys(field.values) {
			s.oppose(mine, path+"/"+field.name+"/"+key, field.values[key], opposingPath)
		}
	}
	for _, name := range sortedKeys(d.Set) {
		setPath := path + "/set/" + name
		if d.Set[name].Deleted {
			s.oppose(mine, setPath, DeleteMarker, opposingPath)
		} else {
			s.gatherSetConflicts(d.Set[name], mine, setPath, opposingPath)
		}
	}
	if d.Meta != nil {
		s.gatherMetaConflicts(d.Meta, mine, path+"/meta", opposingPath)
	}
	if mine {
		for _, relid := range d.childRelids() {
			s.gatherNodeConflicts(d.Children[relid], true, joinPath(path, relid), opposingPath)
		}
	}
}

func (s *concatSession) gatherSetConflicts(set *SetDiff, mine bool, path, opposingPath string) {
	for _, key := range sortedKeys(set.Attr) {
		s.oppose(mine, path+"/attr/"+key, set.Attr[key], opposingPath)
	}
	for _, key := range sortedKeys(set.Reg) {
		s.oppose(mine, path+"/reg/"+key, set.Reg[key], opposingPath)
	}
	for _, member := range sortedKeys(set.Members) {
		memberPath := path + embedPath(member)
		if set.Members[member].Deleted {
			s.oppose(mine, memberPath, DeleteMarker, opposingPath)
		} else {
			s.gatherMemberConflicts(set.Members[member], mine, memberPath, opposingPath)
		}
	}
}

// gatherMemberConflicts takes a member field path ending in "//".
func (s *concatSession) gatherMemberConflicts(m *MemberDiff, mine bool, memberPath, opposingPath string) {
	if len(m.Attr) == 0 && len(m.Reg) == 0 {
		s.oppose(mine, memberPath, map[string]any{}, opposingPath)
		return
	}
	for _, key := range sortedKeys(m.Attr) {
		s.oppose(mine, memberPath+"attr/"+key, m.Attr[key], opposingPath)
	}
	for _, key := range sortedKeys(m.Reg) {
		s.oppose(mine, memberPath+"reg/"+key, m.Reg[key], opposingPath)
	}
}

func (s *concatSession) gatherMetaConflicts(meta map[string]any, mine bool, path, opposingPath string) {
	for _, section := range sortedKeys(meta) {
		sectionPath := path + "/" + section
		rules, ok := meta[section].(map[string]any)
		if !ok {
			s.oppose(mine, sectionPath, meta[section], opposingPath)
			continue
		}
		switch section {
		case "children":
			s.gatherMetaRule(rules, mine, sectionPath, opposingPath)
		case "pointers", "aspects":
			for _, name := range sortedKeys(rules) {
				rule, ok := rules[name].(map[string]any)
				if !ok {
					s.oppose(mine, sectionPath+"/"+name, rules[name], opposingPath)
					continue
				}
				s.gatherMetaRule(rule, mine, sectionPath+"/"+name, opposingPath)
			}
		default:
			for _, name := range sortedKeys(rules) {
				s.oppose(mine, sectionPath+"/"+name, rules[name], opposingPath)
			}
		}
	}
}

// gatherMetaRule handles a rule made of limits and target paths.
func (s *concatSession) gatherMetaRule(rule map[string]any, mine bool, path, opposingPath string) {
	for _, key := range sortedKeys(rule) {
		if key == "min" || key == "max" {
			s.oppose(mine, path+"/"+key, rule[key], opposingPath)
		} else {
			s.oppose(mine, path+embedPath(key), rule[key], opposingPath)
		}
	}
}

// subtreeHasRealChange reports whether d or any node below it changes
// something.
func (d *DiffNode) subtreeHasRealChange() bool {
	if d.HasRealChange() {
		return true
	}
	for _, c := range d.Children {
		if c != nil && c.subtreeHasRealChange() {
			return true
		}
	}
	return false
}

// conflictItems pairs every mine entry with each theirs entry it conflicts
// with.
func (s *concatSession) conflictItems() []*ConflictItem {
	items := make([]*ConflictItem, 0)
	for _, minePath := range sortedKeys(s.mine) {
		rec := s.mine[minePath]
		for _, theirsPath := range sortedKeys(rec.ConflictingPaths) {
			theirs := s.theirs[theirsPath]
			if theirs == nil {
				continue
			}
			item := &ConflictItem{
				Selected: SelectMine,
				Mine:     newSide(minePath, rec.Value),
				Theirs:   newSide(theirsPath, theirs.Value),
			}
			item.Mine.OriginalNodePath = originalNodePath(s.base, item.Mine.NodePath)
			item.Theirs.OriginalNodePath = originalNodePath(s.ext, item.Theirs.NodePath)
			items = append(items, item)
		}
	}
	return items
}

func originalNodePath(d *DiffNode, nodePath string) string {
	if n := d.Lookup(nodePath); n != nil && n.CollidingRelid != "" {
		return joinPath(parentPath(nodePath), n.CollidingRelid)
	}
	return ""
}

// harmonize rewrites the path references of the base delta that point at
// its own nodes relocated by a collision guard. Extension references go
// through extToCommon instead.
func (s *concatSession) harmonize(d *DiffNode) {
	if len(s.baseRelocated) == 0 {
		return
	}
	translate := func(path string) string {
		return translatePath(path, s.baseRelocated)
	}
	d.walk("", func(_ string, n *DiffNode) {
		for name, target := range n.Pointer {
			if path, ok := target.(string); ok && strings.HasPrefix(path, "/") {
				n.Pointer[name] = translate(path)
			}
		}
		for _, set := range n.Set {
			if set == nil || set.Members == nil {
				continue
			}
			members := make(map[string]*MemberDiff, len(set.Members))
			for path, m := range set.Members {
				members[translate(path)] = m
			}
			set.Members = members
		}
		if n.Meta != nil {
			n.Meta, _ = translateKeys(n.Meta, translate).(map[string]any)
		}
	})
}
