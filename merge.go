package vcgraph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// concatSession holds the scratch state of one TryToConcatChanges call.
// base is the "mine" delta that absorbs the changes of ext ("theirs").
type concatSession struct {
	base *DiffNode
	ext  *DiffNode

	mine   map[string]*ConflictRecord
	theirs map[string]*ConflictRecord

	// Move maps of both deltas, destination <-> source, kept current when
	// a collision guard relocates a node.
	baseSrcFromDst map[string]string
	baseDstFromSrc map[string]string
	extSrcFromDst  map[string]string
	extDstFromSrc  map[string]string

	// Nodes given a fresh relid by a collision guard, old path -> new path.
	baseRelocated map[string]string
	extRelocated  map[string]string

	// guids removed by the base delta
	baseRemovals GUIDSet
}

// TryToConcatChanges combines two deltas computed against the same
// ancestor. Every change that does not contradict the other side goes into
// the returned merge delta; contradicting changes become conflict items.
// The arguments are not modified.
func TryToConcatChanges(mine, theirs *DiffNode) (*ConcatResult, error) {
	s := &concatSession{
		base:           cloneOrEmpty(mine),
		ext:            cloneOrEmpty(theirs),
		mine:           make(map[string]*ConflictRecord),
		theirs:         make(map[string]*ConflictRecord),
		baseSrcFromDst: make(map[string]string),
		baseDstFromSrc: make(map[string]string),
		extSrcFromDst:  make(map[string]string),
		extDstFromSrc:  make(map[string]string),
		baseRelocated:  make(map[string]string),
		extRelocated:   make(map[string]string),
		baseRemovals:   make(GUIDSet),
	}

	s.fixInheritanceCollision("", s.base, s.ext, true)
	s.fixInheritanceCollision("", s.ext, s.base, false)

	s.completeBase()
	collectMoves(s.base, "", s.baseSrcFromDst, s.baseDstFromSrc)
	collectMoves(s.ext, "", s.extSrcFromDst, s.extDstFromSrc)
	s.collectRemovals(s.base)

	if err := s.fixCollision("", "", s.base, s.ext); err != nil {
		return nil, err
	}
	s.harmonize(s.base)
	s.concatNode(s.ext, "")

	return &ConcatResult{
		Items:  s.conflictItems(),
		Mine:   s.mine,
		Theirs: s.theirs,
		Merge:  s.base,
	}, nil
}

func cloneOrEmpty(d *DiffNode) *DiffNode {
	if d == nil {
		return &DiffNode{}
	}
	return d.Clone()
}

// extToCommon maps a path of the extension's target tree to the layout of
// the merged tree.
func (s *concatSession) extToCommon(path string) string {
	path = translatePath(path, s.extRelocated)
	path = translatePath(path, s.extSrcFromDst)
	return translatePath(path, s.baseDstFromSrc)
}

func (s *concatSession) moveMaps(ofBase bool) (srcFromDst, dstFromSrc, relocated map[string]string) {
	if ofBase {
		return s.baseSrcFromDst, s.baseDstFromSrc, s.baseRelocated
	}
	return s.extSrcFromDst, s.extDstFromSrc, s.extRelocated
}

// relocate moves the entry at path of side to a fresh relid and records the
// new location.
func (s *concatSession) relocate(side *DiffNode, path string, taken map[string]bool, ofBase bool) string {
	relid := lastRelid(path)
	parent := side.Lookup(parentPath(path))
	node := parent.Children[relid]
	newRelid := randomRelid(taken)
	newPath := joinPath(parentPath(path), newRelid)

	delete(parent.Children, relid)
	parent.Children[newRelid] = node
	node.CollidingRelid = relid

	srcFromDst, dstFromSrc, relocated := s.moveMaps(ofBase)
	if src, ok := srcFromDst[path]; ok {
		delete(srcFromDst, path)
		srcFromDst[newPath] = src
		dstFromSrc[src] = newPath
	}
	relocated[path] = newPath
	return newPath
}

func randomRelid(taken map[string]bool) string {
	for size := 6; ; size++ {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:min(size, 32)]
		if !taken[candidate] && !reservedKeys[candidate] {
			return candidate
		}
	}
}

// fixInheritanceCollision relocates every node that side creates or moves
// into a place the other delta may also populate through a changed base
// of one of its containers.
func (s *concatSession) fixInheritanceCollision(path string, side, other *DiffNode, ofBase bool) {
	d := side.Lookup(path)
	if d == nil {
		return
	}
	if path != "" && (d.isAdded() || d.isMoved()) {
		parent := side.Lookup(parentPath(path))
		if s.containerCollides(side, other, parent.GUID, "/"+lastRelid(path), d.GUID, false) {
			taken := lo.SliceToMap(parent.childRelids(), func(relid string) (string, bool) { return relid, true })
			path = s.relocate(side, path, taken, ofBase)
		}
	}
	for _, relid := range d.childRelids() {
		s.fixInheritanceCollision(joinPath(path, relid), side, other, ofBase)
	}
}

// containerCollides walks up the containers of a new node and reports
// whether the other delta creates or moves a node at the same relative
// path below any base of a container, or rebases a container.
func (s *concatSession) containerCollides(side, other *DiffNode, containerGUID, relativePath, guid string, knownInOther bool) bool {
	if containerGUID == "" {
		return false
	}
	container, path, ok := other.find(containerGUID)
	diff := other
	if ok {
		knownInOther = true
	} else if container, path, ok = side.find(containerGUID); ok {
		diff = side
	} else {
		return false
	}

	bases := append(sortedKeys(container.OBaseGuids), sortedKeys(container.OOBaseGuids)...)
	for _, baseGUID := range lo.Uniq(bases) {
		baseDiff, _, ok := other.find(baseGUID)
		if !ok {
			continue
		}
		if at := baseDiff.Lookup(relativePath); at != nil && at.GUID != guid && (at.isAdded() || at.isMoved()) {
			return true
		}
	}
	if knownInOther {
		if _, rebased := container.Pointer[BasePointer].(string); rebased {
			return true
		}
	}

	if path == "" || parentPath(path) == "" {
		return false
	}
	parent := diff.Lookup(parentPath(path))
	if parent == nil {
		return false
	}
	return s.containerCollides(side, other, parent.GUID, "/"+lastRelid(path)+relativePath, guid, knownInOther)
}

// completeBase copies the identity of every node the extension introduces
// into the base delta, so both trees can be walked together.
func (s *concatSession) completeBase() {
	known := make(GUIDSet)
	s.base.walk("", func(_ string, n *DiffNode) {
		if n.GUID != "" {
			known[n.GUID] = true
		}
	})

	var complete func(base, ext *DiffNode, newItem bool)
	complete = func(base, ext *DiffNode, newItem bool) {
		if newItem {
			if ext.GUID != "" {
				base.GUID = ext.GUID
			}
			base.OGuids = mergeGUIDs(base.OGuids, ext.OGuids)
			base.OBaseGuids = mergeGUIDs(base.OBaseGuids, ext.OBaseGuids)
			base.OOGuids = mergeGUIDs(base.OOGuids, ext.OOGuids)
			base.OOBaseGuids = mergeGUIDs(base.OOBaseGuids, ext.OOBaseGuids)
			if ext.isAdded() {
				base.Removed = boolPtr(false)
			}
			if ext.Hash != "" {
				base.Hash = ext.Hash
			}
			if ext.CollidingRelid != "" {
				base.CollidingRelid = ext.CollidingRelid
			}
			if ext.ChildrenListChanged {
				base.ChildrenListChanged = true
			}
		}
		for _, relid := range ext.childRelids() {
			extChild := ext.Children[relid]
			if baseChild := base.child(relid); baseChild != nil {
				complete(baseChild, extChild, false)
				continue
			}
			if extChild.isMoved() || known[extChild.GUID] {
				continue
			}
			complete(base.ensureChild(relid), extChild, true)
		}
	}
	complete(s.base, s.ext, s.base.empty())
}

// collectMoves records every moved node of d, destination <-> source.
func collectMoves(d *DiffNode, path string, srcFromDst, dstFromSrc map[string]string) {
	d.walk(path, func(p string, n *DiffNode) {
		if n.isMoved() {
			srcFromDst[p] = n.MovedFrom
			dstFromSrc[n.MovedFrom] = p
		}
	})
}

func (s *concatSession) collectRemovals(d *DiffNode) {
	d.walk("", func(_ string, n *DiffNode) {
		if n.isRemoved() && n.GUID != "" {
			s.baseRemovals[n.GUID] = true
		}
	})
}

// fixCollision walks both deltas together and relocates one of two
// different nodes occupying the same slot.
func (s *concatSession) fixCollision(path, relid string, base, ext *DiffNode) error {
	if base.GUID != "" && ext.GUID != "" && base.GUID != ext.GUID {
		var side *DiffNode
		ofBase := false
		switch {
		case base.isMoved() && ext.isMoved():
			side = s.ext
		case base.isMoved() && ext.isAdded():
			side, ofBase = s.base, true
		case ext.isMoved() && base.isAdded():
			side = s.ext
		case base.isAdded() && ext.isAdded():
			side = s.ext
		}
		if side == nil || path == "" {
			return fmt.Errorf("%w at %q: %s vs %s", ErrGUIDMismatch, path, base.GUID, ext.GUID)
		}
		taken := make(map[string]bool)
		for _, d := range []*DiffNode{s.base.Lookup(parentPath(path)), s.ext.Lookup(parentPath(path))} {
			if d != nil {
				for r := range d.Children {
					taken[r] = true
				}
			}
		}
		s.relocate(side, path, taken, ofBase)
		return nil
	}

	for _, r := range base.childRelids() {
		if extChild := ext.child(r); extChild != nil {
			if err := s.fixCollision(joinPath(path, r), r, base.Children[r], extChild); err != nil {
				return err
			}
		}
	}
	return nil
}

// obstructions lists the guids of ext's ancestry that the base delta
// removed.
func (s *concatSession) obstructions(ext *DiffNode) []string {
	guids := append(sortedKeys(ext.OGuids), sortedKeys(ext.OOGuids)...)
	return lo.Uniq(lo.Filter(guids, func(guid string, _ int) bool { return s.baseRemovals[guid] }))
}

// obstructedBy lists the base nodes whose ancestry includes guid.
func (s *concatSession) obstructedBy(guid string) []string {
	var guids []string
	s.base.walk("", func(_ string, n *DiffNode) {
		if n.OGuids[guid] || n.OOGuids[guid] {
			guids = append(guids, n.GUID)
		}
	})
	return guids
}

// concatNode merges the extension node at path, then its children.
func (s *concatSession) concatNode(ext *DiffNode, path string) {
	guid := ext.GUID
	baseNode, basePath, found := s.base.find(guid)
	realBaseNode := baseNode

	switch {
	case ext.isRemoved():
		if !found || baseNode.isRemoved() || !baseNode.subtreeHasRealChange() {
			s.base.insert(path, ext.Clone())
		}
		for _, obstructed := range s.obstructedBy(guid) {
			node, nodePath, ok := s.base.find(obstructed)
			if !ok || node.isRemoved() || !node.HasRealChange() {
				continue
			}
			removedPath := path + "/removed"
			s.record(s.theirs, removedPath, true)
			s.gatherNodeConflicts(node, true, nodePath, removedPath)
		}
	case len(s.obstructions(ext)) > 0:
		for _, removed := range s.obstructions(ext) {
			_, removedNodePath, ok := s.base.find(removed)
			if !ok {
				continue
			}
			removedPath := removedNodePath + "/removed"
			if ext.HasRealChange() {
				s.record(s.mine, removedPath, true)
				s.gatherNodeConflicts(ext, false, path, removedPath)
			} else if realBaseNode != nil && realBaseNode.HasRealChange() {
				s.record(s.theirs, removedPath, true)
				s.gatherNodeConflicts(realBaseNode, true, path, removedPath)
			}
		}
	case found:
		if ext.isMoved() {
			if baseNode.isMoved() && path != basePath {
				s.record(s.mine, basePath, "move")
				s.record(s.theirs, path, "move")
				s.link(basePath, path)
			} else if path != basePath {
				baseNode.MovedFrom = ext.MovedFrom
				s.base.remove(basePath)
				s.base.insert(path, baseNode)
				basePath = path
			}
		}
		if path == basePath && baseNode.CollidingRelid == "" {
			baseNode.CollidingRelid = ext.CollidingRelid
		}
		path = basePath
		s.concatFields(baseNode, ext, path)
	case path != "":
		s.base.insert(path, s.fromExtension(ext.single()))
	}

	for _, relid := range ext.childRelids() {
		s.concatNode(ext.Children[relid], joinPath(path, relid))
	}
}

func (s *concatSession) concatFields(base, ext *DiffNode, path string) {
	if ext.Attr != nil {
		if base.Attr != nil {
			s.concatKeyValues(path+"/attr", base.Attr, ext.Attr, false)
		} else {
			base.Attr = cloneObject(ext.Attr)
		}
	}
	if ext.Reg != nil {
		if base.Reg != nil {
			s.concatKeyValues(path+"/reg", base.Reg, ext.Reg, false)
		} else {
			base.Reg = cloneObject(ext.Reg)
		}
	}
	if ext.Pointer != nil {
		if base.Pointer != nil {
			s.concatKeyValues(path+"/pointer", base.Pointer, ext.Pointer, true)
		} else {
			base.Pointer = s.pointersFromExtension(ext.Pointer)
		}
	}
	if ext.Set != nil {
		if base.Set != nil {
			s.concatSet(path+"/set", base.Set, ext.Set)
		} else {
			base.Set = make(map[string]*SetDiff, len(ext.Set))
			for name, set := range ext.Set {
				base.Set[name] = s.setFromExtension(set)
			}
		}
	}
	if ext.Meta != nil {
		if base.Meta != nil {
			s.concatMeta(path+"/meta", base.Meta, ext.Meta)
		} else {
			base.Meta = s.metaFromExtension(ext.Meta)
		}
	}
}

// fromExtension rewrites the path references of an extension node copy
// into the layout of the merged tree.
func (s *concatSession) fromExtension(d *DiffNode) *DiffNode {
	if d.Pointer != nil {
		d.Pointer = s.pointersFromExtension(d.Pointer)
	}
	for name, set := range d.Set {
		d.Set[name] = s.setFromExtension(set)
	}
	if d.Meta != nil {
		d.Meta = s.metaFromExtension(d.Meta)
	}
	return d
}

func (s *concatSession) pointerFromExtension(v any) any {
	if path, ok := v.(string); ok && path != DeleteMarker {
		return s.extToCommon(path)
	}
	return v
}

func (s *concatSession) pointersFromExtension(pointers map[string]any) map[string]any {
	out := make(map[string]any, len(pointers))
	for name, target := range pointers {
		out[name] = s.pointerFromExtension(target)
	}
	return out
}

func (s *concatSession) setFromExtension(set *SetDiff) *SetDiff {
	out := set.clone()
	if out.Members != nil {
		out.Members = make(map[string]*MemberDiff, len(set.Members))
		for path, m := range set.Members {
			out.Members[s.extToCommon(path)] = m.clone()
		}
	}
	return out
}

func (s *concatSession) metaFromExtension(meta map[string]any) map[string]any {
	out, _ := translateKeys(meta, s.extToCommon).(map[string]any)
	return out
}

// concatKeyValues merges name -> value changes. A name both sides change
// to different values becomes a conflict and keeps the base value.
func (s *concatSession) concatKeyValues(path string, base, ext map[string]any, pointers bool) {
	for _, name := range sortedKeys(ext) {
		value := ext[name]
		if pointers {
			value = s.pointerFromExtension(value)
		}
		fieldPath := path + "/" + name
		if current, ok := base[name]; ok && !sameValue(current, value) {
			s.pair(fieldPath, current, value)
			continue
		}
		base[name] = cloneValue(value)
	}
}

func (s *concatSession) concatSet(path string, base, ext map[string]*SetDiff) {
	for _, name := range sortedKeys(ext) {
		extSet := ext[name]
		setPath := path + "/" + name
		baseSet, ok := base[name]
		if !ok {
			base[name] = s.setFromExtension(extSet)
			continue
		}
		switch {
		case baseSet.Deleted && extSet.Deleted:
		case baseSet.Deleted:
			s.record(s.mine, setPath, DeleteMarker)
			s.gatherSetConflicts(extSet, false, setPath, setPath)
		case extSet.Deleted:
			s.record(s.theirs, setPath, DeleteMarker)
			s.gatherSetConflicts(baseSet, true, setPath, setPath)
		default:
			s.concatSetContent(setPath, baseSet, extSet)
		}
	}
}

func (s *concatSession) concatSetContent(setPath string, base, ext *SetDiff) {
	if ext.Attr != nil {
		if base.Attr != nil {
			s.concatKeyValues(setPath+"/attr", base.Attr, ext.Attr, false)
		} else {
			base.Attr = cloneObject(ext.Attr)
		}
	}
	if ext.Reg != nil {
		if base.Reg != nil {
			s.concatKeyValues(setPath+"/reg", base.Reg, ext.Reg, false)
		} else {
			base.Reg = cloneObject(ext.Reg)
		}
	}
	for _, member := range sortedKeys(ext.Members) {
		extMember := ext.Members[member]
		memberPath := s.extToCommon(member)
		fieldPath := setPath + embedPath(memberPath)
		baseMember, ok := base.Members[memberPath]
		if !ok {
			if base.Members == nil {
				base.Members = make(map[string]*MemberDiff)
			}
			base.Members[memberPath] = extMember.clone()
			continue
		}
		switch {
		case baseMember.Deleted && extMember.Deleted:
		case baseMember.Deleted:
			s.record(s.mine, fieldPath, DeleteMarker)
			s.gatherMemberConflicts(extMember, false, fieldPath, fieldPath)
		case extMember.Deleted:
			s.record(s.theirs, fieldPath, DeleteMarker)
			s.gatherMemberConflicts(baseMember, true, fieldPath, fieldPath)
		default:
			if extMember.Attr != nil {
				if baseMember.Attr != nil {
					s.concatKeyValues(fieldPath+"attr", baseMember.Attr, extMember.Attr, false)
				} else {
					baseMember.Attr = cloneObject(extMember.Attr)
				}
			}
			if extMember.Reg != nil {
				if baseMember.Reg != nil {
					s.concatKeyValues(fieldPath+"reg", baseMember.Reg, extMember.Reg, false)
				} else {
					baseMember.Reg = cloneObject(extMember.Reg)
				}
			}
		}
	}
}

// concatMeta merges the meta rule changes section by section.
func (s *concatSession) concatMeta(path string, base, ext map[string]any) {
	if sameValue(base, ext) {
		return
	}
	for _, section := range sortedKeys(ext) {
		extValue := ext[section]
		sectionPath := path + "/" + section
		baseValue, ok := base[section]
		if !ok {
			base[section] = translateKeys(extValue, s.extToCommon)
			continue
		}
		if baseValue == DeleteMarker || extValue == DeleteMarker {
			if !sameValue(baseValue, extValue) {
				s.pair(sectionPath, baseValue, extValue)
			}
			continue
		}
		baseObj, bok := baseValue.(map[string]any)
		extObj, eok := extValue.(map[string]any)
		if !bok || !eok {
			if !sameValue(baseValue, extValue) {
				s.pair(sectionPath, baseValue, extValue)
			}
			continue
		}
		switch section {
		case "children":
			s.mergeMetaItems(sectionPath, baseObj, extObj)
		case "pointers":
			s.mergeMetaRules(sectionPath, baseObj, extObj, s.mergeMetaItems)
		case "aspects":
			s.mergeMetaRules(sectionPath, baseObj, extObj, s.mergeMetaTargets)
		default:
			s.mergeMetaRules(sectionPath, baseObj, extObj, func(rulePath string, b, e map[string]any) {
				s.concatKeyValues(rulePath, b, e, false)
			})
		}
	}
}

// mergeMetaRules merges the named rules of a meta section, using merge for
// rules both sides changed.
func (s *concatSession) mergeMetaRules(path string, base, ext map[string]any, merge func(string, map[string]any, map[string]any)) {
	for _, name := range sortedKeys(ext) {
		extRule := ext[name]
		rulePath := path + "/" + name
		baseRule, ok := base[name]
		if !ok {
			base[name] = translateKeys(extRule, s.extToCommon)
			continue
		}
		baseObj, bok := baseRule.(map[string]any)
		extObj, eok := extRule.(map[string]any)
		if bok && eok {
			merge(rulePath, baseObj, extObj)
			continue
		}
		if !sameValue(baseRule, extRule) {
			s.pair(rulePath, baseRule, extRule)
		}
	}
}

// mergeMetaItems merges a cardinality rule: min, max and per target limits.
func (s *concatSession) mergeMetaItems(path string, base, ext map[string]any) {
	for _, key := range []string{"min", "max"} {
		extValue, ok := ext[key]
		if !ok {
			continue
		}
		if current, ok := base[key]; ok && !sameValue(current, extValue) {
			s.pair(path+"/"+key, current, extValue)
			continue
		}
		base[key] = extValue
	}
	for _, target := range sortedKeys(ext) {
		if target == "min" || target == "max" {
			continue
		}
		s.mergeMetaTarget(path, base, s.extToCommon(target), ext[target])
	}
}

// mergeMetaTargets merges a rule keyed by target paths only, like an aspect.
func (s *concatSession) mergeMetaTargets(path string, base, ext map[string]any) {
	for _, target := range sortedKeys(ext) {
		s.mergeMetaTarget(path, base, s.extToCommon(target), ext[target])
	}
}

func (s *concatSession) mergeMetaTarget(path string, base map[string]any, target string, extValue any) {
	if current, ok := base[target]; ok && !sameValue(current, extValue) {
		s.pair(path+embedPath(target), current, extValue)
		return
	}
	base[target] = cloneValue(extValue)
}
