package vcgraph

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ApplyReport lists the parts of a delta that could not be applied because
// a path it names no longer resolves.
type ApplyReport struct {
	Skipped []string `json:"skipped,omitempty"`
}

// Applier materializes deltas onto loaded trees.
type Applier struct {
	tree   Accessor
	logger zerolog.Logger
}

// NewApplier returns an Applier writing through tree.
func NewApplier(tree Accessor, opts Options) (*Applier, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Applier{
		tree:   tree,
		logger: opts.Logger.With().Str("component", "applier").Logger(),
	}, nil
}

// applySession is the state of one ApplyTreeDiff call.
type applySession struct {
	*Applier
	root   Node
	report *ApplyReport
	// moves done so far, origin path in the source tree -> current path
	moves map[string]string
}

// ApplyTreeDiff applies diff onto the tree of root in place. Containment
// changes go first, then the bases of new nodes, then content and
// deletions. Parts of the delta whose nodes cannot be found are skipped and
// reported; errors of the accessor abort the application.
func (a *Applier) ApplyTreeDiff(ctx context.Context, root Node, diff *DiffNode) (*ApplyReport, error) {
	s := &applySession{
		Applier: a,
		root:    root,
		report:  &ApplyReport{},
		moves:   make(map[string]string),
	}
	if diff == nil {
		return s.report, nil
	}
	diff = diff.Clone()

	if err := s.applyContainment(ctx, root, diff); err != nil {
		return s.report, err
	}
	if err := s.applyBases(ctx, "", diff, false); err != nil {
		return s.report, err
	}
	if err := s.applyContent(ctx, "", diff); err != nil {
		return s.report, err
	}
	return s.report, nil
}

func (s *applySession) skip(path, reason string) {
	s.logger.Warn().Str("path", path).Msg(reason)
	s.report.Skipped = append(s.report.Skipped, path)
}

// orderedRelids puts the moves that change relid last, so nodes vacate
// their slots before others arrive.
func orderedRelids(d *DiffNode) []string {
	var first, last []string
	for _, relid := range d.childRelids() {
		if c := d.Children[relid]; c.isMoved() && lastRelid(c.MovedFrom) != relid {
			last = append(last, relid)
		} else {
			first = append(first, relid)
		}
	}
	return append(first, last...)
}

func (s *applySession) applyContainment(ctx context.Context, node Node, d *DiffNode) error {
	t := s.tree
	placed := make(map[string]Node)
	var displaced []string
	for _, relid := range orderedRelids(d) {
		c := d.Children[relid]
		var child Node
		var err error
		switch {
		case c.isMoved():
			if child, err = s.moveInto(ctx, node, c, relid); err != nil {
				return err
			}
			if child != nil && t.GetRelid(child) != relid {
				displaced = append(displaced, relid)
			}
		case c.isRemoved():
			continue
		case c.isAdded():
			child, err = t.LoadChild(ctx, node, relid)
			if err != nil {
				return err
			}
			if c.Hash != "" && (child == nil || t.GetGUID(child) != c.GUID) {
				if child, err = t.CreateChildFromHash(ctx, node, relid, c.Hash); err != nil {
					return fmt.Errorf("failed to create %s/%s: %w", t.GetPath(node), relid, err)
				}
			}
		default:
			if child, err = t.LoadChild(ctx, node, relid); err != nil {
				return err
			}
		}
		if child == nil {
			s.skip(joinPath(t.GetPath(node), relid), "Missing node during patch application")
			delete(d.Children, relid)
			continue
		}
		placed[relid] = child
	}

	// a node that found its slot taken gets another chance once every
	// sibling has moved
	for _, relid := range displaced {
		c, child := d.Children[relid], placed[relid]
		if occupant, err := t.LoadChild(ctx, node, relid); err != nil {
			return err
		} else if occupant == nil {
			if child, err = t.MoveNode(ctx, child, node, relid); err != nil {
				return err
			}
			placed[relid] = child
			s.moves[c.MovedFrom] = t.GetPath(child)
		}
		if actual := t.GetRelid(child); actual != relid {
			s.logger.Debug().Str("path", t.GetPath(child)).Str("relid", relid).Msg("Moved node kept a fresh relid")
			delete(d.Children, relid)
			delete(placed, relid)
			d.Children[actual] = c
			placed[actual] = child
		}
	}

	for _, relid := range sortedKeys(placed) {
		if err := s.applyContainment(ctx, placed[relid], d.Children[relid]); err != nil {
			return err
		}
	}
	return nil
}

// moveInto brings the node a moved entry originates from under parent. It
// returns nil when the origin is gone.
func (s *applySession) moveInto(ctx context.Context, parent Node, c *DiffNode, relid string) (Node, error) {
	t := s.tree
	origin := translatePath(c.MovedFrom, s.moves)
	source, err := t.LoadByPath(ctx, t.GetRoot(parent), origin)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", origin, err)
	}
	if source == nil {
		return nil, nil
	}
	child, err := t.MoveNode(ctx, source, parent, relid)
	if err != nil {
		return nil, fmt.Errorf("failed to move %q: %w", origin, err)
	}
	s.moves[c.MovedFrom] = t.GetPath(child)
	return child, nil
}

// applyBases points every new node, and everything below one, at the base
// its delta records.
func (s *applySession) applyBases(ctx context.Context, path string, d *DiffNode, added bool) error {
	for _, relid := range orderedRelids(d) {
		c := d.Children[relid]
		childPath := joinPath(path, relid)
		target, hasBase := c.Pointer[BasePointer]
		isNew := (c.isAdded() || added) && hasBase && target != DeleteMarker
		if isNew {
			if err := s.setPointer(ctx, childPath, BasePointer, target); err != nil {
				return err
			}
		}
		if err := s.applyBases(ctx, childPath, c, added || isNew); err != nil {
			return err
		}
	}
	return nil
}

func (s *applySession) setPointer(ctx context.Context, path, name string, target any) error {
	t := s.tree
	node, err := t.LoadByPath(ctx, s.root, path)
	if err != nil {
		return err
	}
	if node == nil {
		s.skip(path, "Missing node while setting pointer")
		return nil
	}
	return s.setNodePointer(ctx, node, name, target)
}

func (s *applySession) setNodePointer(ctx context.Context, node Node, name string, target any) error {
	t := s.tree
	if target == nil {
		return t.SetPointer(node, name, nil)
	}
	targetPath, ok := target.(string)
	if !ok {
		s.skip(t.GetPath(node)+"/pointer/"+name, "Malformed pointer target")
		return nil
	}
	targetNode, err := t.LoadByPath(ctx, s.root, targetPath)
	if err != nil {
		return err
	}
	if targetNode == nil {
		s.skip(t.GetPath(node)+"/pointer/"+name, "Missing pointer target")
		return nil
	}
	return t.SetPointer(node, name, targetNode)
}

func (s *applySession) applyContent(ctx context.Context, path string, d *DiffNode) error {
	t := s.tree
	node, err := t.LoadByPath(ctx, s.root, path)
	if err != nil {
		return err
	}
	if node == nil {
		s.skip(path, "Missing node during patch application")
		return nil
	}
	if d.isRemoved() {
		return t.DeleteNode(ctx, node)
	}

	if err := applyKeyValues(d.Attr, func(name string, value any) error {
		return t.SetAttribute(node, name, value)
	}, func(name string) error {
		return t.DelAttribute(node, name)
	}); err != nil {
		return err
	}
	if err := applyKeyValues(d.Reg, func(name string, value any) error {
		return t.SetRegistry(node, name, value)
	}, func(name string) error {
		return t.DelRegistry(node, name)
	}); err != nil {
		return err
	}
	for _, name := range sortedKeys(d.Pointer) {
		target := d.Pointer[name]
		switch {
		case target == DeleteMarker:
			err = t.DeletePointer(node, name)
		case name == BasePointer && d.isAdded():
		default:
			err = s.setNodePointer(ctx, node, name, target)
		}
		if err != nil {
			return err
		}
	}
	if err := s.applySets(ctx, node, d.Set); err != nil {
		return err
	}
	if d.Meta != nil {
		if err := s.applyMeta(ctx, node, d.Meta); err != nil {
			return err
		}
	}

	for _, relid := range d.childRelids() {
		if err := s.applyContent(ctx, joinPath(path, relid), d.Children[relid]); err != nil {
			return err
		}
	}

	if d.GUID != "" && t.GetGUID(node) != d.GUID {
		if err := t.SetGUID(ctx, node, d.GUID); err != nil {
			return fmt.Errorf("failed to restore guid of %q: %w", path, err)
		}
	}
	return nil
}

func applyKeyValues(diff map[string]any, set func(string, any) error, del func(string) error) error {
	for _, name := range sortedKeys(diff) {
		var err error
		if diff[name] == DeleteMarker {
			err = del(name)
		} else {
			err = set(name, diff[name])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *applySession) applySets(ctx context.Context, node Node, sets map[string]*SetDiff) error {
	t := s.tree
	for _, name := range sortedKeys(sets) {
		set := sets[name]
		if set.Deleted {
			if err := t.DeleteSet(node, name); err != nil {
				return err
			}
			continue
		}
		if err := t.CreateSet(node, name); err != nil {
			return err
		}
		if err := applyKeyValues(set.Attr, func(key string, value any) error {
			return t.SetSetAttribute(node, name, key, value)
		}, func(key string) error {
			return t.DelSetAttribute(node, name, key)
		}); err != nil {
			return err
		}
		if err := applyKeyValues(set.Reg, func(key string, value any) error {
			return t.SetSetRegistry(node, name, key, value)
		}, func(key string) error {
			return t.DelSetRegistry(node, name, key)
		}); err != nil {
			return err
		}

		members := make(map[string]bool)
		for _, path := range t.GetMemberPaths(node, name) {
			members[path] = true
		}
		for _, path := range sortedKeys(set.Members) {
			member := set.Members[path]
			if member.Deleted {
				if err := t.DelMember(node, name, path); err != nil {
					return err
				}
				continue
			}
			if !members[path] {
				target, err := t.LoadByPath(ctx, s.root, path)
				if err != nil {
					return err
				}
				if target == nil {
					s.skip(t.GetPath(node)+"/set/"+name+embedPath(path), "Missing set member")
					continue
				}
				if err := t.AddMember(node, name, target); err != nil {
					return err
				}
			}
			if err := applyKeyValues(member.Attr, func(key string, value any) error {
				return t.SetMemberAttribute(node, name, path, key, value)
			}, func(key string) error {
				return t.DelMemberAttribute(node, name, path, key)
			}); err != nil {
				return err
			}
			if err := applyKeyValues(member.Reg, func(key string, value any) error {
				return t.SetMemberRegistry(node, name, path, key, value)
			}, func(key string) error {
				return t.DelMemberRegistry(node, name, path, key)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyMeta patches the node's own meta with diff and replays the
// difference through the meta writer.
func (s *applySession) applyMeta(ctx context.Context, node Node, diff map[string]any) error {
	t := s.tree
	current, _ := generic(t.GetOwnJSONMeta(node)).(map[string]any)
	desired := patchObject(current, diff)
	pruneEmpty(desired)

	if err := s.reconcileRelation(ctx, node, objectAt(current, "children"), objectAt(desired, "children"), relationWriter{
		limits: func(lo, hi int) error { return t.SetChildrenMetaLimits(node, lo, hi) },
		item:   func(target Node, lo, hi int) error { return t.SetChildMeta(node, target, lo, hi) },
		del:    func(path string) error { return t.DelChildMeta(node, path) },
		drop:   func() error { return t.DelChildrenMeta(node) },
	}); err != nil {
		return err
	}

	currentPointers, desiredPointers := objectAt(current, "pointers"), objectAt(desired, "pointers")
	for _, name := range unionKeys(currentPointers, desiredPointers) {
		if err := s.reconcileRelation(ctx, node, objectAt(currentPointers, name), objectAt(desiredPointers, name), relationWriter{
			limits: func(lo, hi int) error { return t.SetPointerMetaLimits(node, name, lo, hi) },
			item:   func(target Node, lo, hi int) error { return t.SetPointerMetaTarget(node, name, target, lo, hi) },
			del:    func(path string) error { return t.DelPointerMetaTarget(node, name, path) },
			drop:   func() error { return t.DelPointerMeta(node, name) },
		}); err != nil {
			return err
		}
	}

	if err := reconcileRules(objectAt(current, "attributes"), objectAt(desired, "attributes"),
		func(name string, schema map[string]any) error { return t.SetAttributeMeta(node, name, schema) },
		func(name string) error { return t.DelAttributeMeta(node, name) },
	); err != nil {
		return err
	}
	if err := reconcileRules(objectAt(current, "constraints"), objectAt(desired, "constraints"),
		func(name string, constraint map[string]any) error { return t.SetConstraint(node, name, constraint) },
		func(name string) error { return t.DelConstraint(node, name) },
	); err != nil {
		return err
	}

	currentAspects, desiredAspects := objectAt(current, "aspects"), objectAt(desired, "aspects")
	for _, name := range unionKeys(currentAspects, desiredAspects) {
		wanted, ok := desiredAspects[name]
		if !ok {
			if err := t.DelAspectMeta(node, name); err != nil {
				return err
			}
			continue
		}
		have := aspectTargets(currentAspects[name])
		want := aspectTargets(wanted)
		for path := range have {
			if !want[path] {
				if err := t.DelAspectMetaTarget(node, name, path); err != nil {
					return err
				}
			}
		}
		for _, path := range sortedKeys(want) {
			if have[path] {
				continue
			}
			target, err := t.LoadByPath(ctx, s.root, path)
			if err != nil {
				return err
			}
			if target == nil {
				s.skip(t.GetPath(node)+"/meta/aspects/"+name+embedPath(path), "Missing aspect target")
				continue
			}
			if err := t.SetAspectMetaTarget(node, name, target); err != nil {
				return err
			}
		}
	}
	return nil
}

type relationWriter struct {
	limits func(lo, hi int) error
	item   func(target Node, lo, hi int) error
	del    func(path string) error
	drop   func() error
}

func (s *applySession) reconcileRelation(ctx context.Context, node Node, current, desired map[string]any, w relationWriter) error {
	if desired == nil {
		if current == nil {
			return nil
		}
		return w.drop()
	}
	lo, hi := limits(desired)
	if current == nil || !sameValue(lo, current["min"]) || !sameValue(hi, current["max"]) {
		if err := w.limits(lo, hi); err != nil {
			return err
		}
	}
	for path := range current {
		if isRelationItem(path) {
			if _, ok := desired[path]; !ok {
				if err := w.del(path); err != nil {
					return err
				}
			}
		}
	}
	for _, path := range sortedKeys(desired) {
		if !isRelationItem(path) || sameValue(current[path], desired[path]) {
			continue
		}
		card, _ := desired[path].(map[string]any)
		target, err := s.tree.LoadByPath(ctx, s.root, path)
		if err != nil {
			return err
		}
		if target == nil {
			s.skip(s.tree.GetPath(node)+"/meta"+embedPath(path), "Missing meta target")
			continue
		}
		lo, hi := limits(card)
		if err := w.item(target, lo, hi); err != nil {
			return err
		}
	}
	return nil
}

func reconcileRules(current, desired map[string]any, set func(string, map[string]any) error, del func(string) error) error {
	for _, name := range unionKeys(current, desired) {
		want, ok := desired[name]
		if !ok {
			if err := del(name); err != nil {
				return err
			}
			continue
		}
		if sameValue(current[name], want) {
			continue
		}
		rule, _ := want.(map[string]any)
		if err := set(name, rule); err != nil {
			return err
		}
	}
	return nil
}

func isRelationItem(key string) bool {
	return key != "min" && key != "max"
}

func objectAt(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

func unionKeys(a, b map[string]any) []string {
	all := make(map[string]bool, len(a)+len(b))
	for k := range a {
		all[k] = true
	}
	for k := range b {
		all[k] = true
	}
	return sortedKeys(all)
}

// limits reads min and max of a relation, unbounded when absent.
func limits(m map[string]any) (int, int) {
	return toInt(m["min"]), toInt(m["max"])
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return -1
}

// aspectTargets accepts a target list or, when the delta met no list to
// patch, the array diff itself.
func aspectTargets(v any) map[string]bool {
	out := make(map[string]bool)
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if path, ok := item.(string); ok {
				out[path] = true
			}
		}
	case map[string]any:
		for path, mark := range t {
			if mark != DeleteMarker {
				out[path] = true
			}
		}
	}
	return out
}
