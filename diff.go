package vcgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Differ computes deltas between two versions of a node tree.
type Differ struct {
	tree   TreeReader
	loads  *semaphore.Weighted
	logger zerolog.Logger
}

// NewDiffer returns a Differ reading tree. Options are validated first.
func NewDiffer(tree TreeReader, opts Options) (*Differ, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Differ{
		tree:   tree,
		loads:  semaphore.NewWeighted(int64(opts.MaxConcurrentLoads)),
		logger: opts.Logger.With().Str("component", "differ").Logger(),
	}, nil
}

// rawChange keeps both sides of the pointer, set and meta data of a node.
// They are only turned into changes once every move of the delta is known.
type rawChange struct {
	hasPointer    bool
	pointerSource map[string]any
	pointerTarget map[string]any

	hasSet    bool
	setSource map[string]*SetDiff
	setTarget map[string]*SetDiff

	hasMeta    bool
	metaSource map[string]any
	metaTarget map[string]any
}

func (r *rawChange) empty() bool {
	return r == nil || (!r.hasPointer && !r.hasSet && !r.hasMeta)
}

// nodeChange is the shallow difference of two corresponding nodes.
type nodeChange struct {
	added   map[string]string // relid -> hash
	removed map[string]string
	attr    map[string]any
	reg     map[string]any
	raw     rawChange
}

func (c *nodeChange) empty() bool {
	return len(c.added) == 0 && len(c.removed) == 0 && len(c.attr) == 0 && len(c.reg) == 0 && c.raw.empty()
}

func keyValueDiff(sNames, tNames []string, sValue, tValue func(string) any) map[string]any {
	diff := make(map[string]any)
	for _, name := range lo.Without(sNames, tNames...) {
		diff[name] = DeleteMarker
	}
	for _, name := range tNames {
		tv := tValue(name)
		if !sameValue(sValue(name), tv) {
			diff[name] = generic(tv)
		}
	}
	return diff
}

func (d *Differ) pointerData(node Node) map[string]any {
	data := make(map[string]any)
	for _, name := range d.tree.GetPointerNames(node) {
		if path, ok := d.tree.GetPointerPath(node, name); ok {
			data[name] = path
		} else {
			data[name] = nil
		}
	}
	return data
}

func (d *Differ) setData(node Node) map[string]*SetDiff {
	t := d.tree
	data := make(map[string]*SetDiff)
	for _, name := range t.GetSetNames(node) {
		s := &SetDiff{
			Attr:    map[string]any{},
			Reg:     map[string]any{},
			Members: map[string]*MemberDiff{},
		}
		for _, key := range t.GetOwnSetAttributeNames(node, name) {
			s.Attr[key] = generic(t.GetOwnSetAttribute(node, name, key))
		}
		for _, key := range t.GetOwnSetRegistryNames(node, name) {
			s.Reg[key] = generic(t.GetOwnSetRegistry(node, name, key))
		}
		for _, member := range t.GetMemberPaths(node, name) {
			m := &MemberDiff{Attr: map[string]any{}, Reg: map[string]any{}}
			for _, key := range t.GetMemberOwnAttributeNames(node, name, member) {
				m.Attr[key] = generic(t.GetMemberOwnAttribute(node, name, member, key))
			}
			for _, key := range t.GetMemberOwnRegistryNames(node, name, member) {
				m.Reg[key] = generic(t.GetMemberOwnRegistry(node, name, member, key))
			}
			s.Members[member] = m
		}
		data[name] = s
	}
	return data
}

func (d *Differ) metaData(node Node) map[string]any {
	meta, _ := generic(d.tree.GetOwnJSONMeta(node)).(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	return meta
}

// nodeDiff compares the own state of two nodes known to correspond. It
// returns nil when they do not differ.
func (d *Differ) nodeDiff(source, target Node) *nodeChange {
	t := d.tree
	change := &nodeChange{
		added:   make(map[string]string),
		removed: make(map[string]string),
	}

	sChildren, tChildren := t.GetChildrenHashes(source), t.GetChildrenHashes(target)
	for relid, hash := range sChildren {
		if _, ok := tChildren[relid]; !ok {
			change.removed[relid] = hash
		}
	}
	for relid, hash := range tChildren {
		if _, ok := sChildren[relid]; !ok {
			change.added[relid] = hash
		}
	}

	change.attr = keyValueDiff(t.GetOwnAttributeNames(source), t.GetOwnAttributeNames(target),
		func(name string) any { return t.GetOwnAttribute(source, name) },
		func(name string) any { return t.GetOwnAttribute(target, name) })
	change.reg = keyValueDiff(t.GetOwnRegistryNames(source), t.GetOwnRegistryNames(target),
		func(name string) any { return t.GetOwnRegistry(source, name) },
		func(name string) any { return t.GetOwnRegistry(target, name) })

	if sp, tp := d.pointerData(source), d.pointerData(target); !sameValue(sp, tp) {
		change.raw.hasPointer = true
		change.raw.pointerSource, change.raw.pointerTarget = sp, tp
	}
	if ss, ts := d.setData(source), d.setData(target); !sameValue(ss, ts) {
		change.raw.hasSet = true
		change.raw.setSource, change.raw.setTarget = ss, ts
	}
	if sm, tm := d.metaData(source), d.metaData(target); !sameValue(sm, tm) {
		change.raw.hasMeta = true
		change.raw.metaSource, change.raw.metaTarget = sm, tm
	}

	if change.empty() {
		return nil
	}
	return change
}

// NodeDiff returns the shallow, own-state difference of two nodes, or nil
// when there is none. Added and removed children appear as leaves carrying
// only their hash and removed flag.
func (d *Differ) NodeDiff(source, target Node) *DiffNode {
	change := d.nodeDiff(source, target)
	if change == nil {
		return nil
	}
	diff := &DiffNode{Attr: change.attr, Reg: change.reg}
	if !change.raw.empty() {
		raw := change.raw
		diff.raw = &raw
	}
	for relid, hash := range change.removed {
		diff.ensureChild(relid).Hash = hash
		diff.Children[relid].Removed = boolPtr(true)
	}
	for relid, hash := range change.added {
		diff.ensureChild(relid).Hash = hash
		diff.Children[relid].Removed = boolPtr(false)
	}
	finalizeDiff(diff, nil)
	if diff.empty() {
		return nil
	}
	return diff
}

// pendingMove collects the two ends of a node that disappeared from one
// place and appeared in another.
type pendingMove struct {
	from, to     Node
	fromExpanded bool
	toExpanded   bool
}

type worklist struct {
	mu      sync.Mutex
	entries map[string]*pendingMove
}

func newWorklist() *worklist {
	return &worklist{entries: make(map[string]*pendingMove)}
}

func (w *worklist) entry(guid string) *pendingMove {
	e := w.entries[guid]
	if e == nil {
		e = &pendingMove{}
		w.entries[guid] = e
	}
	return e
}

func (w *worklist) addFrom(guid string, node Node) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entry(guid)
	e.from, e.fromExpanded = node, false
}

func (w *worklist) addTo(guid string, node Node) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entry(guid)
	e.to, e.toExpanded = node, false
}

func (d *Differ) withLoad(ctx context.Context, load func() error) error {
	if err := d.loads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.loads.Release(1)
	return load()
}

func (d *Differ) loadChildren(ctx context.Context, node Node) ([]Node, error) {
	var children []Node
	err := d.withLoad(ctx, func() error {
		var err error
		children, err = d.tree.LoadChildren(ctx, node)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %q: %w", d.tree.GetPath(node), err)
	}
	sort.Slice(children, func(i, j int) bool {
		return d.tree.GetRelid(children[i]) < d.tree.GetRelid(children[j])
	})
	return children, nil
}

// obstructiveGUIDs walks node and its base chain. all collects the guids of
// every visited node and its ancestors, bases the guids of the chain itself.
func (d *Differ) obstructiveGUIDs(ctx context.Context, node Node) (all, bases GUIDSet, err error) {
	all, bases = GUIDSet{}, GUIDSet{}
	visited := make(map[string]bool)
	for node != nil {
		path := d.tree.GetPath(node)
		if visited[path] {
			break
		}
		visited[path] = true
		bases[d.tree.GetGUID(node)] = true
		for n := node; n != nil; n = d.tree.GetParent(n) {
			all[d.tree.GetGUID(n)] = true
		}
		err = d.withLoad(ctx, func() error {
			var err error
			node, err = d.tree.LoadBase(ctx, node)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load base of %q: %w", path, err)
		}
	}
	return all, bases, nil
}

func (d *Differ) basePath(node Node) any {
	if path, ok := d.tree.GetPointerPath(node, BasePointer); ok {
		return path
	}
	return nil
}

// updateDiff diffs two corresponding subtrees. Children that exist on one
// side only are recorded as removed or added leaves and queued in wl for
// move detection. It returns nil when the subtrees do not differ.
func (d *Differ) updateDiff(ctx context.Context, source, target Node, wl *worklist) (*DiffNode, error) {
	t := d.tree
	change := d.nodeDiff(source, target)

	var sChildren, tChildren []Node
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sChildren, err = d.loadChildren(gctx, source)
		return err
	})
	g.Go(func() (err error) {
		tChildren, err = d.loadChildren(gctx, target)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	diff := &DiffNode{}
	if change != nil {
		if len(change.attr) > 0 {
			diff.Attr = change.attr
		}
		if len(change.reg) > 0 {
			diff.Reg = change.reg
		}
		if !change.raw.empty() {
			raw := change.raw
			diff.raw = &raw
		}
	}

	sByRelid := lo.KeyBy(sChildren, t.GetRelid)
	tByRelid := lo.KeyBy(tChildren, t.GetRelid)

	for _, child := range sChildren {
		relid := t.GetRelid(child)
		if _, ok := tByRelid[relid]; ok {
			continue
		}
		diff.ChildrenListChanged = true
		guid := t.GetGUID(child)
		diff.ensureChild(relid)
		diff.Children[relid] = &DiffNode{GUID: guid, Hash: t.GetHash(child), Removed: boolPtr(true)}
		wl.addFrom(guid, child)
	}
	for _, child := range tChildren {
		relid := t.GetRelid(child)
		if _, ok := sByRelid[relid]; ok {
			continue
		}
		diff.ChildrenListChanged = true
		guid := t.GetGUID(child)
		diff.ensureChild(relid)
		diff.Children[relid] = &DiffNode{
			GUID:    guid,
			Hash:    t.GetHash(child),
			Removed: boolPtr(false),
			raw: &rawChange{
				hasPointer:    true,
				pointerSource: map[string]any{},
				pointerTarget: map[string]any{BasePointer: d.basePath(child)},
			},
		}
		wl.addTo(guid, child)
	}

	type pair struct {
		relid          string
		source, target Node
	}
	var changed []pair
	for _, child := range tChildren {
		relid := t.GetRelid(child)
		if sChild, ok := sByRelid[relid]; ok && t.GetHash(sChild) != t.GetHash(child) {
			changed = append(changed, pair{relid, sChild, child})
		}
	}
	results := make([]*DiffNode, len(changed))
	g, gctx = errgroup.WithContext(ctx)
	for i, p := range changed {
		g.Go(func() error {
			sub, err := d.updateDiff(gctx, p.source, p.target, wl)
			results[i] = sub
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, p := range changed {
		if results[i] != nil {
			diff.ensureChild(p.relid)
			diff.Children[p.relid] = results[i]
		}
	}

	normalize(diff)
	if diff.empty() {
		return nil, nil
	}

	diff.GUID = t.GetGUID(target)
	diff.Hash = t.GetHash(target)
	all, bases, err := d.obstructiveGUIDs(ctx, target)
	if err != nil {
		return nil, err
	}
	diff.OGuids, diff.OBaseGuids = all, bases
	if err := d.fillChildIdentities(ctx, diff, sByRelid, tByRelid); err != nil {
		return nil, err
	}
	return diff, nil
}

// fillChildIdentities gives every direct child entry its obstruction sets,
// computed on the target node when it exists and on the source otherwise.
func (d *Differ) fillChildIdentities(ctx context.Context, diff *DiffNode, sByRelid, tByRelid map[string]Node) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for relid, entry := range diff.Children {
		if entry.OGuids != nil {
			continue
		}
		node, ok := tByRelid[relid]
		if !ok {
			node, ok = sByRelid[relid]
		}
		if !ok {
			continue
		}
		g.Go(func() error {
			all, bases, err := d.obstructiveGUIDs(gctx, node)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			entry.OGuids, entry.OBaseGuids = all, bases
			if entry.GUID == "" {
				entry.GUID = d.tree.GetGUID(node)
			}
			return nil
		})
	}
	return g.Wait()
}

// expandDiff records the whole first level below a node that only exists on
// one side, queueing every child for move detection.
func (d *Differ) expandDiff(ctx context.Context, root Node, removed bool, wl *worklist) (*DiffNode, error) {
	t := d.tree
	diff := &DiffNode{GUID: t.GetGUID(root), Hash: t.GetHash(root), Removed: boolPtr(removed)}
	children, err := d.loadChildren(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		guid := t.GetGUID(child)
		diff.ensureChild(t.GetRelid(child))
		diff.Children[t.GetRelid(child)] = &DiffNode{GUID: guid, Hash: t.GetHash(child), Removed: boolPtr(removed)}
		if removed {
			wl.addFrom(guid, child)
		} else {
			wl.addTo(guid, child)
		}
	}
	return diff, nil
}

// Diff returns the delta between two trees without move detection: a node
// that moved shows up as removed at its origin and added at its
// destination. It returns nil when the trees do not differ.
func (d *Differ) Diff(ctx context.Context, sourceRoot, targetRoot Node) (*DiffNode, error) {
	diff, err := d.updateDiff(ctx, sourceRoot, targetRoot, newWorklist())
	if err != nil || diff == nil {
		return nil, err
	}
	shrinkDiff(diff, nil)
	finalizeDiff(diff, nil)
	if diff.empty() {
		return nil, nil
	}
	return diff, nil
}

type roundTask struct {
	guid   string
	entry  pendingMove
	kind   int
	result *DiffNode
}

const (
	taskMove = iota
	taskExpandFrom
	taskExpandTo
)

// GenerateTreeDiff returns the move-resolved delta between two trees. The
// result is never nil; identical trees give an empty delta.
func (d *Differ) GenerateTreeDiff(ctx context.Context, sourceRoot, targetRoot Node) (*DiffNode, error) {
	wl := newWorklist()
	diff, err := d.updateDiff(ctx, sourceRoot, targetRoot, wl)
	if err != nil {
		return nil, err
	}
	if diff == nil {
		diff = &DiffNode{}
	}

	moves := make(map[string]string)
	for round := 1; ; round++ {
		tasks := d.nextRound(wl)
		if len(tasks) == 0 {
			break
		}
		d.logger.Trace().Int("round", round).Int("tasks", len(tasks)).Msg("Resolving moves")

		g, gctx := errgroup.WithContext(ctx)
		for _, task := range tasks {
			g.Go(func() (err error) {
				switch task.kind {
				case taskMove:
					task.result, err = d.updateDiff(gctx, task.entry.from, task.entry.to, wl)
				case taskExpandFrom:
					task.result, err = d.expandDiff(gctx, task.entry.from, true, wl)
				case taskExpandTo:
					task.result, err = d.expandDiff(gctx, task.entry.to, false, wl)
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, task := range tasks {
			if err := d.applyRoundTask(ctx, diff, moves, task); err != nil {
				return nil, err
			}
		}
	}

	shrinkDiff(diff, moves)
	finalizeDiff(diff, moves)
	return diff, nil
}

// nextRound takes the work of one move-resolution round off the worklist.
// Tasks come back in guid order.
func (d *Differ) nextRound(wl *worklist) []*roundTask {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	var tasks []*roundTask
	for _, guid := range sortedKeys(wl.entries) {
		e := wl.entries[guid]
		switch {
		case e.from != nil && e.to != nil:
			delete(wl.entries, guid)
			tasks = append(tasks, &roundTask{guid: guid, entry: *e, kind: taskMove})
		case e.from != nil && !e.fromExpanded:
			e.fromExpanded = true
			tasks = append(tasks, &roundTask{guid: guid, entry: *e, kind: taskExpandFrom})
		case e.to != nil && !e.toExpanded:
			e.toExpanded = true
			tasks = append(tasks, &roundTask{guid: guid, entry: *e, kind: taskExpandTo})
		}
	}
	return tasks
}

func (d *Differ) applyRoundTask(ctx context.Context, diff *DiffNode, moves map[string]string, task *roundTask) error {
	t := d.tree
	switch task.kind {
	case taskMove:
		from, to := task.entry.from, task.entry.to
		moved := task.result
		if moved == nil {
			moved = &DiffNode{}
		}
		moved.GUID = t.GetGUID(from)
		moved.MovedFrom = t.GetPath(from)
		all, bases, err := d.obstructiveGUIDs(ctx, from)
		if err != nil {
			return err
		}
		moved.OOGuids, moved.OOBaseGuids = all, bases
		moves[t.GetPath(from)] = t.GetPath(to)
		diff.insert(t.GetPath(to), moved)
		d.logger.Debug().Str("guid", moved.GUID).Str("from", moved.MovedFrom).Str("to", t.GetPath(to)).Msg("Detected move")
	case taskExpandFrom:
		task.result.Hash = t.GetHash(task.entry.from)
		task.result.Removed = boolPtr(true)
		d.insertInto(diff, t.GetPath(task.entry.from), task.result)
	case taskExpandTo:
		if task.result.Hash == "" {
			task.result.Hash = t.GetHash(task.entry.to)
		}
		task.result.Removed = boolPtr(false)
		d.insertInto(diff, t.GetPath(task.entry.to), task.result)
	}
	return nil
}

func (d *Differ) insertInto(diff *DiffNode, path string, node *DiffNode) {
	if existing := diff.Lookup(path); existing != nil {
		existing.mergeFrom(node)
		return
	}
	diff.insert(path, node)
}
