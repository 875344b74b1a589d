package vcgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dannyswat/vcgraph/store"
)

// MergeState is the stage a merge reached.
type MergeState int

const (
	StateStart MergeState = iota
	StateNoChange
	StateFastForward
	StateDiverged
	StateAutoMergeAttempted
	StateMerged
	StateConflicted
	StateResolved
)

var mergeStateNames = map[MergeState]string{
	StateStart:              "START",
	StateNoChange:           "NO_CHANGE",
	StateFastForward:        "FAST_FORWARD",
	StateDiverged:           "DIVERGED",
	StateAutoMergeAttempted: "AUTO_MERGE_ATTEMPTED",
	StateMerged:             "MERGED",
	StateConflicted:         "CONFLICTED",
	StateResolved:           "RESOLVED",
}

func (s MergeState) String() string {
	if name, ok := mergeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s MergeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MergeState) UnmarshalText(text []byte) error {
	for state, name := range mergeStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown merge state %q", text)
}

// MergeRequest names the two heads to merge. Mine and Theirs are branch
// names or commit hashes. When BranchName is empty and Theirs is a branch,
// that branch is moved to the merge result.
type MergeRequest struct {
	Mine       string
	Theirs     string
	BranchName string
	Message    string
}

// MergeResult is the outcome of Merge and Resolve. A conflicted result is
// also the input of Resolve, once the conflict items carry selections.
type MergeResult struct {
	State            MergeState    `json:"state"`
	MyCommitHash     string        `json:"myCommitHash"`
	TheirCommitHash  string        `json:"theirCommitHash"`
	BaseCommitHash   string        `json:"baseCommitHash,omitempty"`
	FinalCommitHash  string        `json:"finalCommitHash,omitempty"`
	Mine             *DiffNode     `json:"mine,omitempty"`
	Theirs           *DiffNode     `json:"theirs,omitempty"`
	Conflict         *ConcatResult `json:"conflict,omitempty"`
	TargetBranchName string        `json:"targetBranchName,omitempty"`
	UpdatedBranch    string        `json:"updatedBranch,omitempty"`
	// Forked is set when the target branch moved on while merging.
	Forked  bool          `json:"forked,omitempty"`
	Skipped []string      `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"-"`
}

// ApplyRequest describes a patch to apply onto a commit.
type ApplyRequest struct {
	Ref   string
	Patch *DiffNode
	// BranchName is updated with the new commit. When empty and Ref is a
	// branch, Ref is updated unless NoUpdate is set.
	BranchName string
	NoUpdate   bool
	// Parents default to the commit of Ref.
	Parents []string
	Message string
}

// CommitResult is the outcome of Apply.
type CommitResult struct {
	Hash          string   `json:"hash"`
	RootHash      string   `json:"rootHash,omitempty"`
	BranchName    string   `json:"branchName,omitempty"`
	UpdatedBranch string   `json:"updatedBranch,omitempty"`
	Forked        bool     `json:"forked,omitempty"`
	Skipped       []string `json:"skipped,omitempty"`
}

// Merger runs merges, resolutions, diffs and patch applications between
// commits of one project.
type Merger struct {
	tree    Tree
	commits store.CommitStore
	differ  *Differ
	applier *Applier
	logger  zerolog.Logger
}

// NewMerger returns a Merger working on tree with commits and branches kept
// in commits.
func NewMerger(tree Tree, commits store.CommitStore, opts Options) (*Merger, error) {
	differ, err := NewDiffer(tree, opts)
	if err != nil {
		return nil, err
	}
	applier, err := NewApplier(tree, opts)
	if err != nil {
		return nil, err
	}
	return &Merger{
		tree:    tree,
		commits: commits,
		differ:  differ,
		applier: applier,
		logger:  opts.Logger.With().Str("component", "merger").Logger(),
	}, nil
}

type resolvedRef struct {
	commitHash string
	branch     string
	root       Node
}

// resolve loads the root of a branch or commit.
func (m *Merger) resolve(ctx context.Context, ref string) (*resolvedRef, error) {
	r := &resolvedRef{commitHash: ref}
	if !store.IsCommitHash(ref) {
		hash, err := m.commits.GetBranchHash(ctx, ref)
		if err != nil {
			return nil, err
		}
		r.commitHash, r.branch = hash, ref
	}
	root, err := m.loadCommitRoot(ctx, r.commitHash)
	if err != nil {
		return nil, err
	}
	r.root = root
	return r, nil
}

func (m *Merger) loadCommitRoot(ctx context.Context, commitHash string) (Node, error) {
	commit, err := m.commits.LoadCommit(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return m.tree.LoadRoot(ctx, commit.RootHash)
}

// Diff returns the move-resolved delta between two branches or commits.
func (m *Merger) Diff(ctx context.Context, refA, refB string) (*DiffNode, error) {
	a, err := m.resolve(ctx, refA)
	if err != nil {
		return nil, err
	}
	b, err := m.resolve(ctx, refB)
	if err != nil {
		return nil, err
	}
	return m.differ.GenerateTreeDiff(ctx, a.root, b.root)
}

// Apply applies a patch onto a commit and commits the result. A patch that
// changes nothing makes no commit and reports the first parent.
func (m *Merger) Apply(ctx context.Context, req ApplyRequest) (*CommitResult, error) {
	target, err := m.resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	report, err := m.applier.ApplyTreeDiff(ctx, target.root, req.Patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch onto %s: %w", target.commitHash, err)
	}

	branch := req.BranchName
	if branch == "" && target.branch != "" && !req.NoUpdate {
		branch = target.branch
	}
	parents := req.Parents
	if len(parents) == 0 {
		parents = []string{target.commitHash}
	}
	message := req.Message
	if message == "" {
		message = "applying patch"
	}

	result, err := m.save(ctx, target.root, parents, message)
	if err != nil {
		return nil, err
	}
	result.Skipped = report.Skipped
	if branch != "" {
		result.BranchName = branch
		old := target.commitHash
		if branch != target.branch {
			if old, err = m.branchHash(ctx, branch); err != nil {
				return nil, err
			}
		}
		if err := m.updateBranch(ctx, branch, result.Hash, old, &result.UpdatedBranch, &result.Forked); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// save persists root and commits it. Nothing to persist means no commit.
func (m *Merger) save(ctx context.Context, root Node, parents []string, message string) (*CommitResult, error) {
	rootHash, objects, err := m.tree.Persist(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to persist tree: %w", err)
	}
	if len(objects) == 0 {
		m.logger.Warn().Strs("parents", parents).Msg("Empty patch was applied, not making a commit")
		return &CommitResult{Hash: parents[0]}, nil
	}
	commit, err := m.commits.MakeCommit(ctx, parents, rootHash, objects, message)
	if err != nil {
		return nil, fmt.Errorf("failed to make commit: %w", err)
	}
	m.logger.Debug().Str("commit", commit.Hash).Str("root", rootHash).Int("objects", len(objects)).Msg("Commit created")
	return &CommitResult{Hash: commit.Hash, RootHash: rootHash}, nil
}

func (m *Merger) branchHash(ctx context.Context, branch string) (string, error) {
	hash, err := m.commits.GetBranchHash(ctx, branch)
	if errors.Is(err, store.ErrBranchNotFound) {
		return "", nil
	}
	return hash, err
}

// updateBranch moves branch from oldHash to newHash. A fork is an outcome,
// not an error.
func (m *Merger) updateBranch(ctx context.Context, branch, newHash, oldHash string, updated *string, forked *bool) error {
	status, err := m.commits.SetBranchHash(ctx, branch, newHash, oldHash)
	if err != nil {
		return fmt.Errorf("failed to update branch %s: %w", branch, err)
	}
	if status == store.Forked {
		m.logger.Debug().Str("branch", branch).Str("commit", newHash).Msg("Merged commit forked")
		*forked = true
		return nil
	}
	*updated = branch
	return nil
}

// Merge merges theirs into mine. Heads that already contain each other are
// handled without diffing; otherwise both deltas from the common ancestor
// are combined, and a conflict free combination is applied and committed
// with theirs and mine as parents.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	start := time.Now()
	result := &MergeResult{State: StateStart}
	defer func() { result.Elapsed = time.Since(start) }()

	var mine, theirs *resolvedRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mine, err = m.resolve(gctx, req.Mine)
		return err
	})
	g.Go(func() (err error) {
		theirs, err = m.resolve(gctx, req.Theirs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.MyCommitHash = mine.commitHash
	result.TheirCommitHash = theirs.commitHash

	branch := req.BranchName
	if branch == "" {
		branch = theirs.branch
	}

	base, err := m.commits.GetCommonAncestorCommit(ctx, mine.commitHash, theirs.commitHash)
	if err != nil {
		return nil, err
	}
	result.BaseCommitHash = base
	logger := m.logger.With().Str("mine", mine.commitHash).Str("theirs", theirs.commitHash).Str("base", base).Logger()

	switch base {
	case mine.commitHash:
		result.State = StateNoChange
		result.FinalCommitHash = theirs.commitHash
		if branch != "" {
			result.UpdatedBranch = branch
		}
		logger.Debug().Msg("Nothing to merge")
		return result, nil
	case theirs.commitHash:
		result.State = StateFastForward
		result.FinalCommitHash = mine.commitHash
		if branch != "" {
			result.TargetBranchName = branch
			if err := m.updateBranch(ctx, branch, mine.commitHash, theirs.commitHash, &result.UpdatedBranch, &result.Forked); err != nil {
				return nil, err
			}
		}
		logger.Debug().Msg("Fast-forward")
		return result, nil
	}

	result.State = StateDiverged
	baseRoot, err := m.loadCommitRoot(ctx, base)
	if err != nil {
		return nil, err
	}
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if result.Mine, err = m.differ.GenerateTreeDiff(gctx, baseRoot, mine.root); err != nil {
			logger.Error().Err(err).Msg("Initial diff generation failed (base->mine)")
		}
		return err
	})
	g.Go(func() (err error) {
		if result.Theirs, err = m.differ.GenerateTreeDiff(gctx, baseRoot, theirs.root); err != nil {
			logger.Error().Err(err).Msg("Initial diff generation failed (base->theirs)")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.State = StateAutoMergeAttempted
	if result.Conflict, err = TryToConcatChanges(result.Mine, result.Theirs); err != nil {
		return nil, fmt.Errorf("failed to combine changes: %w", err)
	}
	if branch != "" {
		result.TargetBranchName = branch
	}
	if len(result.Conflict.Items) > 0 {
		result.State = StateConflicted
		if err := m.addBaseValues(ctx, baseRoot, result.Conflict.Items); err != nil {
			return nil, err
		}
		logger.Info().Int("conflicts", len(result.Conflict.Items)).Msg("Merge needs resolution")
		return result, nil
	}

	message := req.Message
	if message == "" {
		message = "merge"
	}
	if err := m.commitMerge(ctx, result, result.Conflict.Merge, message); err != nil {
		return nil, err
	}
	logger.Info().Str("commit", result.FinalCommitHash).Dur("elapsed", time.Since(start)).Msg("Merged")
	return result, nil
}

// Resolve commits a conflicted merge whose items carry selections.
func (m *Merger) Resolve(ctx context.Context, partial *MergeResult) (*MergeResult, error) {
	if partial == nil || partial.Conflict == nil {
		return nil, ErrNothingToResolve
	}
	patch, err := ApplyResolution(partial.Conflict)
	if err != nil {
		return nil, err
	}
	result := *partial
	result.State = StateResolved
	result.UpdatedBranch, result.Forked = "", false
	if err := m.commitMerge(ctx, &result, patch, "merge with resolved conflicts"); err != nil {
		return nil, err
	}
	m.logger.Info().Str("commit", result.FinalCommitHash).Msg("Merged with resolved conflicts")
	return &result, nil
}

// commitMerge applies patch onto the base commit, commits it with theirs
// and mine as parents and moves the target branch from theirs.
func (m *Merger) commitMerge(ctx context.Context, result *MergeResult, patch *DiffNode, message string) error {
	root, err := m.loadCommitRoot(ctx, result.BaseCommitHash)
	if err != nil {
		return err
	}
	report, err := m.applier.ApplyTreeDiff(ctx, root, patch)
	if err != nil {
		return fmt.Errorf("failed to apply merged patch: %w", err)
	}
	result.Skipped = report.Skipped
	saved, err := m.save(ctx, root, []string{result.TheirCommitHash, result.MyCommitHash}, message)
	if err != nil {
		return err
	}
	result.FinalCommitHash = saved.Hash
	result.State = StateMerged
	if result.TargetBranchName == "" {
		return nil
	}
	return m.updateBranch(ctx, result.TargetBranchName, saved.Hash, result.TheirCommitHash, &result.UpdatedBranch, &result.Forked)
}

// addBaseValues offers the ancestor's value as a third choice on items
// where both sides set the same field to different values.
func (m *Merger) addBaseValues(ctx context.Context, baseRoot Node, items []*ConflictItem) error {
	snapshots := make(map[string]map[string]any)
	for _, item := range items {
		if item.Mine.Path != item.Theirs.Path ||
			item.Mine.Value == DeleteMarker || item.Theirs.Value == DeleteMarker ||
			sameValue(item.Mine.Value, item.Theirs.Value) {
			continue
		}
		nodePath := nodePathOf(item.Mine.Path)
		if nodePath == item.Mine.Path {
			continue
		}
		snapshot, ok := snapshots[nodePath]
		if !ok {
			node, err := m.tree.LoadByPath(ctx, baseRoot, nodePath)
			if err != nil {
				m.logger.Error().Err(err).Str("path", nodePath).Msg("Base value collection failed")
				continue
			}
			if node != nil {
				snapshot = nodeSnapshot(m.tree, node)
			}
			snapshots[nodePath] = snapshot
		}
		if snapshot == nil {
			continue
		}
		value, found := lookupField(snapshot, item.Mine.Path[len(nodePath):])
		if !found {
			value = DeleteMarker
		}
		other := newSide(item.Mine.Path, value)
		item.Other = &other
	}
	return nil
}

// nodeSnapshot lays out the own state of node the way a delta does, so
// field paths resolve against it.
func nodeSnapshot(tree TreeReader, node Node) map[string]any {
	out := map[string]any{
		"attr":    ownValues(tree.GetOwnAttributeNames(node), func(name string) any { return tree.GetOwnAttribute(node, name) }),
		"reg":     ownValues(tree.GetOwnRegistryNames(node), func(name string) any { return tree.GetOwnRegistry(node, name) }),
		"pointer": map[string]any{},
		"set":     map[string]any{},
	}
	pointers := out["pointer"].(map[string]any)
	for _, name := range tree.GetPointerNames(node) {
		if path, ok := tree.GetPointerPath(node, name); ok {
			pointers[name] = path
		} else {
			pointers[name] = nil
		}
	}
	sets := out["set"].(map[string]any)
	for _, name := range tree.GetSetNames(node) {
		set := map[string]any{
			"attr": ownValues(tree.GetOwnSetAttributeNames(node, name), func(key string) any { return tree.GetOwnSetAttribute(node, name, key) }),
			"reg":  ownValues(tree.GetOwnSetRegistryNames(node, name), func(key string) any { return tree.GetOwnSetRegistry(node, name, key) }),
		}
		for _, member := range tree.GetMemberPaths(node, name) {
			set[member] = map[string]any{
				"attr": ownValues(tree.GetMemberOwnAttributeNames(node, name, member), func(key string) any {
					return tree.GetMemberOwnAttribute(node, name, member, key)
				}),
				"reg": ownValues(tree.GetMemberOwnRegistryNames(node, name, member), func(key string) any {
					return tree.GetMemberOwnRegistry(node, name, member, key)
				}),
			}
		}
		sets[name] = set
	}
	if meta := tree.GetOwnJSONMeta(node); meta != nil {
		out["meta"] = generic(meta)
	}
	return out
}

func ownValues(names []string, value func(string) any) map[string]any {
	out := make(map[string]any, len(names))
	for _, name := range names {
		out[name] = generic(value(name))
	}
	return out
}
