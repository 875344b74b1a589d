package vcgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dannyswat/vcgraph/graph"
	"github.com/dannyswat/vcgraph/store"
)

// testTree builds versions of one node tree in a shared memory store.
type testTree struct {
	t    *testing.T
	ctx  context.Context
	core *graph.Core
}

func newTestTree(t *testing.T) *testTree {
	t.Helper()
	core, err := graph.NewCore(store.NewMemoryStore())
	require.NoError(t, err)
	return &testTree{t: t, ctx: context.Background(), core: core}
}

// baseVersion persists the tree
//
//	/a {name: x}
//	/b {name: y}
//	/b/c {name: z}
//	/d
func (tt *testTree) baseVersion() string {
	root := tt.core.CreateRoot("root")
	tt.add(root, "a", "A", map[string]any{"name": "x"})
	b := tt.add(root, "b", "B", map[string]any{"name": "y"})
	tt.add(b, "c", "C", map[string]any{"name": "z"})
	tt.add(root, "d", "D", nil)
	return tt.persist(root)
}

func (tt *testTree) add(parent any, relid, guid string, attrs map[string]any) any {
	tt.t.Helper()
	child, err := tt.core.CreateNode(parent, relid, guid)
	require.NoError(tt.t, err)
	for name, value := range attrs {
		require.NoError(tt.t, tt.core.SetAttribute(child, name, value))
	}
	return child
}

func (tt *testTree) persist(root any) string {
	tt.t.Helper()
	hash, _, err := tt.core.Persist(tt.ctx, root)
	require.NoError(tt.t, err)
	return hash
}

func (tt *testTree) load(hash string) any {
	tt.t.Helper()
	root, err := tt.core.LoadRoot(tt.ctx, hash)
	require.NoError(tt.t, err)
	return root
}

// at loads the node at path and fails the test when it is missing.
func (tt *testTree) at(root any, path string) any {
	tt.t.Helper()
	node, err := tt.core.LoadByPath(tt.ctx, root, path)
	require.NoError(tt.t, err)
	require.NotNil(tt.t, node, "no node at %q", path)
	return node
}

// edit derives a new version from hash.
func (tt *testTree) edit(hash string, edit func(root any)) string {
	tt.t.Helper()
	root := tt.load(hash)
	edit(root)
	return tt.persist(root)
}

func (tt *testTree) move(root any, from, parent, relid string) {
	tt.t.Helper()
	_, err := tt.core.MoveNode(tt.ctx, tt.at(root, from), tt.at(root, parent), relid)
	require.NoError(tt.t, err)
}

func (tt *testTree) differ() *Differ {
	tt.t.Helper()
	d, err := NewDiffer(tt.core, Options{MaxConcurrentLoads: 4})
	require.NoError(tt.t, err)
	return d
}

func (tt *testTree) applier() *Applier {
	tt.t.Helper()
	a, err := NewApplier(tt.core, Options{})
	require.NoError(tt.t, err)
	return a
}

func (tt *testTree) treeDiff(from, to string) *DiffNode {
	tt.t.Helper()
	diff, err := tt.differ().GenerateTreeDiff(tt.ctx, tt.load(from), tt.load(to))
	require.NoError(tt.t, err)
	return diff
}

// apply patches a fresh copy of version hash and returns the patched root.
func (tt *testTree) apply(hash string, diff *DiffNode) any {
	tt.t.Helper()
	root := tt.load(hash)
	report, err := tt.applier().ApplyTreeDiff(tt.ctx, root, diff)
	require.NoError(tt.t, err)
	require.Empty(tt.t, report.Skipped)
	return root
}
