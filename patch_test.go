package vcgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchRoundTrip(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	tests := []struct {
		name string
		edit func(root any)
	}{
		{
			name: "Attribute change",
			edit: func(root any) {
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/a"), "name", "y"))
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/d"), "count", 3))
			},
		},
		{
			name: "Attribute and registry removal",
			edit: func(root any) {
				require.NoError(t, tt.core.DelAttribute(tt.at(root, "/b/c"), "name"))
				require.NoError(t, tt.core.SetRegistry(tt.at(root, "/b"), "color", "red"))
			},
		},
		{
			name: "Insert node",
			edit: func(root any) {
				n := tt.add(tt.at(root, "/b"), "n", "N", map[string]any{"name": "new"})
				tt.add(n, "m", "M", map[string]any{"name": "deep"})
			},
		},
		{
			name: "Delete node",
			edit: func(root any) {
				require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/b")))
			},
		},
		{
			name: "Rename",
			edit: func(root any) { tt.move(root, "/a", "", "e") },
		},
		{
			name: "Move across parents",
			edit: func(root any) {
				tt.move(root, "/b/c", "/a", "c")
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/a/c"), "name", "moved"))
			},
		},
		{
			name: "Move a parent and its child",
			edit: func(root any) {
				tt.move(root, "/b", "/a", "b")
				tt.move(root, "/a/b/c", "/d", "c")
			},
		},
		{
			name: "Move into a new node",
			edit: func(root any) {
				tt.add(root, "n", "N", nil)
				tt.move(root, "/b/c", "/n", "c")
			},
		},
		{
			name: "Pointers",
			edit: func(root any) {
				require.NoError(t, tt.core.SetPointer(tt.at(root, "/d"), "ref", tt.at(root, "/b/c")))
				require.NoError(t, tt.core.SetPointer(tt.at(root, "/a"), "empty", nil))
			},
		},
		{
			name: "Inheritance of a new node",
			edit: func(root any) {
				n := tt.add(root, "n", "N", nil)
				require.NoError(t, tt.core.SetPointer(n, BasePointer, tt.at(root, "/a")))
			},
		},
		{
			name: "Sets",
			edit: func(root any) {
				a := tt.at(root, "/a")
				require.NoError(t, tt.core.CreateSet(a, "friends"))
				require.NoError(t, tt.core.SetSetAttribute(a, "friends", "kind", "close"))
				require.NoError(t, tt.core.AddMember(a, "friends", tt.at(root, "/b")))
				require.NoError(t, tt.core.AddMember(a, "friends", tt.at(root, "/d")))
				require.NoError(t, tt.core.SetMemberAttribute(a, "friends", "/b", "since", 2020))
				require.NoError(t, tt.core.SetMemberRegistry(a, "friends", "/d", "pos", "left"))
			},
		},
		{
			name: "Meta rules",
			edit: func(root any) {
				require.NoError(t, tt.core.SetChildrenMetaLimits(root, 0, 5))
				require.NoError(t, tt.core.SetChildMeta(root, tt.at(root, "/a"), 0, 1))
				require.NoError(t, tt.core.SetPointerMetaTarget(root, "ref", tt.at(root, "/b"), 0, 1))
				require.NoError(t, tt.core.SetAttributeMeta(root, "name", map[string]any{"type": "string"}))
				require.NoError(t, tt.core.SetAspectMetaTarget(root, "parts", tt.at(root, "/b/c")))
				require.NoError(t, tt.core.SetConstraint(root, "unique", map[string]any{"script": "x", "priority": 1}))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := tt.edit(base, tc.edit)
			patched := tt.apply(base, tt.treeDiff(base, target))

			again, err := tt.differ().Diff(tt.ctx, patched, tt.load(target))
			require.NoError(t, err)
			assert.Nil(t, again, "patched tree differs from target")
			assert.Equal(t, tt.core.GetHash(tt.load(target)), tt.core.GetHash(patched))
		})
	}
}

func TestPatchEditsExistingRules(t *testing.T) {
	tt := newTestTree(t)
	base := tt.edit(tt.baseVersion(), func(root any) {
		require.NoError(t, tt.core.SetChildMeta(root, tt.at(root, "/a"), 0, 1))
		require.NoError(t, tt.core.SetAspectMetaTarget(root, "parts", tt.at(root, "/b")))
		require.NoError(t, tt.core.SetAspectMetaTarget(root, "parts", tt.at(root, "/d")))
		a := tt.at(root, "/a")
		require.NoError(t, tt.core.CreateSet(a, "friends"))
		require.NoError(t, tt.core.AddMember(a, "friends", tt.at(root, "/b")))
		require.NoError(t, tt.core.AddMember(a, "friends", tt.at(root, "/d")))
	})

	tests := []struct {
		name string
		edit func(root any)
	}{
		{
			name: "Change and drop meta entries",
			edit: func(root any) {
				require.NoError(t, tt.core.SetChildMeta(root, tt.at(root, "/a"), 1, 2))
				require.NoError(t, tt.core.SetChildMeta(root, tt.at(root, "/d"), 0, -1))
				require.NoError(t, tt.core.DelAspectMetaTarget(root, "parts", "/b"))
			},
		},
		{
			name: "Drop every rule",
			edit: func(root any) {
				require.NoError(t, tt.core.DelChildrenMeta(root))
				require.NoError(t, tt.core.DelAspectMeta(root, "parts"))
			},
		},
		{
			name: "Remove a member and the set",
			edit: func(root any) {
				require.NoError(t, tt.core.DelMember(tt.at(root, "/a"), "friends", "/d"))
			},
		},
		{
			name: "Delete the set",
			edit: func(root any) {
				require.NoError(t, tt.core.DeleteSet(tt.at(root, "/a"), "friends"))
			},
		},
		{
			name: "Move a set member",
			edit: func(root any) { tt.move(root, "/d", "/b", "d") },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := tt.edit(base, tc.edit)
			patched := tt.apply(base, tt.treeDiff(base, target))

			again, err := tt.differ().Diff(tt.ctx, patched, tt.load(target))
			require.NoError(t, err)
			assert.Nil(t, again)
		})
	}
}

func TestPatchSkipsMissingNodes(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()
	diff := &DiffNode{Children: map[string]*DiffNode{
		"a":    {Attr: map[string]any{"name": "patched"}},
		"zzz":  {Attr: map[string]any{"name": "lost"}},
		"gone": {MovedFrom: "/nowhere"},
	}}

	root := tt.load(base)
	report, err := tt.applier().ApplyTreeDiff(tt.ctx, root, diff)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/zzz", "/gone"}, report.Skipped)
	assert.Equal(t, "patched", tt.core.GetOwnAttribute(tt.at(root, "/a"), "name"))

	assert.Contains(t, diff.Children, "zzz", "the delta passed in is left alone")
}

func TestPatchNilDiff(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()
	root := tt.load(base)
	report, err := tt.applier().ApplyTreeDiff(tt.ctx, root, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)

	_, objects, err := tt.core.Persist(tt.ctx, root)
	require.NoError(t, err)
	assert.Empty(t, objects)
}
