package vcgraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concat diffs both edits of base and combines them.
func (tt *testTree) concat(base string, mine, theirs func(root any)) *ConcatResult {
	tt.t.Helper()
	if mine == nil {
		mine = func(any) {}
	}
	if theirs == nil {
		theirs = func(any) {}
	}
	mineDiff := tt.treeDiff(base, tt.edit(base, mine))
	theirsDiff := tt.treeDiff(base, tt.edit(base, theirs))
	result, err := TryToConcatChanges(mineDiff, theirsDiff)
	require.NoError(tt.t, err)
	return result
}

func (tt *testTree) setName(path, value string) func(root any) {
	return func(root any) {
		require.NoError(tt.t, tt.core.SetAttribute(tt.at(root, path), "name", value))
	}
}

func TestConcatOntoEmptyDelta(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()
	target := tt.edit(base, func(root any) {
		require.NoError(t, tt.core.SetAttribute(tt.at(root, "/a"), "name", "y"))
		tt.add(root, "n", "N", map[string]any{"name": "new"})
		require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/b/c")))
	})
	theirs := tt.treeDiff(base, target)

	result, err := TryToConcatChanges(tt.treeDiff(base, base), theirs)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, tt.core.GetHash(tt.load(target)), tt.core.GetHash(tt.apply(base, result.Merge)))

	result, err = TryToConcatChanges(nil, theirs)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, "y", result.Merge.Lookup("/a").Attr["name"])
}

func TestConcatWithoutConflicts(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	tests := []struct {
		name   string
		mine   func(root any)
		theirs func(root any)
		check  func(t *testing.T, merge *DiffNode)
	}{
		{
			name: "Only mine changes",
			mine: tt.setName("/a", "y"),
			check: func(t *testing.T, merge *DiffNode) {
				assert.Equal(t, map[string]any{"name": "y"}, merge.Lookup("/a").Attr)
			},
		},
		{
			name: "Different attributes of one node",
			mine: func(root any) {
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/a"), "x", 1))
			},
			theirs: func(root any) {
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/a"), "y", 2))
			},
			check: func(t *testing.T, merge *DiffNode) {
				assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, merge.Lookup("/a").Attr)
			},
		},
		{
			name:   "Same change on both sides",
			mine:   tt.setName("/a", "y"),
			theirs: tt.setName("/a", "y"),
			check: func(t *testing.T, merge *DiffNode) {
				assert.Equal(t, map[string]any{"name": "y"}, merge.Lookup("/a").Attr)
			},
		},
		{
			name:   "Different nodes",
			mine:   tt.setName("/a", "y"),
			theirs: tt.setName("/b/c", "w"),
			check: func(t *testing.T, merge *DiffNode) {
				assert.Equal(t, "y", merge.Lookup("/a").Attr["name"])
				assert.Equal(t, "w", merge.Lookup("/b/c").Attr["name"])
			},
		},
		{
			name: "Theirs edits a node mine moved",
			mine: func(root any) { tt.move(root, "/b/c", "/a", "c") },
			theirs: func(root any) {
				require.NoError(t, tt.core.SetAttribute(tt.at(root, "/b/c"), "name", "w"))
			},
			check: func(t *testing.T, merge *DiffNode) {
				c := merge.Lookup("/a/c")
				require.NotNil(t, c)
				assert.Equal(t, "/b/c", c.MovedFrom)
				assert.Equal(t, "w", c.Attr["name"])
			},
		},
		{
			name: "Theirs points into a subtree mine moved",
			mine: func(root any) { tt.move(root, "/b", "/a", "b") },
			theirs: func(root any) {
				require.NoError(t, tt.core.SetPointer(tt.at(root, "/d"), "ref", tt.at(root, "/b/c")))
			},
			check: func(t *testing.T, merge *DiffNode) {
				assert.Equal(t, map[string]any{"ref": "/a/b/c"}, merge.Lookup("/d").Pointer)
			},
		},
		{
			name: "Both add a node at the same relid",
			mine: func(root any) { tt.add(root, "n", "N1", nil) },
			theirs: func(root any) {
				tt.add(root, "n", "N2", nil)
			},
			check: func(t *testing.T, merge *DiffNode) {
				guids := map[string]bool{}
				colliding := 0
				for _, c := range merge.Children {
					if c.isAdded() {
						guids[c.GUID] = true
					}
					if c.CollidingRelid == "n" {
						colliding++
					}
				}
				assert.Equal(t, map[string]bool{"N1": true, "N2": true}, guids)
				assert.Equal(t, 1, colliding)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := tt.concat(base, tc.mine, tc.theirs)
			assert.Empty(t, result.Items)
			tc.check(t, result.Merge)
		})
	}
}

func TestConcatMatchesTheirsOntoEmptyDelta(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	tests := []struct {
		name string
		edit func(root any)
	}{
		{name: "Attribute", edit: tt.setName("/a", "y")},
		{name: "Move", edit: func(root any) { tt.move(root, "/b/c", "/a", "c") }},
		{name: "Add", edit: func(root any) { tt.add(tt.at(root, "/b"), "n", "N", map[string]any{"name": "new"}) }},
		{name: "Delete", edit: func(root any) {
			require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/d")))
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			theirs := tt.treeDiff(base, tt.edit(base, tc.edit))
			result, err := TryToConcatChanges(tt.treeDiff(base, base), theirs)
			require.NoError(t, err)
			assert.Empty(t, result.Items)

			want, err := json.Marshal(theirs)
			require.NoError(t, err)
			got, err := json.Marshal(result.Merge)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
		})
	}
}

func TestConcatKeepsReferencesOfCollidingAdds(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	result := tt.concat(base, func(root any) {
		n := tt.add(root, "n", "N1", nil)
		require.NoError(t, tt.core.SetPointer(tt.at(root, "/d"), "ref", n))
	}, func(root any) {
		n := tt.add(root, "n", "N2", nil)
		require.NoError(t, tt.core.SetPointer(tt.at(root, "/a"), "ref", n))
	})
	require.Empty(t, result.Items)

	targetOf := func(path string) string {
		ref, ok := result.Merge.Lookup(path).Pointer["ref"].(string)
		require.True(t, ok)
		node := result.Merge.Lookup(ref)
		require.NotNil(t, node, "no entry at %q", ref)
		return node.GUID
	}
	assert.Equal(t, "N1", targetOf("/d"))
	assert.Equal(t, "N2", targetOf("/a"))

	root := tt.apply(base, result.Merge)
	for path, guid := range map[string]string{"/d": "N1", "/a": "N2"} {
		ref, ok := tt.core.GetPointerPath(tt.at(root, path), "ref")
		require.True(t, ok)
		assert.Equal(t, guid, tt.core.GetGUID(tt.at(root, ref)), "target of %s", path)
	}
}

func TestConcatInheritanceCollision(t *testing.T) {
	tt := newTestTree(t)
	base := tt.edit(tt.baseVersion(), func(root any) {
		typ := tt.add(root, "t", "T", nil)
		instance := tt.add(root, "i", "I", nil)
		require.NoError(t, tt.core.SetPointer(instance, BasePointer, typ))
	})

	result := tt.concat(base,
		func(root any) { tt.add(tt.at(root, "/t"), "k", "K1", nil) },
		func(root any) { tt.add(tt.at(root, "/i"), "k", "K2", nil) })
	assert.Empty(t, result.Items)

	k1 := result.Merge.Lookup("/t/k")
	require.NotNil(t, k1)
	assert.Equal(t, "K1", k1.GUID)

	i := result.Merge.Lookup("/i")
	require.NotNil(t, i)
	assert.Nil(t, i.Children["k"])
	var relocated *DiffNode
	for _, c := range i.Children {
		if c.GUID == "K2" {
			relocated = c
		}
	}
	require.NotNil(t, relocated)
	assert.True(t, relocated.isAdded())
	assert.Equal(t, "k", relocated.CollidingRelid)
}

func TestConcatGUIDMismatch(t *testing.T) {
	tests := []struct {
		name         string
		mine, theirs *DiffNode
	}{
		{
			name:   "Different roots",
			mine:   &DiffNode{GUID: "R1", Attr: map[string]any{"name": "y"}},
			theirs: &DiffNode{GUID: "R2", Attr: map[string]any{"name": "z"}},
		},
		{
			name: "Different nodes edited at one relid",
			mine: &DiffNode{GUID: "R", Children: map[string]*DiffNode{
				"a": {GUID: "A1", Attr: map[string]any{"name": "y"}},
			}},
			theirs: &DiffNode{GUID: "R", Children: map[string]*DiffNode{
				"a": {GUID: "A2", Attr: map[string]any{"name": "z"}},
			}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := TryToConcatChanges(tc.mine, tc.theirs)
			assert.ErrorIs(t, err, ErrGUIDMismatch)
		})
	}
}

func TestConcatConflicts(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	tests := []struct {
		name         string
		mine, theirs func(root any)
		minePath     string
		mineValue    any
		theirsPath   string
		theirsValue  any
	}{
		{
			name:        "Same attribute",
			mine:        tt.setName("/a", "y"),
			theirs:      tt.setName("/a", "z"),
			minePath:    "/a/attr/name",
			mineValue:   "y",
			theirsPath:  "/a/attr/name",
			theirsValue: "z",
		},
		{
			name: "Theirs deletes a node mine edits",
			mine: tt.setName("/a", "y"),
			theirs: func(root any) {
				require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/a")))
			},
			minePath:    "/a/attr/name",
			mineValue:   "y",
			theirsPath:  "/a/removed",
			theirsValue: true,
		},
		{
			name: "Mine deletes a node theirs edits",
			mine: func(root any) {
				require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/a")))
			},
			theirs:      tt.setName("/a", "z"),
			minePath:    "/a/removed",
			mineValue:   true,
			theirsPath:  "/a/attr/name",
			theirsValue: "z",
		},
		{
			name:        "Both move one node",
			mine:        func(root any) { tt.move(root, "/a", "", "e") },
			theirs:      func(root any) { tt.move(root, "/a", "", "f") },
			minePath:    "/e",
			mineValue:   "move",
			theirsPath:  "/f",
			theirsValue: "move",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := tt.concat(base, tc.mine, tc.theirs)
			require.Len(t, result.Items, 1)
			item := result.Items[0]
			assert.Equal(t, SelectMine, item.Selected)
			assert.Equal(t, tc.minePath, item.Mine.Path)
			assert.Equal(t, tc.mineValue, item.Mine.Value)
			assert.Equal(t, tc.theirsPath, item.Theirs.Path)
			assert.Equal(t, tc.theirsValue, item.Theirs.Value)

			require.Contains(t, result.Mine, tc.minePath)
			require.Contains(t, result.Theirs, tc.theirsPath)
			assert.True(t, result.Mine[tc.minePath].ConflictingPaths[tc.theirsPath])
			assert.True(t, result.Theirs[tc.theirsPath].ConflictingPaths[tc.minePath])
		})
	}
}

func TestConcatKeepsEditedNode(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()
	result := tt.concat(base, tt.setName("/a", "y"), func(root any) {
		require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/a")))
	})

	a := result.Merge.Lookup("/a")
	require.NotNil(t, a)
	assert.False(t, a.isRemoved())
	assert.Equal(t, "y", a.Attr["name"])
}

func TestConcatSetConflicts(t *testing.T) {
	tt := newTestTree(t)
	base := tt.edit(tt.baseVersion(), func(root any) {
		a := tt.at(root, "/a")
		require.NoError(t, tt.core.CreateSet(a, "friends"))
		require.NoError(t, tt.core.AddMember(a, "friends", tt.at(root, "/b")))
	})

	result := tt.concat(base, func(root any) {
		require.NoError(t, tt.core.SetMemberAttribute(tt.at(root, "/a"), "friends", "/b", "since", 2020))
	}, func(root any) {
		require.NoError(t, tt.core.DelMember(tt.at(root, "/a"), "friends", "/b"))
	})

	require.Len(t, result.Items, 1)
	assert.Equal(t, "/a/set/friends//b//attr/since", result.Items[0].Mine.Path)
	assert.Equal(t, "/a/set/friends//b//", result.Items[0].Theirs.Path)
	assert.Equal(t, DeleteMarker, result.Items[0].Theirs.Value)
	assert.Equal(t, "/a", result.Items[0].Mine.NodePath)
}

func TestApplyResolution(t *testing.T) {
	tt := newTestTree(t)
	base := tt.baseVersion()

	t.Run("Value conflict", func(t *testing.T) {
		result := tt.concat(base, tt.setName("/a", "y"), tt.setName("/a", "z"))
		require.Len(t, result.Items, 1)

		resolved, err := ApplyResolution(result)
		require.NoError(t, err)
		assert.Equal(t, "y", resolved.Lookup("/a").Attr["name"])

		result.Items[0].Selected = SelectTheirs
		resolved, err = ApplyResolution(result)
		require.NoError(t, err)
		assert.Equal(t, "z", resolved.Lookup("/a").Attr["name"])
		assert.Equal(t, "y", result.Merge.Lookup("/a").Attr["name"], "the merge is left alone")

		other := newSide("/a/attr/name", "x")
		result.Items[0].Other = &other
		result.Items[0].Selected = SelectOther
		resolved, err = ApplyResolution(result)
		require.NoError(t, err)
		assert.Equal(t, "x", resolved.Lookup("/a").Attr["name"])
	})

	t.Run("Deletion wins", func(t *testing.T) {
		result := tt.concat(base, tt.setName("/a", "y"), func(root any) {
			require.NoError(t, tt.core.DeleteNode(tt.ctx, tt.at(root, "/a")))
		})
		require.Len(t, result.Items, 1)
		result.Items[0].Selected = SelectTheirs

		resolved, err := ApplyResolution(result)
		require.NoError(t, err)
		a := resolved.Lookup("/a")
		require.NotNil(t, a)
		assert.True(t, a.isRemoved())
		assert.Nil(t, a.Attr)
		assert.False(t, a.Has(FieldAttr))

		encoded, err := json.Marshal(resolved)
		require.NoError(t, err)
		assert.NotContains(t, string(encoded), `"attr"`)
	})

	t.Run("Move of theirs", func(t *testing.T) {
		result := tt.concat(base,
			func(root any) { tt.move(root, "/a", "", "e") },
			func(root any) { tt.move(root, "/a", "", "f") })
		require.Len(t, result.Items, 1)
		result.Items[0].Selected = SelectTheirs

		resolved, err := ApplyResolution(result)
		require.NoError(t, err)
		assert.Nil(t, resolved.Lookup("/e"))
		require.NotNil(t, resolved.Lookup("/f"))
		assert.Equal(t, "/a", resolved.Lookup("/f").MovedFrom)
	})

	t.Run("Invalid selections", func(t *testing.T) {
		result := tt.concat(base, tt.setName("/a", "y"), tt.setName("/a", "z"))
		result.Items[0].Selected = SelectOther
		_, err := ApplyResolution(result)
		assert.ErrorIs(t, err, ErrMissingSide)

		result.Items[0].Selected = "neither"
		_, err = ApplyResolution(result)
		assert.ErrorIs(t, err, ErrMissingSide)

		_, err = ApplyResolution(nil)
		assert.ErrorIs(t, err, ErrNothingToResolve)
	})
}
