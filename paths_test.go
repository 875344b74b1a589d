package vcgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitFieldPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", nil},
		{"/a/attr/name", []string{"a", "attr", "name"}},
		{"/a/b/pointer/ref", []string{"a", "b", "pointer", "ref"}},
		{"/a/set/friends//b/c//", []string{"a", "set", "friends", "/b/c"}},
		{"/a/set/friends//b//attr/since", []string{"a", "set", "friends", "/b", "attr", "since"}},
		{"/a/meta/children//d//", []string{"a", "meta", "children", "/d"}},
		{"/a/meta/pointers/ref/min", []string{"a", "meta", "pointers", "ref", "min"}},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, splitFieldPath(tc.path))
		})
	}
}

func TestNodePathOf(t *testing.T) {
	tests := map[string]string{
		"/a/attr/name":                  "/a",
		"/a/b/removed":                  "/a/b",
		"/a/set/friends//b//attr/since": "/a",
		"/e":                            "/e",
		"/meta/children//d//":           "",
	}

	for path, want := range tests {
		assert.Equal(t, want, nodePathOf(path), path)
	}
}

func TestTranslatePath(t *testing.T) {
	moves := map[string]string{
		"/a":   "/x/a",
		"/a/b": "/y",
	}

	tests := []struct {
		path string
		want string
	}{
		{"/a", "/x/a"},
		{"/a/c", "/x/a/c"},
		{"/a/b", "/y"},
		{"/a/b/c", "/y/c"},
		{"/ab", "/ab"},
		{"/d", "/d"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, translatePath(tc.path, moves))
		})
	}
	assert.Equal(t, "/a", translatePath("/a", nil))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/a/b", joinPath("/a", "b"))
	assert.Equal(t, "/a", parentPath("/a/b"))
	assert.Equal(t, "", parentPath("/a"))
	assert.Equal(t, "b", lastRelid("/a/b"))
	assert.Nil(t, splitNodePath(""))
	assert.Equal(t, []string{"a", "b"}, splitNodePath("/a/b"))
	assert.True(t, isUnderPath("/a/b", "/a"))
	assert.True(t, isUnderPath("/a", "/a"))
	assert.False(t, isUnderPath("/ab", "/a"))
	assert.Equal(t, "/a", commonAncestorPath("/a/b", "/a/c/d"))
	assert.Equal(t, "", commonAncestorPath("/a", "/b"))
	assert.Equal(t, "//a/b//", embedPath("/a/b"))
	assert.True(t, IsReservedKey("attr"))
	assert.False(t, IsReservedKey("a"))
}
