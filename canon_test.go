package vcgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectDiffPatch(t *testing.T) {
	tests := []struct {
		name           string
		source, target map[string]any
		want           map[string]any
	}{
		{
			name:   "Identical",
			source: map[string]any{"a": "x", "b": map[string]any{"c": 1.0}},
			target: map[string]any{"a": "x", "b": map[string]any{"c": 1.0}},
			want:   map[string]any{},
		},
		{
			name:   "Changed, added and removed keys",
			source: map[string]any{"a": "x", "b": "y"},
			target: map[string]any{"a": "z", "c": true},
			want:   map[string]any{"a": "z", "b": DeleteMarker, "c": true},
		},
		{
			name:   "Nested objects",
			source: map[string]any{"children": map[string]any{"min": 0.0, "max": 2.0}},
			target: map[string]any{"children": map[string]any{"min": 1.0, "max": 2.0}},
			want:   map[string]any{"children": map[string]any{"min": 1.0}},
		},
		{
			name:   "Arrays as sets",
			source: map[string]any{"targets": []any{"/a", "/b"}},
			target: map[string]any{"targets": []any{"/b", "/c"}},
			want:   map[string]any{"targets": map[string]any{"/a": DeleteMarker, "/c": true}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			diff := diffObjects(tc.source, tc.target)
			assert.Equal(t, tc.want, diff)

			patched := patchObject(tc.source, diff)
			assert.Equal(t, canonical(normalizeArrays(tc.target)), canonical(normalizeArrays(patched)))
		})
	}
}

// normalizeArrays sorts string arrays so that set-like arrays compare equal.
func normalizeArrays(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case []any:
			keys := make(map[string]bool, len(v))
			for _, e := range v {
				keys[e.(string)] = true
			}
			out[k] = sortedKeys(keys)
		case map[string]any:
			out[k] = normalizeArrays(v)
		default:
			out[k] = v
		}
	}
	return out
}

func TestPatchObjectLeavesInputAlone(t *testing.T) {
	current := map[string]any{"a": map[string]any{"b": "x"}}
	patched := patchObject(current, map[string]any{"a": map[string]any{"b": DeleteMarker}})

	assert.Equal(t, map[string]any{"a": map[string]any{}}, patched)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": "x"}}, current)
	assert.False(t, pruneEmpty(patched))
}

func TestPatchArray(t *testing.T) {
	got := patchArray([]any{"/a", "/b"}, map[string]any{"/a": DeleteMarker, "/c": true, "/b": true})
	assert.Equal(t, []any{"/b", "/c"}, got)
}

func TestSameValue(t *testing.T) {
	assert.True(t, sameValue(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1}))
	assert.True(t, sameValue(1, 1.0))
	assert.False(t, sameValue("1", 1))
}
