package vcgraph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// canonical renders v as JSON with object keys sorted, so two values are
// equal iff their canonical forms are.
func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(raw)
}

func sameValue(a, b any) bool {
	return canonical(a) == canonical(b)
}

// generic converts v into plain JSON data: map[string]any, []any, string,
// float64, bool or nil.
func generic(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case nil, string, bool, float64, int, int64:
		return v
	}
	return generic(v)
}

func cloneObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

// diffObjects returns the change turning source into target: removed keys
// map to DeleteMarker, nested objects are diffed recursively, arrays are
// diffed as sets and everything else is replaced by the target value.
func diffObjects(source, target map[string]any) map[string]any {
	diff := make(map[string]any)
	for k := range source {
		if _, ok := target[k]; !ok {
			diff[k] = DeleteMarker
		}
	}
	for k, tv := range target {
		sv, ok := source[k]
		if !ok {
			diff[k] = cloneValue(tv)
			continue
		}
		sObj, sIsObj := sv.(map[string]any)
		tObj, tIsObj := tv.(map[string]any)
		sArr, sIsArr := sv.([]any)
		tArr, tIsArr := tv.([]any)
		switch {
		case sIsObj && tIsObj:
			if sub := diffObjects(sObj, tObj); len(sub) > 0 {
				diff[k] = sub
			}
		case sIsArr && tIsArr:
			if sub := arrayDiff(sArr, tArr); len(sub) > 0 {
				diff[k] = sub
			}
		default:
			if !sameValue(sv, tv) {
				diff[k] = cloneValue(tv)
			}
		}
	}
	return diff
}

// arrayDiff treats both arrays as sets: elements only in target map to
// true, elements only in source map to DeleteMarker.
func arrayDiff(source, target []any) map[string]any {
	key := func(v any) string {
		if s, ok := v.(string); ok {
			return s
		}
		return canonical(v)
	}
	inSource := make(map[string]bool, len(source))
	for _, v := range source {
		inSource[key(v)] = true
	}
	inTarget := make(map[string]bool, len(target))
	for _, v := range target {
		inTarget[key(v)] = true
	}

	diff := make(map[string]any)
	for k := range inSource {
		if !inTarget[k] {
			diff[k] = DeleteMarker
		}
	}
	for k := range inTarget {
		if !inSource[k] {
			diff[k] = true
		}
	}
	return diff
}

// patchObject applies an object diff produced by diffObjects to current and
// returns the result. current is not modified.
func patchObject(current, diff map[string]any) map[string]any {
	out := cloneObject(current)
	if out == nil {
		out = make(map[string]any)
	}
	for k, dv := range diff {
		if dv == DeleteMarker {
			delete(out, k)
			continue
		}
		dObj, dIsObj := dv.(map[string]any)
		switch current := out[k].(type) {
		case map[string]any:
			if dIsObj {
				out[k] = patchObject(current, dObj)
				continue
			}
		case []any:
			if dIsObj {
				out[k] = patchArray(current, dObj)
				continue
			}
		}
		out[k] = cloneValue(dv)
	}
	return out
}

// patchArray applies an arrayDiff to a list of strings.
func patchArray(current []any, diff map[string]any) []any {
	out := make([]any, 0, len(current)+len(diff))
	for _, v := range current {
		if key, ok := v.(string); ok && diff[key] == DeleteMarker {
			continue
		}
		out = append(out, v)
	}
	for _, key := range sortedKeys(diff) {
		if diff[key] != DeleteMarker && !slices.ContainsFunc(out, func(v any) bool { return v == key }) {
			out = append(out, key)
		}
	}
	return out
}

// pruneEmpty drops empty nested objects from m in place and reports whether
// anything is left.
func pruneEmpty(m map[string]any) bool {
	for k, v := range m {
		if obj, ok := v.(map[string]any); ok && !pruneEmpty(obj) {
			delete(m, k)
		}
	}
	return len(m) > 0
}
