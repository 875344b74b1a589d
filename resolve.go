package vcgraph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ApplyResolution applies the selections made on the conflict items of a
// concat result to its merge delta and returns the resolved delta. Items
// left on "mine" keep the merge as it is. The result is not modified.
func ApplyResolution(result *ConcatResult) (*DiffNode, error) {
	if result == nil || result.Merge == nil {
		return nil, ErrNothingToResolve
	}
	merge, ok := generic(result.Merge).(map[string]any)
	if !ok {
		merge = make(map[string]any)
	}

	items := make([]ConflictItem, 0, len(result.Items))
	for _, item := range result.Items {
		if item != nil {
			items = append(items, *item)
		}
	}
	items, err := resolveMoves(merge, items)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		var chosen *ConflictSide
		switch item.Selected {
		case SelectMine, "":
			continue
		case SelectTheirs:
			chosen = &item.Theirs
		case SelectOther:
			if item.Other == nil {
				return nil, fmt.Errorf("%w: %q selects other", ErrMissingSide, item.Mine.Path)
			}
			chosen = item.Other
		default:
			return nil, fmt.Errorf("%w: unknown selection %q", ErrMissingSide, item.Selected)
		}
		if err := removeField(merge, item.Mine.Path); err != nil {
			return nil, err
		}
		if err := insertField(merge, chosen.Path, chosen.Value); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(merge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolved merge: %w", err)
	}
	resolved := &DiffNode{}
	if err := json.Unmarshal(raw, resolved); err != nil {
		return nil, fmt.Errorf("failed to decode resolved merge: %w", err)
	}
	clearRemoved(resolved)
	normalize(resolved)
	return resolved, nil
}

// clearRemoved drops the content left on nodes a selection removed.
func clearRemoved(d *DiffNode) {
	d.walk("", func(_ string, n *DiffNode) {
		if !n.isRemoved() {
			return
		}
		n.MovedFrom, n.CollidingRelid, n.ChildrenListChanged = "", "", false
		n.Attr, n.Reg, n.Pointer, n.Set, n.Meta = nil, nil, nil, nil, nil
		n.Children = nil
	})
}

// resolveMoves carries out the double-move conflicts resolved in favour of
// theirs and rewrites the paths of the remaining items below the moved
// nodes.
func resolveMoves(merge map[string]any, items []ConflictItem) ([]ConflictItem, error) {
	moves := make(map[string]string)
	var rest []ConflictItem
	for _, item := range items {
		if item.Selected != SelectTheirs || item.Theirs.Value != "move" {
			rest = append(rest, item)
			continue
		}
		node, ok := lookupField(merge, item.Mine.Path)
		if !ok {
			return nil, fmt.Errorf("%w: no node at %q", ErrMalformedPath, item.Mine.Path)
		}
		if err := removeField(merge, item.Mine.Path); err != nil {
			return nil, err
		}
		if err := insertField(merge, item.Theirs.Path, node); err != nil {
			return nil, err
		}
		moves[item.Mine.Path] = item.Theirs.Path
	}
	if len(moves) == 0 {
		return rest, nil
	}
	for i := range rest {
		if rest[i].Selected == SelectTheirs {
			rest[i].Mine.Path = translatePath(rest[i].Mine.Path, moves)
			rest[i].Theirs.Path = translatePath(rest[i].Theirs.Path, moves)
		}
	}
	return rest, nil
}

func fieldKeys(path string) ([]string, error) {
	if path != "" && !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
	}
	return splitFieldPath(path), nil
}

func lookupField(obj map[string]any, path string) (any, bool) {
	keys, err := fieldKeys(path)
	if err != nil {
		return nil, false
	}
	var cur any = obj
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// insertField stores value at path, creating or replacing the objects on
// the way.
func insertField(obj map[string]any, path string, value any) error {
	keys, err := fieldKeys(path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: cannot replace the root", ErrMalformedPath)
	}
	cur := obj
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = cloneValue(value)
	return nil
}

// removeField deletes the value at path. Missing paths are ignored.
func removeField(obj map[string]any, path string) error {
	keys, err := fieldKeys(path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cur := obj
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	delete(cur, keys[len(keys)-1])
	return nil
}
