package graph

import "sort"

// Unbounded is the cardinality limit meaning "no limit".
const Unbounded = -1

func relationJSON(rel *Relation) map[string]any {
	out := map[string]any{"min": rel.Min, "max": rel.Max}
	for path, card := range rel.Items {
		out[path] = map[string]any{"min": card.Min, "max": card.Max}
	}
	return out
}

func copyObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetOwnJSONMeta returns the node's own meta rules as plain JSON data:
//
//	{"children": {"min": -1, "max": -1, "/path": {"min": 0, "max": 1}},
//	 "pointers": {"name": {...same shape...}},
//	 "attributes": {"name": schema}, "aspects": {"name": ["/path"]},
//	 "constraints": {"name": {...}}}
//
// Only sections with content are present. A node without rules yields nil.
func (c *Core) GetOwnJSONMeta(node any) map[string]any {
	n := asNode(node)
	if n == nil || n.data.Meta.empty() {
		return nil
	}
	m := n.data.Meta
	out := make(map[string]any)
	if m.Children != nil {
		out["children"] = relationJSON(m.Children)
	}
	if len(m.Pointers) > 0 {
		pointers := make(map[string]any, len(m.Pointers))
		for name, rel := range m.Pointers {
			pointers[name] = relationJSON(rel)
		}
		out["pointers"] = pointers
	}
	if len(m.Attributes) > 0 {
		attributes := make(map[string]any, len(m.Attributes))
		for name, schema := range m.Attributes {
			attributes[name] = copyObject(schema)
		}
		out["attributes"] = attributes
	}
	if len(m.Aspects) > 0 {
		aspects := make(map[string]any, len(m.Aspects))
		for name, targets := range m.Aspects {
			sorted := append([]string{}, targets...)
			sort.Strings(sorted)
			list := make([]any, len(sorted))
			for i, t := range sorted {
				list[i] = t
			}
			aspects[name] = list
		}
		out["aspects"] = aspects
	}
	if len(m.Constraints) > 0 {
		constraints := make(map[string]any, len(m.Constraints))
		for name, constraint := range m.Constraints {
			constraints[name] = copyObject(constraint)
		}
		out["constraints"] = constraints
	}
	return out
}

// editMeta runs edit on the node's private meta and drops it again when
// nothing is left.
func (c *Core) editMeta(node any, edit func(*Meta)) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if d.Meta == nil {
		d.Meta = &Meta{}
	}
	edit(d.Meta)
	if d.Meta.empty() {
		d.Meta = nil
	}
	return nil
}

func targetPath(target any) (string, error) {
	t, err := mustNode(target)
	if err != nil {
		return "", err
	}
	return t.path(), nil
}

func newRelation() *Relation {
	return &Relation{Min: Unbounded, Max: Unbounded}
}

func (c *Core) SetChildrenMetaLimits(node any, min, max int) error {
	return c.editMeta(node, func(m *Meta) {
		if m.Children == nil {
			m.Children = newRelation()
		}
		m.Children.Min, m.Children.Max = min, max
	})
}

func (c *Core) SetChildMeta(node, target any, min, max int) error {
	path, err := targetPath(target)
	if err != nil {
		return err
	}
	return c.editMeta(node, func(m *Meta) {
		if m.Children == nil {
			m.Children = newRelation()
		}
		if m.Children.Items == nil {
			m.Children.Items = make(map[string]Cardinality)
		}
		m.Children.Items[path] = Cardinality{Min: min, Max: max}
	})
}

func (c *Core) DelChildMeta(node any, path string) error {
	return c.editMeta(node, func(m *Meta) {
		if m.Children != nil {
			delete(m.Children.Items, path)
		}
	})
}

func (c *Core) DelChildrenMeta(node any) error {
	return c.editMeta(node, func(m *Meta) { m.Children = nil })
}

func (c *Core) pointerRelation(m *Meta, name string) *Relation {
	if m.Pointers == nil {
		m.Pointers = make(map[string]*Relation)
	}
	rel := m.Pointers[name]
	if rel == nil {
		rel = newRelation()
		m.Pointers[name] = rel
	}
	return rel
}

func (c *Core) SetPointerMetaLimits(node any, name string, min, max int) error {
	return c.editMeta(node, func(m *Meta) {
		rel := c.pointerRelation(m, name)
		rel.Min, rel.Max = min, max
	})
}

func (c *Core) SetPointerMetaTarget(node any, name string, target any, min, max int) error {
	path, err := targetPath(target)
	if err != nil {
		return err
	}
	return c.editMeta(node, func(m *Meta) {
		rel := c.pointerRelation(m, name)
		if rel.Items == nil {
			rel.Items = make(map[string]Cardinality)
		}
		rel.Items[path] = Cardinality{Min: min, Max: max}
	})
}

func (c *Core) DelPointerMetaTarget(node any, name, path string) error {
	return c.editMeta(node, func(m *Meta) {
		if rel := m.Pointers[name]; rel != nil {
			delete(rel.Items, path)
		}
	})
}

func (c *Core) DelPointerMeta(node any, name string) error {
	return c.editMeta(node, func(m *Meta) { delete(m.Pointers, name) })
}

func (c *Core) SetAttributeMeta(node any, name string, schema map[string]any) error {
	return c.editMeta(node, func(m *Meta) {
		if m.Attributes == nil {
			m.Attributes = make(map[string]map[string]any)
		}
		m.Attributes[name] = copyObject(schema)
	})
}

func (c *Core) DelAttributeMeta(node any, name string) error {
	return c.editMeta(node, func(m *Meta) { delete(m.Attributes, name) })
}

func (c *Core) SetAspectMetaTarget(node any, name string, target any) error {
	path, err := targetPath(target)
	if err != nil {
		return err
	}
	return c.editMeta(node, func(m *Meta) {
		if m.Aspects == nil {
			m.Aspects = make(map[string][]string)
		}
		for _, existing := range m.Aspects[name] {
			if existing == path {
				return
			}
		}
		m.Aspects[name] = append(m.Aspects[name], path)
		sort.Strings(m.Aspects[name])
	})
}

func (c *Core) DelAspectMetaTarget(node any, name, path string) error {
	return c.editMeta(node, func(m *Meta) {
		targets, ok := m.Aspects[name]
		if !ok {
			return
		}
		kept := make([]string, 0, len(targets))
		for _, t := range targets {
			if t != path {
				kept = append(kept, t)
			}
		}
		m.Aspects[name] = kept
	})
}

func (c *Core) DelAspectMeta(node any, name string) error {
	return c.editMeta(node, func(m *Meta) { delete(m.Aspects, name) })
}

func (c *Core) SetConstraint(node any, name string, constraint map[string]any) error {
	return c.editMeta(node, func(m *Meta) {
		if m.Constraints == nil {
			m.Constraints = make(map[string]map[string]any)
		}
		m.Constraints[name] = copyObject(constraint)
	})
}

func (c *Core) DelConstraint(node any, name string) error {
	return c.editMeta(node, func(m *Meta) { delete(m.Constraints, name) })
}
