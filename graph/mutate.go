package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (c *Core) SetAttribute(node any, name string, value any) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if d.Attr == nil {
		d.Attr = make(map[string]any)
	}
	d.Attr[name] = value
	return nil
}

func (c *Core) DelAttribute(node any, name string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if _, ok := n.data.Attr[name]; !ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	delete(d.Attr, name)
	return nil
}

func (c *Core) SetRegistry(node any, name string, value any) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if d.Reg == nil {
		d.Reg = make(map[string]any)
	}
	d.Reg[name] = value
	return nil
}

func (c *Core) DelRegistry(node any, name string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if _, ok := n.data.Reg[name]; !ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	delete(d.Reg, name)
	return nil
}

// SetPointer points name at target. A nil target makes a null pointer. The
// base pointer sets the inheritance link.
func (c *Core) SetPointer(node any, name string, target any) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	var path *string
	if target != nil {
		t, err := mustNode(target)
		if err != nil {
			return err
		}
		p := t.path()
		path = &p
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if name == BasePointer {
		d.Base = path
		return nil
	}
	if d.Pointers == nil {
		d.Pointers = make(map[string]*string)
	}
	d.Pointers[name] = path
	return nil
}

func (c *Core) DeletePointer(node any, name string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if name == BasePointer {
		if n.data.Base == nil {
			return nil
		}
		d, err := n.mutate()
		if err != nil {
			return err
		}
		d.Base = nil
		return nil
	}
	if _, ok := n.data.Pointers[name]; !ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	delete(d.Pointers, name)
	return nil
}

func (c *Core) CreateSet(node any, name string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if _, ok := n.data.Sets[name]; ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if d.Sets == nil {
		d.Sets = make(map[string]*setData)
	}
	d.Sets[name] = &setData{}
	return nil
}

func (c *Core) DeleteSet(node any, name string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if _, ok := n.data.Sets[name]; !ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	delete(d.Sets, name)
	return nil
}

// writableSet returns the set for modification, creating it when missing.
func (c *Core) writableSet(node any, name string) (*setData, error) {
	if err := c.CreateSet(node, name); err != nil {
		return nil, err
	}
	d, err := asNode(node).mutate()
	if err != nil {
		return nil, err
	}
	return d.Sets[name], nil
}

func (c *Core) writableMember(node any, set, member string) (*memberData, error) {
	s, err := c.writableSet(node, set)
	if err != nil {
		return nil, err
	}
	if s.Members == nil {
		s.Members = make(map[string]*memberData)
	}
	m := s.Members[member]
	if m == nil {
		m = &memberData{}
		s.Members[member] = m
	}
	return m, nil
}

func (c *Core) AddMember(node any, set string, target any) error {
	t, err := mustNode(target)
	if err != nil {
		return err
	}
	_, err = c.writableMember(node, set, t.path())
	return err
}

func (c *Core) DelMember(node any, set, path string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	s := n.data.Sets[set]
	if s == nil {
		return nil
	}
	if _, ok := s.Members[path]; !ok {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	delete(d.Sets[set].Members, path)
	return nil
}

func hasKey(m map[string]any, name string) bool {
	_, ok := m[name]
	return ok
}

func setValue(m *map[string]any, name string, value any) {
	if *m == nil {
		*m = make(map[string]any)
	}
	(*m)[name] = value
}

func (c *Core) SetSetAttribute(node any, set, name string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	s, err := c.writableSet(node, set)
	if err != nil {
		return err
	}
	setValue(&s.Attr, name, value)
	return nil
}

func (c *Core) DelSetAttribute(node any, set, name string) error {
	if s := c.set(node, set); s == nil || !hasKey(s.Attr, name) {
		return nil
	}
	s, err := c.writableSet(node, set)
	if err != nil {
		return err
	}
	delete(s.Attr, name)
	return nil
}

func (c *Core) SetSetRegistry(node any, set, name string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	s, err := c.writableSet(node, set)
	if err != nil {
		return err
	}
	setValue(&s.Reg, name, value)
	return nil
}

func (c *Core) DelSetRegistry(node any, set, name string) error {
	if s := c.set(node, set); s == nil || !hasKey(s.Reg, name) {
		return nil
	}
	s, err := c.writableSet(node, set)
	if err != nil {
		return err
	}
	delete(s.Reg, name)
	return nil
}

func (c *Core) SetMemberAttribute(node any, set, member, name string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	m, err := c.writableMember(node, set, member)
	if err != nil {
		return err
	}
	setValue(&m.Attr, name, value)
	return nil
}

func (c *Core) DelMemberAttribute(node any, set, member, name string) error {
	if m := c.member(node, set, member); m == nil || !hasKey(m.Attr, name) {
		return nil
	}
	m, err := c.writableMember(node, set, member)
	if err != nil {
		return err
	}
	delete(m.Attr, name)
	return nil
}

func (c *Core) SetMemberRegistry(node any, set, member, name string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	m, err := c.writableMember(node, set, member)
	if err != nil {
		return err
	}
	setValue(&m.Reg, name, value)
	return nil
}

func (c *Core) DelMemberRegistry(node any, set, member, name string) error {
	if m := c.member(node, set, member); m == nil || !hasKey(m.Reg, name) {
		return nil
	}
	m, err := c.writableMember(node, set, member)
	if err != nil {
		return err
	}
	delete(m.Reg, name)
	return nil
}

func (c *Core) SetGUID(_ context.Context, node any, guid string) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if guid == "" {
		guid = uuid.NewString()
	}
	if n.data.GUID == guid {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	d.GUID = guid
	return nil
}

// CreateChildFromHash attaches the stored subtree hash under parent at relid,
// replacing whatever was there.
func (c *Core) CreateChildFromHash(ctx context.Context, parent any, relid, hash string) (any, error) {
	p, err := mustNode(parent)
	if err != nil {
		return nil, err
	}
	if relid == "" || strings.Contains(relid, "/") {
		return nil, fmt.Errorf("%q: %w", relid, ErrInvalidRelid)
	}
	if _, err := c.loadData(ctx, hash); err != nil {
		return nil, err
	}
	d, err := p.mutate()
	if err != nil {
		return nil, err
	}
	if d.Children == nil {
		d.Children = make(map[string]string)
	}
	d.Children[relid] = hash
	p.mu.Lock()
	delete(p.children, relid)
	p.mu.Unlock()
	return c.LoadChild(ctx, p, relid)
}

// DeleteNode detaches node from its parent and drops every pointer, set
// member and meta rule that targets the removed subtree.
func (c *Core) DeleteNode(ctx context.Context, node any) error {
	n, err := mustNode(node)
	if err != nil {
		return err
	}
	if n.parent == nil {
		return ErrNoParent
	}
	p := n.parent
	removed := n.path()
	pd, err := p.mutate()
	if err != nil {
		return err
	}
	delete(pd.Children, n.relid)
	p.mu.Lock()
	delete(p.children, n.relid)
	p.mu.Unlock()

	return c.walk(ctx, p.root(), func(x *Node) error {
		return dropReferences(x, removed)
	})
}

// MoveNode reattaches node under parent. It keeps relid when that slot is
// free or holds a node with the same guid, and picks a fresh relid
// otherwise. References to the moved subtree
// are rewritten everywhere in the tree.
func (c *Core) MoveNode(ctx context.Context, node, parent any, relid string) (any, error) {
	n, err := mustNode(node)
	if err != nil {
		return nil, err
	}
	p, err := mustNode(parent)
	if err != nil {
		return nil, err
	}
	if n.parent == nil {
		return nil, ErrNoParent
	}
	for cur := p; cur != nil; cur = cur.parent {
		if cur == n {
			return nil, fmt.Errorf("cannot move %s under itself", n.path())
		}
	}
	if relid == "" {
		relid = n.relid
	}
	if p == n.parent && relid == n.relid {
		return n, nil
	}
	if _, taken := p.data.Children[relid]; taken {
		occupant, err := c.loadChild(ctx, p, relid)
		if err != nil {
			return nil, err
		}
		if occupant != nil && occupant.data.GUID == n.data.GUID {
			// a copy of the same node gives way without touching references
			pd, err := p.mutate()
			if err != nil {
				return nil, err
			}
			delete(pd.Children, relid)
			p.mu.Lock()
			delete(p.children, relid)
			p.mu.Unlock()
		} else {
			relid = c.freeRelid(p)
		}
	}

	from := n.path()
	old := n.parent
	hash := c.GetHash(n)
	if _, err := n.mutate(); err != nil {
		return nil, err
	}
	od, err := old.mutate()
	if err != nil {
		return nil, err
	}
	delete(od.Children, n.relid)
	old.mu.Lock()
	delete(old.children, n.relid)
	old.mu.Unlock()

	n.parent = p
	n.relid = relid
	pd, err := p.mutate()
	if err != nil {
		return nil, err
	}
	if pd.Children == nil {
		pd.Children = make(map[string]string)
	}
	pd.Children[relid] = hash
	p.mu.Lock()
	p.children[relid] = n
	p.mu.Unlock()
	if _, err := n.mutate(); err != nil {
		return nil, err
	}

	to := n.path()
	c.logger.Trace().Str("from", from).Str("to", to).Msg("Moved node")
	if err := c.walk(ctx, n.root(), func(x *Node) error {
		return rewriteReferences(x, from, to)
	}); err != nil {
		return nil, err
	}
	return n, nil
}

// walk visits every node of the tree, loading as it goes.
func (c *Core) walk(ctx context.Context, n *Node, visit func(*Node) error) error {
	if err := visit(n); err != nil {
		return err
	}
	for _, relid := range sortedKeys(n.data.Children) {
		child, err := c.loadChild(ctx, n, relid)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		if err := c.walk(ctx, child, visit); err != nil {
			return err
		}
	}
	return nil
}
