package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dannyswat/vcgraph/store"
)

// digest encodes a dirty node with the current hashes of its dirty children
// without changing any state.
func (c *Core) digest(n *Node) (string, []byte, error) {
	if !n.dirty {
		return n.hash, nil, nil
	}
	encoded := *n.data
	if len(n.data.Children) > 0 {
		encoded.Children = make(map[string]string, len(n.data.Children))
		for relid, hash := range n.data.Children {
			encoded.Children[relid] = hash
		}
		for _, child := range n.cachedChildren() {
			if _, ok := encoded.Children[child.relid]; !ok || !child.dirty {
				continue
			}
			hash, _, err := c.digest(child)
			if err != nil {
				return "", nil, err
			}
			encoded.Children[child.relid] = hash
		}
	}
	raw, err := json.Marshal(&encoded)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode node %s: %w", n.path(), err)
	}
	return store.HashObject(raw), raw, nil
}

// Persist writes every node changed under root to the object store and
// returns the new root hash with the written objects. An unchanged tree
// writes nothing.
func (c *Core) Persist(ctx context.Context, root any) (string, map[string][]byte, error) {
	n, err := mustNode(root)
	if err != nil {
		return "", nil, err
	}
	objects := make(map[string][]byte)
	if err := c.persist(ctx, n, objects); err != nil {
		return "", nil, err
	}
	c.logger.Debug().Str("root", n.hash).Int("objects", len(objects)).Msg("Persisted tree")
	return n.hash, objects, nil
}

func (c *Core) persist(ctx context.Context, n *Node, objects map[string][]byte) error {
	if !n.dirty {
		return nil
	}
	for _, child := range n.cachedChildren() {
		if !child.dirty {
			continue
		}
		if _, attached := n.data.Children[child.relid]; !attached {
			continue
		}
		if err := c.persist(ctx, child, objects); err != nil {
			return err
		}
		n.data.Children[child.relid] = child.hash
	}

	raw, err := json.Marshal(n.data)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", n.path(), err)
	}
	hash := store.HashObject(raw)
	if err := c.store.Put(ctx, hash, raw); err != nil {
		return fmt.Errorf("failed to store node %s: %w", n.path(), err)
	}
	objects[hash] = raw
	n.hash = hash
	n.dirty = false
	return nil
}
