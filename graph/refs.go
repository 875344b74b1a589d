package graph

// referencedPaths lists every path the node data refers to.
func referencedPaths(d *nodeData) []string {
	var paths []string
	if d.Base != nil {
		paths = append(paths, *d.Base)
	}
	for _, target := range d.Pointers {
		if target != nil {
			paths = append(paths, *target)
		}
	}
	for _, s := range d.Sets {
		for member := range s.Members {
			paths = append(paths, member)
		}
	}
	if d.Meta != nil {
		if d.Meta.Children != nil {
			for item := range d.Meta.Children.Items {
				paths = append(paths, item)
			}
		}
		for _, rel := range d.Meta.Pointers {
			for item := range rel.Items {
				paths = append(paths, item)
			}
		}
		for _, targets := range d.Meta.Aspects {
			paths = append(paths, targets...)
		}
	}
	return paths
}

func refersUnder(d *nodeData, prefix string) bool {
	for _, p := range referencedPaths(d) {
		if isUnder(p, prefix) {
			return true
		}
	}
	return false
}

func rekey[V any](m map[string]V, rename func(string) (string, bool)) map[string]V {
	if len(m) == 0 {
		return m
	}
	result := make(map[string]V, len(m))
	for k, v := range m {
		if renamed, keep := rename(k); keep {
			result[renamed] = v
		}
	}
	return result
}

// mapReferences rewrites every reference of n through rename; references
// for which rename reports false are dropped.
func mapReferences(n *Node, prefix string, rename func(string) (string, bool)) error {
	if !refersUnder(n.data, prefix) {
		return nil
	}
	d, err := n.mutate()
	if err != nil {
		return err
	}
	if d.Base != nil {
		if p, keep := rename(*d.Base); keep {
			d.Base = &p
		} else {
			d.Base = nil
		}
	}
	for name, target := range d.Pointers {
		if target == nil {
			continue
		}
		if p, keep := rename(*target); keep {
			d.Pointers[name] = &p
		} else {
			delete(d.Pointers, name)
		}
	}
	for _, s := range d.Sets {
		s.Members = rekey(s.Members, rename)
	}
	if d.Meta == nil {
		return nil
	}
	if d.Meta.Children != nil {
		d.Meta.Children.Items = rekey(d.Meta.Children.Items, rename)
	}
	for _, rel := range d.Meta.Pointers {
		rel.Items = rekey(rel.Items, rename)
	}
	for name, targets := range d.Meta.Aspects {
		kept := targets[:0]
		for _, t := range targets {
			if p, keep := rename(t); keep {
				kept = append(kept, p)
			}
		}
		d.Meta.Aspects[name] = kept
	}
	return nil
}

func rewriteReferences(n *Node, from, to string) error {
	return mapReferences(n, from, func(p string) (string, bool) {
		if isUnder(p, from) {
			return rebase(p, from, to), true
		}
		return p, true
	})
}

func dropReferences(n *Node, removed string) error {
	return mapReferences(n, removed, func(p string) (string, bool) {
		return p, !isUnder(p, removed)
	})
}
