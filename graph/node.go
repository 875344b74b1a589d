// Package graph is a lazily loaded, content-addressed node tree. Every node is
// stored as one JSON object keyed by the SHA-256 of its encoding; a node links
// its children by relid and hash.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrInvalidNode  = errors.New("invalid node handle")
	ErrRelidTaken   = errors.New("relid already in use")
	ErrInvalidRelid = errors.New("invalid relid")
	ErrNoParent     = errors.New("node has no parent")
	ErrInvalidValue = errors.New("value cannot be stored")
)

// BasePointer is the pointer name under which the inheritance link is exposed.
const BasePointer = "base"

type memberData struct {
	Attr map[string]any `json:"attr,omitempty"`
	Reg  map[string]any `json:"reg,omitempty"`
}

type setData struct {
	Attr    map[string]any         `json:"attr,omitempty"`
	Reg     map[string]any         `json:"reg,omitempty"`
	Members map[string]*memberData `json:"members,omitempty"`
}

// Cardinality bounds one allowed target of a relation. -1 means unbounded.
type Cardinality struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Relation is a meta rule for children or for one named pointer.
type Relation struct {
	Min   int                    `json:"min"`
	Max   int                    `json:"max"`
	Items map[string]Cardinality `json:"items,omitempty"`
}

// Meta holds the rules a node imposes on its instances.
type Meta struct {
	Children    *Relation                 `json:"children,omitempty"`
	Pointers    map[string]*Relation      `json:"pointers,omitempty"`
	Attributes  map[string]map[string]any `json:"attributes,omitempty"`
	Aspects     map[string][]string       `json:"aspects,omitempty"`
	Constraints map[string]map[string]any `json:"constraints,omitempty"`
}

func (m *Meta) empty() bool {
	return m == nil || (m.Children == nil && len(m.Pointers) == 0 && len(m.Attributes) == 0 &&
		len(m.Aspects) == 0 && len(m.Constraints) == 0)
}

// nodeData is the persisted state of a node. A nil pointer target is a null
// pointer.
type nodeData struct {
	GUID     string              `json:"guid"`
	Base     *string             `json:"base,omitempty"`
	Attr     map[string]any      `json:"attr,omitempty"`
	Reg      map[string]any      `json:"reg,omitempty"`
	Pointers map[string]*string  `json:"pointers,omitempty"`
	Sets     map[string]*setData `json:"sets,omitempty"`
	Meta     *Meta               `json:"meta,omitempty"`
	Children map[string]string   `json:"children,omitempty"`
}

func (d *nodeData) clone() (*nodeData, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to copy node data: %w", err)
	}
	var copied nodeData
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("failed to copy node data: %w", err)
	}
	return &copied, nil
}

// checkValue rejects values that cannot be stored as JSON.
func checkValue(value any) error {
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}

// Node is a handle on one loaded node. Handles are cached by their parent, so
// loading the same path twice yields the same handle.
type Node struct {
	parent *Node
	relid  string

	data  *nodeData
	owned bool
	hash  string
	dirty bool

	mu       sync.Mutex
	children map[string]*Node
}

func newNode(parent *Node, relid, hash string, data *nodeData) *Node {
	return &Node{
		parent:   parent,
		relid:    relid,
		hash:     hash,
		data:     data,
		children: make(map[string]*Node),
	}
}

func (n *Node) root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

func (n *Node) path() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.path() + "/" + n.relid
}

// mutate makes the node's data private and marks it and its ancestors dirty.
// Nothing is marked when a copy fails.
func (n *Node) mutate() (*nodeData, error) {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.owned {
			continue
		}
		data, err := cur.data.clone()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cur.path(), err)
		}
		cur.data = data
		cur.owned = true
	}
	for cur := n; cur != nil; cur = cur.parent {
		cur.dirty = true
		cur.hash = ""
	}
	return n.data, nil
}

func (n *Node) cachedChildren() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]*Node, 0, len(n.children))
	for _, child := range n.children {
		result = append(result, child)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func isUnder(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func rebase(path, from, to string) string {
	return to + strings.TrimPrefix(path, from)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
