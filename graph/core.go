package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/dannyswat/vcgraph/store"
)

const defaultDecodeCacheSize = 8192

// Core reads and writes node trees kept in an object store.
type Core struct {
	store  store.ObjectStore
	cache  *lru.Cache[string, *nodeData]
	logger zerolog.Logger
}

type Option func(*coreOptions)

type coreOptions struct {
	cacheSize int
	logger    zerolog.Logger
}

// WithCacheSize sets how many decoded nodes are kept in memory.
func WithCacheSize(size int) Option {
	return func(o *coreOptions) { o.cacheSize = size }
}

// WithLogger sets the logger for tree operations.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *coreOptions) { o.logger = logger }
}

// NewCore returns a Core reading and writing node objects through objects.
func NewCore(objects store.ObjectStore, opts ...Option) (*Core, error) {
	o := coreOptions{cacheSize: defaultDecodeCacheSize, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := lru.New[string, *nodeData](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create node cache: %w", err)
	}
	return &Core{
		store:  objects,
		cache:  cache,
		logger: o.logger.With().Str("component", "graph").Logger(),
	}, nil
}

// loadData returns the decoded object for hash. The result is shared and
// must not be modified.
func (c *Core) loadData(ctx context.Context, hash string) (*nodeData, error) {
	if data, ok := c.cache.Get(hash); ok {
		return data, nil
	}
	raw, err := c.store.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", hash, err)
	}
	var data nodeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", hash, err)
	}
	c.cache.Add(hash, &data)
	return &data, nil
}

func asNode(n any) *Node {
	node, _ := n.(*Node)
	return node
}

func mustNode(n any) (*Node, error) {
	node := asNode(n)
	if node == nil {
		return nil, fmt.Errorf("%T: %w", n, ErrInvalidNode)
	}
	return node, nil
}

// CreateRoot starts a new, empty tree. An empty guid gets a random one.
func (c *Core) CreateRoot(guid string) *Node {
	if guid == "" {
		guid = uuid.NewString()
	}
	root := newNode(nil, "", "", &nodeData{GUID: guid})
	root.owned = true
	root.dirty = true
	return root
}

// CreateNode adds an empty child under parent. An empty relid or guid gets a
// generated one.
func (c *Core) CreateNode(parent any, relid, guid string) (*Node, error) {
	p, err := mustNode(parent)
	if err != nil {
		return nil, err
	}
	if relid == "" {
		relid = c.freeRelid(p)
	} else if strings.Contains(relid, "/") {
		return nil, fmt.Errorf("%q: %w", relid, ErrInvalidRelid)
	} else if _, taken := p.data.Children[relid]; taken {
		return nil, fmt.Errorf("%s/%s: %w", p.path(), relid, ErrRelidTaken)
	}
	if guid == "" {
		guid = uuid.NewString()
	}

	child := newNode(p, relid, "", &nodeData{GUID: guid})
	child.owned = true
	pd, err := p.mutate()
	if err != nil {
		return nil, err
	}
	if pd.Children == nil {
		pd.Children = make(map[string]string)
	}
	pd.Children[relid] = ""
	child.dirty = true

	p.mu.Lock()
	p.children[relid] = child
	p.mu.Unlock()
	return child, nil
}

func (c *Core) freeRelid(parent *Node) string {
	for size := 4; ; size++ {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:min(size, 32)]
		if _, taken := parent.data.Children[candidate]; !taken {
			return candidate
		}
	}
}

func (c *Core) LoadRoot(ctx context.Context, hash string) (any, error) {
	data, err := c.loadData(ctx, hash)
	if err != nil {
		return nil, err
	}
	return newNode(nil, "", hash, data), nil
}

// LoadChild returns nil without error when parent has no child at relid.
func (c *Core) LoadChild(ctx context.Context, parent any, relid string) (any, error) {
	p, err := mustNode(parent)
	if err != nil {
		return nil, err
	}
	child, err := c.loadChild(ctx, p, relid)
	if err != nil || child == nil {
		return nil, err
	}
	return child, nil
}

func (c *Core) loadChild(ctx context.Context, p *Node, relid string) (*Node, error) {
	p.mu.Lock()
	if child, ok := p.children[relid]; ok {
		p.mu.Unlock()
		return child, nil
	}
	hash, ok := p.data.Children[relid]
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}

	data, err := c.loadData(ctx, hash)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if child, ok := p.children[relid]; ok {
		return child, nil
	}
	child := newNode(p, relid, hash, data)
	p.children[relid] = child
	return child, nil
}

func (c *Core) LoadChildren(ctx context.Context, node any) ([]any, error) {
	n, err := mustNode(node)
	if err != nil {
		return nil, err
	}
	relids := sortedKeys(n.data.Children)
	result := make([]any, 0, len(relids))
	for _, relid := range relids {
		child, err := c.loadChild(ctx, n, relid)
		if err != nil {
			return nil, err
		}
		if child != nil {
			result = append(result, child)
		}
	}
	return result, nil
}

// LoadByPath resolves path from root. It returns nil without error when any
// step of the path is missing.
func (c *Core) LoadByPath(ctx context.Context, root any, path string) (any, error) {
	n, err := c.loadByPath(ctx, root, path)
	if err != nil || n == nil {
		return nil, err
	}
	return n, nil
}

func (c *Core) loadByPath(ctx context.Context, root any, path string) (*Node, error) {
	n, err := mustNode(root)
	if err != nil {
		return nil, err
	}
	for _, relid := range splitPath(path) {
		if n, err = c.loadChild(ctx, n, relid); err != nil || n == nil {
			return nil, err
		}
	}
	return n, nil
}

func (c *Core) LoadBase(ctx context.Context, node any) (any, error) {
	n, err := mustNode(node)
	if err != nil {
		return nil, err
	}
	if n.data.Base == nil {
		return nil, nil
	}
	return c.LoadByPath(ctx, n.root(), *n.data.Base)
}

func (c *Core) GetRoot(node any) any {
	if n := asNode(node); n != nil {
		return n.root()
	}
	return nil
}

func (c *Core) GetParent(node any) any {
	if n := asNode(node); n != nil && n.parent != nil {
		return n.parent
	}
	return nil
}

func (c *Core) GetRelid(node any) string {
	if n := asNode(node); n != nil {
		return n.relid
	}
	return ""
}

func (c *Core) GetPath(node any) string {
	if n := asNode(node); n != nil {
		return n.path()
	}
	return ""
}

func (c *Core) GetGUID(node any) string {
	if n := asNode(node); n != nil {
		return n.data.GUID
	}
	return ""
}

// GetHash returns the node's content hash. Nodes changed since the last
// persist are hashed on the fly.
func (c *Core) GetHash(node any) string {
	n := asNode(node)
	if n == nil {
		return ""
	}
	if !n.dirty {
		return n.hash
	}
	hash, _, err := c.digest(n)
	if err != nil {
		c.logger.Error().Err(err).Str("path", n.path()).Msg("Failed to hash node")
		return ""
	}
	return hash
}

// GetChildrenHashes maps each child relid to its hash.
func (c *Core) GetChildrenHashes(node any) map[string]string {
	n := asNode(node)
	if n == nil {
		return nil
	}
	result := make(map[string]string, len(n.data.Children))
	for relid, hash := range n.data.Children {
		result[relid] = hash
	}
	for _, child := range n.cachedChildren() {
		if child.dirty {
			result[child.relid] = c.GetHash(child)
		}
	}
	return result
}

func (c *Core) GetOwnAttributeNames(node any) []string {
	if n := asNode(node); n != nil {
		return sortedKeys(n.data.Attr)
	}
	return nil
}

func (c *Core) GetOwnAttribute(node any, name string) any {
	if n := asNode(node); n != nil {
		return n.data.Attr[name]
	}
	return nil
}

func (c *Core) GetOwnRegistryNames(node any) []string {
	if n := asNode(node); n != nil {
		return sortedKeys(n.data.Reg)
	}
	return nil
}

func (c *Core) GetOwnRegistry(node any, name string) any {
	if n := asNode(node); n != nil {
		return n.data.Reg[name]
	}
	return nil
}

// GetPointerNames lists the node's pointers, including the base link.
func (c *Core) GetPointerNames(node any) []string {
	n := asNode(node)
	if n == nil {
		return nil
	}
	names := sortedKeys(n.data.Pointers)
	if n.data.Base != nil {
		names = append(names, BasePointer)
	}
	return names
}

// GetPointerPath returns the target path of a pointer. ok is false for
// missing and null pointers.
func (c *Core) GetPointerPath(node any, name string) (path string, ok bool) {
	n := asNode(node)
	if n == nil {
		return "", false
	}
	if name == BasePointer {
		if n.data.Base == nil {
			return "", false
		}
		return *n.data.Base, true
	}
	target := n.data.Pointers[name]
	if target == nil {
		return "", false
	}
	return *target, true
}

func (c *Core) set(node any, name string) *setData {
	if n := asNode(node); n != nil {
		return n.data.Sets[name]
	}
	return nil
}

func (c *Core) GetSetNames(node any) []string {
	if n := asNode(node); n != nil {
		return sortedKeys(n.data.Sets)
	}
	return nil
}

func (c *Core) GetMemberPaths(node any, set string) []string {
	if s := c.set(node, set); s != nil {
		return sortedKeys(s.Members)
	}
	return nil
}

func (c *Core) GetOwnSetAttributeNames(node any, set string) []string {
	if s := c.set(node, set); s != nil {
		return sortedKeys(s.Attr)
	}
	return nil
}

func (c *Core) GetOwnSetAttribute(node any, set, name string) any {
	if s := c.set(node, set); s != nil {
		return s.Attr[name]
	}
	return nil
}

func (c *Core) GetOwnSetRegistryNames(node any, set string) []string {
	if s := c.set(node, set); s != nil {
		return sortedKeys(s.Reg)
	}
	return nil
}

func (c *Core) GetOwnSetRegistry(node any, set, name string) any {
	if s := c.set(node, set); s != nil {
		return s.Reg[name]
	}
	return nil
}

func (c *Core) member(node any, set, member string) *memberData {
	if s := c.set(node, set); s != nil {
		return s.Members[member]
	}
	return nil
}

func (c *Core) GetMemberOwnAttributeNames(node any, set, member string) []string {
	if m := c.member(node, set, member); m != nil {
		return sortedKeys(m.Attr)
	}
	return nil
}

func (c *Core) GetMemberOwnAttribute(node any, set, member, name string) any {
	if m := c.member(node, set, member); m != nil {
		return m.Attr[name]
	}
	return nil
}

func (c *Core) GetMemberOwnRegistryNames(node any, set, member string) []string {
	if m := c.member(node, set, member); m != nil {
		return sortedKeys(m.Reg)
	}
	return nil
}

func (c *Core) GetMemberOwnRegistry(node any, set, member, name string) any {
	if m := c.member(node, set, member); m != nil {
		return m.Reg[name]
	}
	return nil
}
