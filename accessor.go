package vcgraph

import "context"

// Node is an opaque handle owned by a Tree implementation.
type Node = any

// TreeReader loads nodes and reads their own state. Loads return a nil node
// without error when the requested node does not exist.
type TreeReader interface {
	LoadByPath(ctx context.Context, root Node, path string) (Node, error)
	LoadChild(ctx context.Context, parent Node, relid string) (Node, error)
	LoadChildren(ctx context.Context, node Node) ([]Node, error)
	LoadBase(ctx context.Context, node Node) (Node, error)

	GetRoot(node Node) Node
	GetParent(node Node) Node
	GetRelid(node Node) string
	GetPath(node Node) string
	GetGUID(node Node) string
	GetHash(node Node) string
	GetChildrenHashes(node Node) map[string]string

	GetOwnAttributeNames(node Node) []string
	GetOwnAttribute(node Node, name string) any
	GetOwnRegistryNames(node Node) []string
	GetOwnRegistry(node Node, name string) any

	// GetPointerNames includes the "base" pointer when the node has one.
	GetPointerNames(node Node) []string
	// GetPointerPath reports false for null pointers.
	GetPointerPath(node Node, name string) (string, bool)

	GetSetNames(node Node) []string
	GetMemberPaths(node Node, set string) []string
	GetOwnSetAttributeNames(node Node, set string) []string
	GetOwnSetAttribute(node Node, set, name string) any
	GetOwnSetRegistryNames(node Node, set string) []string
	GetOwnSetRegistry(node Node, set, name string) any
	GetMemberOwnAttributeNames(node Node, set, member string) []string
	GetMemberOwnAttribute(node Node, set, member, name string) any
	GetMemberOwnRegistryNames(node Node, set, member string) []string
	GetMemberOwnRegistry(node Node, set, member, name string) any

	GetOwnJSONMeta(node Node) map[string]any
}

// TreeWriter changes content and structure of a loaded tree.
type TreeWriter interface {
	SetAttribute(node Node, name string, value any) error
	DelAttribute(node Node, name string) error
	SetRegistry(node Node, name string, value any) error
	DelRegistry(node Node, name string) error
	// SetPointer with a nil target stores a null pointer.
	SetPointer(node Node, name string, target Node) error
	DeletePointer(node Node, name string) error

	CreateSet(node Node, name string) error
	DeleteSet(node Node, name string) error
	AddMember(node Node, set string, target Node) error
	DelMember(node Node, set, path string) error
	SetSetAttribute(node Node, set, name string, value any) error
	DelSetAttribute(node Node, set, name string) error
	SetSetRegistry(node Node, set, name string, value any) error
	DelSetRegistry(node Node, set, name string) error
	SetMemberAttribute(node Node, set, member, name string, value any) error
	DelMemberAttribute(node Node, set, member, name string) error
	SetMemberRegistry(node Node, set, member, name string, value any) error
	DelMemberRegistry(node Node, set, member, name string) error

	DeleteNode(ctx context.Context, node Node) error
	// MoveNode reattaches node under parent, at relid when that slot is
	// free. The returned handle tells the relid actually used.
	MoveNode(ctx context.Context, node, parent Node, relid string) (Node, error)
	CreateChildFromHash(ctx context.Context, parent Node, relid, hash string) (Node, error)
	SetGUID(ctx context.Context, node Node, guid string) error
}

// MetaWriter changes the meta rules of a node. Limits of -1 are unbounded.
type MetaWriter interface {
	SetChildrenMetaLimits(node Node, min, max int) error
	SetChildMeta(node, target Node, min, max int) error
	DelChildMeta(node Node, path string) error
	DelChildrenMeta(node Node) error
	SetPointerMetaLimits(node Node, name string, min, max int) error
	SetPointerMetaTarget(node Node, name string, target Node, min, max int) error
	DelPointerMetaTarget(node Node, name, path string) error
	DelPointerMeta(node Node, name string) error
	SetAttributeMeta(node Node, name string, schema map[string]any) error
	DelAttributeMeta(node Node, name string) error
	SetAspectMetaTarget(node Node, name string, target Node) error
	DelAspectMetaTarget(node Node, name, path string) error
	DelAspectMeta(node Node, name string) error
	SetConstraint(node Node, name string, constraint map[string]any) error
	DelConstraint(node Node, name string) error
}

// Tree is the full node accessor used by the merge orchestrator.
type Tree interface {
	TreeReader
	TreeWriter
	MetaWriter
	LoadRoot(ctx context.Context, hash string) (Node, error)
	// Persist stores every change under root and returns the root hash and
	// the objects written. Nothing changed means no objects.
	Persist(ctx context.Context, root Node) (string, map[string][]byte, error)
}

// Accessor is what applying a delta needs.
type Accessor interface {
	TreeReader
	TreeWriter
	MetaWriter
}
