// Package htmlgraph maps HTML documents onto node trees and back. Every HTML
// node becomes a graph node whose relid is its position among its siblings.
package htmlgraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/dannyswat/vcgraph/graph"
)

const (
	// AttrTag holds the element name, or one of the pseudo tags below.
	AttrTag = "tag"
	// AttrText holds the content of text, comment and doctype nodes.
	AttrText = "text"

	TagDocument = "#document"
	TagText     = "#text"
	TagComment  = "#comment"
	TagDoctype  = "#doctype"
)

// Namespace seeds the guids of imported nodes.
var Namespace = uuid.MustParse("5b0f2e6c-8d7a-4c1e-9a53-0f4b6a3d9e21")

var ErrNotDescendant = errors.New("target node is not a descendant of root")

// ParseHTML parses a string into an HTML node tree.
func ParseHTML(content string) (*html.Node, error) {
	return html.Parse(strings.NewReader(content))
}

// RenderNode converts a node tree back to a string.
func RenderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GetPath returns the relid path from root to target, like "/0/1/0".
func GetPath(root, target *html.Node) (string, error) {
	var parts []string
	for current := target; current != root; current = current.Parent {
		parent := current.Parent
		if parent == nil {
			return "", ErrNotDescendant
		}
		index := getChildIndex(parent, current)
		if index == -1 {
			return "", errors.New("integrity error: child not found in parent's list")
		}
		parts = append([]string{strconv.Itoa(index)}, parts...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "/" + strings.Join(parts, "/"), nil
}

// getChildIndex returns the index of child within parent.
func getChildIndex(parent, child *html.Node) int {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c == child {
			return count
		}
		count++
	}
	return -1
}

// GUID returns the guid an imported node at path gets.
func GUID(path string) string {
	return uuid.NewSHA1(Namespace, []byte(path)).String()
}

// Import parses content and builds it as a new tree. Guids derive from the
// document position, so imports of related documents correlate.
func Import(core *graph.Core, content string) (*graph.Node, error) {
	doc, err := ParseHTML(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	root := core.CreateRoot(GUID(""))
	if err := importInto(core, root, doc, ""); err != nil {
		return nil, err
	}
	return root, nil
}

func importInto(core *graph.Core, node *graph.Node, n *html.Node, path string) error {
	for name, value := range nodeAttributes(n) {
		if err := core.SetAttribute(node, name, value); err != nil {
			return err
		}
	}
	index := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		relid := strconv.Itoa(index)
		index++
		childPath := path + "/" + relid
		child, err := core.CreateNode(node, relid, GUID(childPath))
		if err != nil {
			return err
		}
		if err := importInto(core, child, c, childPath); err != nil {
			return err
		}
	}
	return nil
}

func nodeAttributes(n *html.Node) map[string]any {
	attrs := make(map[string]any, len(n.Attr)+2)
	switch n.Type {
	case html.DocumentNode:
		attrs[AttrTag] = TagDocument
	case html.TextNode:
		attrs[AttrTag] = TagText
		attrs[AttrText] = n.Data
	case html.CommentNode:
		attrs[AttrTag] = TagComment
		attrs[AttrText] = n.Data
	case html.DoctypeNode:
		attrs[AttrTag] = TagDoctype
		attrs[AttrText] = n.Data
	default:
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		attrs[AttrTag] = n.Data
	}
	return attrs
}

// Export renders the tree under root as HTML.
func Export(ctx context.Context, core *graph.Core, root any) (string, error) {
	doc, err := exportNode(ctx, core, root)
	if err != nil {
		return "", err
	}
	return RenderNode(doc)
}

func exportNode(ctx context.Context, core *graph.Core, node any) (*html.Node, error) {
	n := &html.Node{}
	tag, _ := core.GetOwnAttribute(node, AttrTag).(string)
	text, _ := core.GetOwnAttribute(node, AttrText).(string)
	switch tag {
	case TagDocument, "":
		n.Type = html.DocumentNode
	case TagText:
		n.Type, n.Data = html.TextNode, text
	case TagComment:
		n.Type, n.Data = html.CommentNode, text
	case TagDoctype:
		n.Type, n.Data = html.DoctypeNode, text
	default:
		n.Type, n.Data = html.ElementNode, tag
		for _, name := range core.GetOwnAttributeNames(node) {
			if name == AttrTag {
				continue
			}
			value := fmt.Sprint(core.GetOwnAttribute(node, name))
			n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
		}
		sort.Slice(n.Attr, func(i, j int) bool { return n.Attr[i].Key < n.Attr[j].Key })
	}

	children, err := core.LoadChildren(ctx, node)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(children, func(i, j int) bool {
		return relidLess(core.GetRelid(children[i]), core.GetRelid(children[j]))
	})
	for _, child := range children {
		c, err := exportNode(ctx, core, child)
		if err != nil {
			return nil, err
		}
		n.AppendChild(c)
	}
	return n, nil
}

// relidLess orders positional relids numerically and any other relid after
// them.
func relidLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	}
	return a < b
}
