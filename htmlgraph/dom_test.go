package htmlgraph

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/dannyswat/vcgraph/graph"
	"github.com/dannyswat/vcgraph/store"
)

func newCore(t *testing.T) *graph.Core {
	t.Helper()
	core, err := graph.NewCore(store.NewMemoryStore())
	require.NoError(t, err)
	return core
}

func TestPathing(t *testing.T) {
	doc, err := ParseHTML(`<html><head></head><body><div><p>Hello</p></div></body></html>`)
	require.NoError(t, err)

	// root -> html (0) -> body (1) -> div (0) -> p (0) -> text "Hello" (0)
	text := doc.FirstChild.LastChild.FirstChild.FirstChild.FirstChild
	require.Equal(t, html.TextNode, text.Type)
	require.Equal(t, "Hello", text.Data)

	path, err := GetPath(doc, text)
	require.NoError(t, err)
	assert.Equal(t, "/0/1/0/0/0", path)

	path, err = GetPath(doc, doc)
	require.NoError(t, err)
	assert.Equal(t, "", path)

	_, err = GetPath(text, doc)
	assert.ErrorIs(t, err, ErrNotDescendant)
}

func TestImportExportRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"text", `<div><p>Hello</p></div>`},
		{"attributes", `<div class="a" id="main"><a href="/x">link</a></div>`},
		{"list", `<ul><li>A</li><li>B</li><li>C</li><li>D</li><li>E</li><li>F</li><li>G</li><li>H</li><li>I</li><li>J</li><li>K</li></ul>`},
		{"comment and doctype", `<!DOCTYPE html><html><body><!-- note --><p>x</p></body></html>`},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t)
			root, err := Import(core, tt.content)
			require.NoError(t, err)

			doc, err := ParseHTML(tt.content)
			require.NoError(t, err)
			want, err := RenderNode(doc)
			require.NoError(t, err)

			got, err := Export(ctx, core, root)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestImportGUIDs(t *testing.T) {
	ctx := context.Background()
	core := newCore(t)
	root, err := Import(core, `<p>Hello</p>`)
	require.NoError(t, err)

	assert.Equal(t, GUID(""), core.GetGUID(root))
	body, err := core.LoadByPath(ctx, root, "/0/1")
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Equal(t, "body", core.GetOwnAttribute(body, AttrTag))
	assert.Equal(t, GUID("/0/1"), core.GetGUID(body))

	other, err := Import(newCore(t), `<p>Bye</p>`)
	require.NoError(t, err)
	assert.Equal(t, core.GetGUID(root), core.GetGUID(other))
}

func TestRelidLess(t *testing.T) {
	relids := []string{"10", "x", "2", "ab", "0"}
	sort.Slice(relids, func(i, j int) bool { return relidLess(relids[i], relids[j]) })
	assert.Equal(t, []string{"0", "2", "10", "ab", "x"}, relids)
}
