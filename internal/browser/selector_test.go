package browser

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/feedwalker/api/schemas"
)

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"View story", "'View story'"},
		{"You're all caught up", `"You're all caught up"`},
		{`it's "fine"`, `concat('it', "'", 's "fine"')`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, xpathLiteral(tt.in), tt.in)
	}
}

func TestTextXPath(t *testing.T) {
	assert.Equal(t, "//*[contains(normalize-space(text()), 'View')]", textXPath("View"))
}

func TestQueryFor(t *testing.T) {
	q, _ := queryFor(schemas.CSS("img.xl1xv1r"), true)
	assert.Equal(t, "img.xl1xv1r", q)

	q, _ = queryFor(schemas.XPath("/html/body/div[1]"), false)
	assert.Equal(t, "/html/body/div[1]", q)

	q, _ = queryFor(schemas.Text("View"), true)
	assert.Equal(t, textXPath("View"), q)

	// An empty kind is treated as CSS.
	q, by := queryFor(schemas.Selector{Query: "video"}, false)
	assert.Equal(t, "video", q)
	assert.NotNil(t, by)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, kb.ArrowRight, keyFor("ArrowRight"))
	assert.Equal(t, kb.ArrowRight, keyFor("right"))
	assert.Equal(t, kb.Escape, keyFor("Escape"))
	assert.Equal(t, " ", keyFor("Space"))
	assert.Equal(t, "j", keyFor("j"))
}

func TestQuadCenter(t *testing.T) {
	x, y, ok := quadCenter([]float64{10, 20, 110, 20, 110, 70, 10, 70})
	assert.True(t, ok)
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 45.0, y)

	_, _, ok = quadCenter([]float64{10, 20, 10, 20, 10, 20, 10, 20})
	assert.False(t, ok, "zero sized boxes are not clickable")

	_, _, ok = quadCenter(nil)
	assert.False(t, ok)
}

func TestElementAttr(t *testing.T) {
	el := &element{node: &cdp.Node{Attributes: []string{"src", "https://cdn.example/a.jpg", "alt", ""}}}

	v, ok := el.Attr("src")
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example/a.jpg", v)

	v, ok = el.Attr("alt")
	assert.True(t, ok)
	assert.Empty(t, v)

	_, ok = el.Attr("srcset")
	assert.False(t, ok)

	var nilEl *element
	_, ok = nilEl.Attr("src")
	assert.False(t, ok)

	_, ok = nodeOf(nil)
	assert.False(t, ok)
}

func TestDescendantOf(t *testing.T) {
	feed := &cdp.Node{NodeID: 1}
	first := &cdp.Node{NodeID: 2, Parent: feed}
	second := &cdp.Node{NodeID: 3, Parent: feed}
	img := &cdp.Node{NodeID: 4, Parent: &cdp.Node{NodeID: 5, Parent: first}}

	assert.True(t, descendantOf(img, first))
	assert.True(t, descendantOf(img, feed))
	assert.False(t, descendantOf(img, second))
	assert.False(t, descendantOf(first, first), "a node is not its own descendant")
	assert.False(t, descendantOf(&cdp.Node{NodeID: 9}, feed), "detached nodes have no ancestors")
}
