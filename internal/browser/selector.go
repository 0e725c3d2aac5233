package browser

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/feedwalker/api/schemas"
)

// queryFor translates a platform neutral selector into a chromedp query and
// option. all selects every CSS match instead of the first.
func queryFor(sel schemas.Selector, all bool) (string, chromedp.QueryOption) {
	switch sel.Kind {
	case schemas.ByXPath:
		return sel.Query, chromedp.BySearch
	case schemas.ByText:
		return textXPath(sel.Query), chromedp.BySearch
	default:
		if all {
			return sel.Query, chromedp.ByQueryAll
		}
		return sel.Query, chromedp.ByQuery
	}
}

// textXPath matches any element whose own text contains text, ignoring surrounding whitespace.
func textXPath(text string) string {
	return "//*[contains(normalize-space(text()), " + xpathLiteral(text) + ")]"
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + part + "'")
	}
	b.WriteString(")")
	return b.String()
}

// keyFor maps DOM key names to the sequences chromedp.KeyEvent understands.
func keyFor(name string) string {
	switch strings.ToLower(name) {
	case "arrowright", "right":
		return kb.ArrowRight
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowup", "up":
		return kb.ArrowUp
	case "escape", "esc":
		return kb.Escape
	case "enter", "return":
		return kb.Enter
	case "pagedown":
		return kb.PageDown
	case "space":
		return " "
	default:
		return name
	}
}

// element adapts a cdp node to schemas.Element.
type element struct {
	node *cdp.Node
}

func (e *element) Attr(name string) (string, bool) {
	if e == nil || e.node == nil {
		return "", false
	}
	return e.node.Attribute(name)
}

func nodeOf(el schemas.Element) (*cdp.Node, bool) {
	e, ok := el.(*element)
	if !ok || e == nil || e.node == nil {
		return nil, false
	}
	return e.node, true
}

// descendantOf walks n's parent chain looking for root.
func descendantOf(n, root *cdp.Node) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur == root || cur.NodeID == root.NodeID {
			return true
		}
	}
	return false
}

// quadCenter returns the middle of a content quad.
func quadCenter(q []float64) (float64, float64, bool) {
	if len(q) < 8 {
		return 0, 0, false
	}
	x := (q[0] + q[2] + q[4] + q[6]) / 4
	y := (q[1] + q[3] + q[5] + q[7]) / 4
	width := q[2] - q[0]
	height := q[5] - q[1]
	if width <= 0 || height <= 0 {
		return x, y, false
	}
	return x, y, true
}
