package schemas

import (
	"fmt"
)

// -- Selector Specification --

// SelectorKind says how a Selector query is interpreted.
type SelectorKind string

const (
	ByCSS   SelectorKind = "css"
	ByXPath SelectorKind = "xpath"
	// ByText matches elements whose own text contains the query.
	ByText SelectorKind = "text"
)

// Selector is a platform neutral element lookup.
type Selector struct {
	Query string       `yaml:"query" json:"query"`
	Kind  SelectorKind `yaml:"kind" json:"kind"`
}

// CSS is shorthand for a CSS selector.
func CSS(q string) Selector { return Selector{Query: q, Kind: ByCSS} }

// XPath is shorthand for an XPath selector.
func XPath(q string) Selector { return Selector{Query: q, Kind: ByXPath} }

// Text is shorthand for a visible text selector.
func Text(q string) Selector { return Selector{Query: q, Kind: ByText} }

func (s Selector) String() string {
	kind := s.Kind
	if kind == "" {
		kind = ByCSS
	}
	return fmt.Sprintf("%s:%s", kind, s.Query)
}

// -- Gestures --

// GestureKind enumerates the UI actions a View can perform.
type GestureKind string

const (
	GestureClick GestureKind = "click"
	// GestureJSClick fires click and synthetic mouse events from inside the page.
	GestureJSClick GestureKind = "js_click"
	GestureKey     GestureKind = "key"
	// GestureClickAt clicks a point given as fractions of the viewport size.
	GestureClickAt GestureKind = "click_at"
)

// Gesture is a single UI action.
type Gesture struct {
	Kind GestureKind
	Key  string
	X, Y float64
}

// Click activates the element it is applied to.
func Click() Gesture { return Gesture{Kind: GestureClick} }

// JSClick activates the element through in-page events.
func JSClick() Gesture { return Gesture{Kind: GestureJSClick} }

// Press sends a single key press.
func Press(key string) Gesture { return Gesture{Kind: GestureKey, Key: key} }

// ClickAt clicks the viewport at the given fractional coordinates.
func ClickAt(x, y float64) Gesture { return Gesture{Kind: GestureClickAt, X: x, Y: y} }

// HTTPError is returned by fetchers for non-2xx responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Transient reports whether retrying the request could plausibly succeed.
func (e *HTTPError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}
