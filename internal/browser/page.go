package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
)

// ErrPageClosed is returned for any call on a page after Close.
var ErrPageClosed = errors.New("browser: page is closed")

// jsClick fires the events a real click would, from inside the page. Some
// controls only listen for pointer events and ignore a bare click().
const jsClick = `function() {
	const opts = {bubbles: true, cancelable: true, view: window};
	this.dispatchEvent(new MouseEvent('mousedown', opts));
	this.dispatchEvent(new MouseEvent('mouseup', opts));
	this.click();
}`

// Page is one isolated tab. It implements schemas.Page.
type Page struct {
	ctx              context.Context
	cancel           context.CancelFunc
	browserContextID cdp.BrowserContextID
	logger           *zap.Logger
	human            *humanoid.Humanoid

	actionTimeout time.Duration
	navTimeout    time.Duration

	dispose func(cdp.BrowserContextID)
	done    func()

	mu     sync.Mutex
	closed bool
}

var _ schemas.Page = (*Page)(nil)

// run executes actions against the tab, bounded by both the caller's context and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPageClosed
	}

	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// combineContext derives from the tab's context (which carries the chromedp
// target) but is also cancelled when the caller's context ends.
func combineContext(sessionCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(sessionCtx)
	if deadline, ok := callerCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		inner := cancel
		cancel = func() { cancelDeadline(); inner() }
	}
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.Element, error) {
	query, by := queryFor(sel, true)
	var nodes []*cdp.Node
	if err := p.run(ctx, p.actionTimeout, chromedp.Nodes(query, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	out := make([]schemas.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{node: n})
	}
	return out, nil
}

func (p *Page) FindIn(ctx context.Context, root schemas.Element, sel schemas.Selector) ([]schemas.Element, error) {
	rootNode, ok := nodeOf(root)
	if !ok {
		return nil, fmt.Errorf("find %s: no root element", sel)
	}
	if sel.Kind == "" || sel.Kind == schemas.ByCSS {
		var nodes []*cdp.Node
		if err := p.run(ctx, p.actionTimeout, chromedp.Nodes(sel.Query, &nodes, chromedp.ByQueryAll, chromedp.FromNode(rootNode), chromedp.AtLeast(0))); err != nil {
			return nil, fmt.Errorf("find %s in %s: %w", sel, rootNode.LocalName, err)
		}
		out := make([]schemas.Element, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, &element{node: n})
		}
		return out, nil
	}

	// Searches always cover the whole document.
	all, err := p.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, el := range all {
		if n, ok := nodeOf(el); ok && descendantOf(n, rootNode) {
			out = append(out, el)
		}
	}
	return out, nil
}

func (p *Page) OuterHTML(ctx context.Context, el schemas.Element) (string, error) {
	n, ok := nodeOf(el)
	if !ok {
		return "", fmt.Errorf("outer html: no element")
	}
	var html string
	err := p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		html, err = dom.GetOuterHTML().WithNodeID(n.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (p *Page) FindOne(ctx context.Context, sel schemas.Selector) (schemas.Element, error) {
	all, err := p.FindAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (p *Page) Act(ctx context.Context, el schemas.Element, g schemas.Gesture) error {
	if err := p.human.CognitivePause(ctx); err != nil {
		return err
	}
	defer p.human.Acted()

	switch g.Kind {
	case schemas.GestureClick:
		n, ok := nodeOf(el)
		if !ok {
			return fmt.Errorf("click: no element")
		}
		return p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
			return p.clickNode(ctx, n)
		}))
	case schemas.GestureJSClick:
		n, ok := nodeOf(el)
		if !ok {
			return fmt.Errorf("js click: no element")
		}
		return p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
			return callOnNode(ctx, n, jsClick)
		}))
	case schemas.GestureKey:
		return p.run(ctx, p.actionTimeout, chromedp.KeyEvent(keyFor(g.Key)))
	case schemas.GestureClickAt:
		return p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
			var size []float64
			if err := chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &size).Do(ctx); err != nil {
				return fmt.Errorf("read viewport size: %w", err)
			}
			if len(size) != 2 {
				return fmt.Errorf("unexpected viewport size %v", size)
			}
			return p.pressAt(ctx, size[0]*g.X, size[1]*g.Y)
		}))
	default:
		return fmt.Errorf("unsupported gesture %q", g.Kind)
	}
}

func (p *Page) clickNode(ctx context.Context, n *cdp.Node) error {
	// Best effort; detached or fixed position nodes refuse to scroll.
	_ = dom.ScrollIntoViewIfNeeded().WithNodeID(n.NodeID).Do(ctx)

	box, err := dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx)
	if err != nil {
		return fmt.Errorf("box model: %w", err)
	}
	x, y, ok := quadCenter(box.Content)
	if !ok {
		return fmt.Errorf("element is not visible")
	}
	return p.pressAt(ctx, x, y)
}

func (p *Page) pressAt(ctx context.Context, x, y float64) error {
	if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
		return fmt.Errorf("mouse press: %w", err)
	}
	if hold := p.human.ClickHold(); hold > 0 {
		t := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
		return fmt.Errorf("mouse release: %w", err)
	}
	return nil
}

func callOnNode(ctx context.Context, n *cdp.Node, fn string) error {
	obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
	if err != nil {
		return fmt.Errorf("resolve node: %w", err)
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	_, exc, err := runtime.CallFunctionOn(fn).WithObjectID(obj.ObjectID).Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return exc
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, out interface{}) error {
	err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, out))
	if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
		return nil
	}
	return err
}

func (p *Page) WaitFor(ctx context.Context, sel schemas.Selector, timeout time.Duration) error {
	query, by := queryFor(sel, false)
	if err := p.run(ctx, timeout, chromedp.WaitReady(query, by)); err != nil {
		return fmt.Errorf("wait for %s: %w", sel, err)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.actionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("current url: %w", err)
	}
	return url, nil
}

// Close closes the tab and disposes its browser context. It is safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	if p.dispose != nil {
		p.dispose(p.browserContextID)
	}
	if p.done != nil {
		p.done()
	}
	p.logger.Debug("Page closed.")
	return nil
}
