package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/store"
)

// Frame is one rendered state of a ScriptedPage.
type Frame struct {
	URL string
	// Text is what document.body.innerText returns.
	Text string
	// Elements maps a selector query to the attribute sets of its matches.
	Elements map[string][]map[string]string
	// HTML maps a selector query to the outerHTML of its matches.
	HTML map[string]string
	// Containers maps a selector query to mounted containers. Each answers
	// FindIn and OuterHTML from its own subtree.
	Containers map[string][]Node
	// AdvanceOn lists the gestures that move the page to the next frame:
	// "click:<query>", "key:<key>", "click_at" or "scroll". Empty means the
	// frame never changes.
	AdvanceOn []string
}

// Action is a recorded gesture.
type Action struct {
	Gesture schemas.Gesture
	// Query is the selector the acted on element was found with, if any.
	Query string
}

// Node is a container element together with what is mounted inside it.
type Node struct {
	Attrs map[string]string
	// Elements maps a selector query to the matches inside the node.
	Elements map[string][]map[string]string
	HTML     string
}

// FakeElement is an element of a ScriptedPage.
type FakeElement struct {
	Query string
	Index int
	Attrs map[string]string
	node  *Node
}

func (e *FakeElement) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// ScriptedPage is an in-memory schemas.Page that walks through a fixed list of frames.
// Once past the last frame it stays on the last one.
type ScriptedPage struct {
	mu sync.Mutex

	Frames []Frame
	pos    int

	// ActErr maps a gesture token (see Frame.AdvanceOn) to the error Act returns for it.
	ActErr map[string]error
	// ScreenshotErr fails every screenshot.
	ScreenshotErr error
	// NavigateErr fails every Navigate call.
	NavigateErr error

	Actions     []Action
	Navigations []string
	closed      bool
	closeCalls  int
}

var _ schemas.Page = (*ScriptedPage)(nil)

// NewScriptedPage builds a page from frames.
func NewScriptedPage(frames ...Frame) *ScriptedPage {
	return &ScriptedPage{Frames: frames}
}

func (p *ScriptedPage) frame() Frame {
	if len(p.Frames) == 0 {
		return Frame{}
	}
	return p.Frames[p.pos]
}

// Position returns the index of the current frame.
func (p *ScriptedPage) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Closed reports whether Close was called.
func (p *ScriptedPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CloseCalls returns how many times Close was called.
func (p *ScriptedPage) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// RecordedActions returns a copy of every gesture performed so far.
func (p *ScriptedPage) RecordedActions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.Actions...)
}

func (p *ScriptedPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	return p.NavigateErr
}

func (p *ScriptedPage) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.frame()
	if nodes, ok := f.Containers[sel.Query]; ok {
		out := make([]schemas.Element, 0, len(nodes))
		for i := range nodes {
			n := nodes[i]
			out = append(out, &FakeElement{Query: sel.Query, Index: i, Attrs: n.Attrs, node: &n})
		}
		return out, nil
	}
	return fakeElements(sel.Query, f.Elements[sel.Query]), nil
}

func fakeElements(query string, matches []map[string]string) []schemas.Element {
	out := make([]schemas.Element, 0, len(matches))
	for i, attrs := range matches {
		out = append(out, &FakeElement{Query: query, Index: i, Attrs: attrs})
	}
	return out
}

// FindIn answers from the subtree of a container found through Frame.Containers.
// Any other root has no descendants.
func (p *ScriptedPage) FindIn(ctx context.Context, root schemas.Element, sel schemas.Selector) ([]schemas.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fe, ok := root.(*FakeElement)
	if !ok || fe == nil || fe.node == nil {
		return nil, nil
	}
	return fakeElements(sel.Query, fe.node.Elements[sel.Query]), nil
}

func (p *ScriptedPage) OuterHTML(ctx context.Context, el schemas.Element) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fe, ok := el.(*FakeElement)
	if !ok || fe == nil {
		return "", fmt.Errorf("outer html: no element")
	}
	if fe.node != nil {
		return fe.node.HTML, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame().HTML[fe.Query], nil
}

func (p *ScriptedPage) FindOne(ctx context.Context, sel schemas.Selector) (schemas.Element, error) {
	all, err := p.FindAll(ctx, sel)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func gestureToken(el schemas.Element, g schemas.Gesture) (string, string) {
	query := ""
	if fe, ok := el.(*FakeElement); ok && fe != nil {
		query = fe.Query
	}
	switch g.Kind {
	case schemas.GestureClick, schemas.GestureJSClick:
		return "click:" + query, query
	case schemas.GestureKey:
		return "key:" + g.Key, query
	case schemas.GestureClickAt:
		return "click_at", query
	default:
		return string(g.Kind), query
	}
}

func (p *ScriptedPage) Act(ctx context.Context, el schemas.Element, g schemas.Gesture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	token, query := gestureToken(el, g)
	p.Actions = append(p.Actions, Action{Gesture: g, Query: query})
	if err := p.ActErr[token]; err != nil {
		return err
	}
	p.advanceOn(token)
	return nil
}

func (p *ScriptedPage) advanceOn(token string) {
	for _, want := range p.frame().AdvanceOn {
		if want == token {
			if p.pos < len(p.Frames)-1 {
				p.pos++
			}
			return
		}
	}
}

// Evaluate understands the script shapes the walker uses: body text and scrolling.
func (p *ScriptedPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var result interface{}
	switch {
	case strings.Contains(script, "scrollBy"):
		p.Actions = append(p.Actions, Action{Gesture: schemas.Gesture{Kind: "scroll"}})
		p.advanceOn("scroll")
	case strings.Contains(script, "innerText"):
		result = p.frame().Text
	}

	if out == nil || result == nil {
		return nil
	}
	data, err := jsoniter.Marshal(result)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(data, out)
}

func (p *ScriptedPage) WaitFor(ctx context.Context, sel schemas.Selector, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.frame()
	if len(f.Elements[sel.Query]) == 0 && len(f.Containers[sel.Query]) == 0 {
		return fmt.Errorf("wait for %s: %w", sel, context.DeadlineExceeded)
	}
	return nil
}

func (p *ScriptedPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return []byte(fmt.Sprintf("png:frame-%d", p.pos)), nil
}

func (p *ScriptedPage) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame().URL, nil
}

func (p *ScriptedPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return nil
}

// -- In-memory storage --

// MemStorage is a schemas.Storage kept in maps. Safe for concurrent use.
type MemStorage struct {
	mu      sync.Mutex
	Records map[string]map[string][]byte
	Blobs   map[string][]byte
	Meta    map[string]schemas.BlobMetadata
	Refs    map[string][]schemas.MediaReference
	// FailUpserts makes every UpsertRecord call fail.
	FailUpserts error
	PutBlobs    int
}

var _ schemas.Storage = (*MemStorage)(nil)

// NewMemStorage returns an empty store.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		Records: make(map[string]map[string][]byte),
		Blobs:   make(map[string][]byte),
		Meta:    make(map[string]schemas.BlobMetadata),
		Refs:    make(map[string][]schemas.MediaReference),
	}
}

func (s *MemStorage) UpsertRecord(ctx context.Context, collection, id string, record interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts != nil {
		return s.FailUpserts
	}
	data, err := jsoniter.Marshal(record)
	if err != nil {
		return err
	}
	if s.Records[collection] == nil {
		s.Records[collection] = make(map[string][]byte)
	}
	s.Records[collection][id] = data
	return nil
}

func (s *MemStorage) GetRecord(ctx context.Context, collection, id string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Records[collection][id]
	if !ok {
		return fmt.Errorf("record %s/%s: %w", collection, id, store.ErrNotFound)
	}
	return jsoniter.Unmarshal(data, out)
}

// RecordCount returns the number of records in a collection.
func (s *MemStorage) RecordCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Records[collection])
}

func (s *MemStorage) PutBlob(ctx context.Context, data []byte, meta schemas.BlobMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutBlobs++
	handle := fmt.Sprintf("blob-%x", len(s.Blobs)+1)
	for h, existing := range s.Blobs {
		if string(existing) == string(data) {
			return h, nil
		}
	}
	s.Blobs[handle] = append([]byte(nil), data...)
	s.Meta[handle] = meta
	return handle, nil
}

func (s *MemStorage) ReadBlob(ctx context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Blobs[handle]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", handle, store.ErrNotFound)
	}
	return data, nil
}

func (s *MemStorage) ListBlobs(ctx context.Context, target string) ([]schemas.BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schemas.BlobInfo
	for h, meta := range s.Meta {
		if meta.Target == target {
			out = append(out, schemas.BlobInfo{Handle: h, Metadata: meta, Size: len(s.Blobs[h])})
		}
	}
	return out, nil
}

func (s *MemStorage) MediaRefs(ctx context.Context, target, itemID string) ([]schemas.MediaReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.MediaReference(nil), s.Refs[target+"/"+itemID]...), nil
}

func (s *MemStorage) PutMediaRef(ctx context.Context, target, itemID string, ref schemas.MediaReference) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := target + "/" + itemID
	for _, existing := range s.Refs[key] {
		if existing.Ordinal == ref.Ordinal {
			return false, nil
		}
	}
	s.Refs[key] = append(s.Refs[key], ref)
	return true, nil
}
