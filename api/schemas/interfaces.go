package schemas

import (
	"context"
	"time"
)

// -- Browser Automation Collaborator --

// Element is an opaque handle to a node in the rendered page.
type Element interface {
	// Attr returns the attribute value and whether it was present when the node was resolved.
	Attr(name string) (string, bool)
}

// View is the capability set the walker needs from a browser tab. Every method
// is a suspension point and must honour the context deadline.
type View interface {
	Navigate(ctx context.Context, url string) error
	// FindOne returns (nil, nil) when nothing matches.
	FindOne(ctx context.Context, sel Selector) (Element, error)
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	// FindIn is FindAll restricted to root's descendants.
	FindIn(ctx context.Context, root Element, sel Selector) ([]Element, error)
	// OuterHTML serialises el and its subtree.
	OuterHTML(ctx context.Context, el Element) (string, error)
	// Act performs a gesture. Element may be nil for key presses and viewport clicks.
	Act(ctx context.Context, el Element, g Gesture) error
	// Evaluate runs script in the page and decodes the result into out (which may be nil).
	Evaluate(ctx context.Context, script string, out interface{}) error
	WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error
	// Screenshot captures the full viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

// PageFactory hands out isolated views, one per session.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is a View with a lifecycle.
type Page interface {
	View
	Close(ctx context.Context) error
}

// -- Storage Collaborator --

// RecordStore persists documents keyed by (collection, id). Writes are idempotent upserts.
type RecordStore interface {
	UpsertRecord(ctx context.Context, collection, id string, record interface{}) error
	// GetRecord decodes the stored document into out. Stores return their own
	// not found sentinel when nothing is stored under the key.
	GetRecord(ctx context.Context, collection, id string, out interface{}) error
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Target      string            `json:"target"`
	ItemID      string            `json:"item_id"`
	Platform    string            `json:"platform"`
	SourceURL   string            `json:"source_url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// BlobInfo is a listed blob.
type BlobInfo struct {
	Handle   string
	Metadata BlobMetadata
	Size     int
	StoredAt time.Time
}

// BlobStore persists raw bytes and hands back an opaque handle.
type BlobStore interface {
	PutBlob(ctx context.Context, data []byte, meta BlobMetadata) (string, error)
	ReadBlob(ctx context.Context, handle string) ([]byte, error)
	ListBlobs(ctx context.Context, target string) ([]BlobInfo, error)
}

// MediaIndex records which media references exist for (target, item id) so
// repeated extraction of the same item stores nothing new.
type MediaIndex interface {
	MediaRefs(ctx context.Context, target, itemID string) ([]MediaReference, error)
	// PutMediaRef inserts the reference unless one already exists for the same
	// (target, item id, ordinal); it reports whether a row was created.
	PutMediaRef(ctx context.Context, target, itemID string, ref MediaReference) (bool, error)
}

// Storage is the full persistence surface used by the walker.
type Storage interface {
	RecordStore
	BlobStore
	MediaIndex
}

// Snapshotter writes diagnostic captures somewhere a human can look at them.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, name string, png []byte) (string, error)
}

// -- HTTP Fetch Collaborator --

// Fetcher downloads bytes independently of the browser.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error)
}
