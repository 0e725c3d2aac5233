// Package classifier decides what the viewer is currently showing.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

// BodyTextScript reads the visible text of the page.
const BodyTextScript = `document.body ? document.body.innerText : ""`

// Classifier tags the current view using a profile's signal table. It only
// reads from the view, apart from optional diagnostic snapshots.
type Classifier struct {
	profile *signals.Profile
	logger  *zap.Logger
	snaps   schemas.Snapshotter
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSnapshots saves a screenshot whenever nothing could be classified.
func WithSnapshots(s schemas.Snapshotter) Option {
	return func(c *Classifier) { c.snaps = s }
}

// New creates a Classifier for one profile.
func New(profile *signals.Profile, logger *zap.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		profile: profile,
		logger:  logger.Named("classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates the signals in priority order and stops at the first hit:
//
//  1. video indicator or video error text: Video, or EndMarker when the
//     suggestion grid is showing as well
//  2. image indicator: Image
//  3. viewer open: Image
//  4. Unknown
//
// Lookup errors count as "not present".
func (c *Classifier) Classify(ctx context.Context, view schemas.View) schemas.ContentType {
	text := BodyText(ctx, view, c.logger)

	if c.anyPresent(ctx, view, c.profile.VideoIndicators) || c.profile.IsVideoError(text) {
		if n := SuggestionCount(ctx, view, c.profile, c.logger); n > c.profile.SuggestionThreshold {
			c.logger.Debug("Video frame with suggestion grid, treating as end marker.", zap.Int("suggestions", n))
			return schemas.ContentEndMarker
		}
		return schemas.ContentVideo
	}

	if c.anyPresent(ctx, view, c.profile.ImageIndicators) {
		return schemas.ContentImage
	}

	if c.anyPresent(ctx, view, c.profile.ViewerOpen) {
		c.logger.Debug("No specific indicator, viewer open. Defaulting to image.")
		return schemas.ContentImage
	}

	c.snapshot(ctx, view, "unknown_content")
	return schemas.ContentUnknown
}

func (c *Classifier) anyPresent(ctx context.Context, view schemas.View, sels []schemas.Selector) bool {
	return AnyPresent(ctx, view, sels, c.logger)
}

func (c *Classifier) snapshot(ctx context.Context, view schemas.View, name string) {
	if c.snaps == nil {
		return
	}
	png, err := view.Screenshot(ctx)
	if err != nil {
		c.logger.Debug("Diagnostic screenshot failed.", zap.Error(err))
		return
	}
	if path, err := c.snaps.SaveSnapshot(ctx, fmt.Sprintf("%s_%s", c.profile.Name, name), png); err != nil {
		c.logger.Debug("Saving diagnostic snapshot failed.", zap.Error(err))
	} else {
		c.logger.Info("Saved diagnostic snapshot.", zap.String("path", path))
	}
}

// -- Shared lookups --

// AnyPresent reports whether any selector matches at least one element.
func AnyPresent(ctx context.Context, view schemas.View, sels []schemas.Selector, logger *zap.Logger) bool {
	for _, sel := range sels {
		el, err := view.FindOne(ctx, sel)
		if err != nil {
			logger.Debug("Selector lookup failed.", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		if el != nil {
			return true
		}
	}
	return false
}

// SuggestionCount returns the largest number of suggested-profile elements
// matched by any one of the profile's suggestion selectors.
func SuggestionCount(ctx context.Context, view schemas.View, p *signals.Profile, logger *zap.Logger) int {
	best := 0
	for _, sel := range p.SuggestionSelectors {
		els, err := view.FindAll(ctx, sel)
		if err != nil {
			logger.Debug("Selector lookup failed.", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		if len(els) > best {
			best = len(els)
		}
	}
	return best
}

// BodyText returns the page's visible text, or "" when it cannot be read.
func BodyText(ctx context.Context, view schemas.View, logger *zap.Logger) string {
	var text string
	if err := view.Evaluate(ctx, BodyTextScript, &text); err != nil {
		logger.Debug("Reading body text failed.", zap.Error(err))
		return ""
	}
	return text
}
