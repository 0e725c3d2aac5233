// Package navigator moves the viewer from the current item to the next one.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/classifier"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

// ErrNoTechnique is reported when a profile offers no way to advance from an item.
var ErrNoTechnique = errors.New("navigator: no navigation technique available")

const scrollScript = `window.scrollBy(0, Math.round(window.innerHeight * 0.85)); true`

// edgeJitter is how far, as a fraction of the viewport width, edge clicks wander.
const edgeJitter = 0.01

// Navigator advances one session's view.
type Navigator struct {
	profile     *signals.Profile
	end         *classifier.EndDetector
	human       *humanoid.Humanoid
	settle      time.Duration
	videoSettle time.Duration
	logger      *zap.Logger
}

// New creates a Navigator. settle is waited after a non-video advance before
// the end detector runs; videoSettle after the video technique sequence.
func New(profile *signals.Profile, end *classifier.EndDetector, human *humanoid.Humanoid, settle, videoSettle time.Duration, logger *zap.Logger) *Navigator {
	return &Navigator{
		profile:     profile,
		end:         end,
		human:       human,
		settle:      settle,
		videoSettle: videoSettle,
		logger:      logger.Named("navigator"),
	}
}

// Advance moves past the current item. Video items get every technique in
// turn and always report success; whether anything changed is for the caller
// to find out. Other items get one primary action, a settle wait, and the end
// of content check.
func (n *Navigator) Advance(ctx context.Context, view schemas.View, ct schemas.ContentType, target string) schemas.NavigationOutcome {
	if ct == schemas.ContentVideo {
		return n.advanceVideo(ctx, view)
	}

	if err := n.primaryAction(ctx, view); err != nil {
		return schemas.NavigationOutcome{Err: err}
	}
	if err := n.human.Settle(ctx, n.settle); err != nil {
		return schemas.NavigationOutcome{Err: err}
	}
	if n.end.IsEnd(ctx, view, target) {
		return schemas.NavigationOutcome{Success: true, EndReached: true}
	}
	return schemas.NavigationOutcome{Success: true}
}

func (n *Navigator) primaryAction(ctx context.Context, view schemas.View) error {
	if n.profile.ScrollAdvance {
		if err := view.Evaluate(ctx, scrollScript, nil); err != nil {
			return fmt.Errorf("scroll advance: %w", err)
		}
		return nil
	}

	var clickErr error
	for _, sel := range n.profile.NextControls {
		el, err := view.FindOne(ctx, sel)
		if err != nil || el == nil {
			continue
		}
		if clickErr = view.Act(ctx, el, schemas.Click()); clickErr == nil {
			return nil
		}
		n.logger.Debug("Next control click failed.", zap.Stringer("selector", sel), zap.Error(clickErr))
		break
	}

	if n.profile.AdvanceKey != "" {
		if err := view.Act(ctx, nil, schemas.Press(n.profile.AdvanceKey)); err != nil {
			return fmt.Errorf("advance key %s: %w", n.profile.AdvanceKey, err)
		}
		return nil
	}
	if clickErr != nil {
		return fmt.Errorf("next control: %w", clickErr)
	}
	return ErrNoTechnique
}

// advanceVideo fires every technique regardless of the previous one's result.
func (n *Navigator) advanceVideo(ctx context.Context, view schemas.View) schemas.NavigationOutcome {
	logger := n.logger.With(zap.String("content_type", string(schemas.ContentVideo)))

	// a) dedicated control
	for _, sel := range n.profile.VideoNextControls {
		el, err := view.FindOne(ctx, sel)
		if err != nil || el == nil {
			continue
		}
		if err := view.Act(ctx, el, schemas.Click()); err != nil {
			logger.Debug("Video next control failed.", zap.Stringer("selector", sel), zap.Error(err))
		}
		break
	}

	// b) structural position
	if n.profile.StructuralNext != "" {
		sel := schemas.XPath(n.profile.StructuralNext)
		if el, err := view.FindOne(ctx, sel); err == nil && el != nil {
			if err := view.Act(ctx, el, schemas.JSClick()); err != nil {
				logger.Debug("Structural next failed.", zap.Error(err))
			}
		}
	}

	// c) keyboard
	if n.profile.AdvanceKey != "" {
		if err := view.Act(ctx, nil, schemas.Press(n.profile.AdvanceKey)); err != nil {
			logger.Debug("Advance key failed.", zap.Error(err))
		}
	}

	// d) screen edge
	for _, y := range n.profile.EdgeClickY {
		x := n.human.Jitter(n.profile.EdgeClickX, edgeJitter)
		if err := view.Act(ctx, nil, schemas.ClickAt(x, y)); err != nil {
			logger.Debug("Edge click failed.", zap.Float64("x", x), zap.Float64("y", y), zap.Error(err))
		}
	}

	if err := n.human.Settle(ctx, n.videoSettle); err != nil {
		return schemas.NavigationOutcome{Err: err}
	}
	return schemas.NavigationOutcome{Success: true}
}
