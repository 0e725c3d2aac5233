package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

// EndDetector recognises the end of a target's content. It must not be
// consulted for video frames, whose players routinely trip the suggestion
// and URL signals.
type EndDetector struct {
	profile *signals.Profile
	logger  *zap.Logger
}

// NewEndDetector creates an EndDetector for one profile.
func NewEndDetector(profile *signals.Profile, logger *zap.Logger) *EndDetector {
	return &EndDetector{profile: profile, logger: logger.Named("end_detector")}
}

// IsEnd reports whether any end signal is present: an end phrase in the
// visible text, more suggested profiles than the threshold, or a URL that has
// left the target's content path.
func (d *EndDetector) IsEnd(ctx context.Context, view schemas.View, target string) bool {
	if text := BodyText(ctx, view, d.logger); d.profile.IsEndPhrase(text) {
		d.logger.Info("End of content phrase found.")
		return true
	}

	if n := SuggestionCount(ctx, view, d.profile, d.logger); n > d.profile.SuggestionThreshold {
		d.logger.Info("Suggested profiles grid found.", zap.Int("count", n))
		return true
	}

	if d.profile.ContentPath == "" {
		return false
	}
	url, err := view.CurrentURL(ctx)
	if err != nil || url == "" {
		return false
	}
	if !d.profile.ContentPathMatches(url, target) {
		d.logger.Info("Left the target's content.", zap.String("url", url))
		return true
	}
	return false
}
