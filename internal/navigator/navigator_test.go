package navigator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/classifier"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
	"github.com/xkilldash9x/feedwalker/internal/mocks"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

const (
	nextControl      = "div.x6s0dn4.x78zum5.xdt5ytf.xl56j7k"
	videoNextControl = `div.x1i10hfl.x972fbf.xcfux6l:has(svg[aria-label="Next"])`
	story1           = "https://www.instagram.com/stories/alice/1/"
	story2           = "https://www.instagram.com/stories/alice/2/"
)

func loadProfile(t *testing.T, name string) *signals.Profile {
	t.Helper()
	reg, err := signals.Load("")
	require.NoError(t, err)
	p, err := reg.Get(name)
	require.NoError(t, err)
	return p
}

func newNavigator(t *testing.T, p *signals.Profile) *Navigator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(p, classifier.NewEndDetector(p, logger), humanoid.New(config.HumanoidConfig{}, logger), 0, 0, logger)
}

func kinds(actions []mocks.Action) []schemas.GestureKind {
	out := make([]schemas.GestureKind, len(actions))
	for i, a := range actions {
		out[i] = a.Gesture.Kind
	}
	return out
}

func TestAdvanceImageClicksNextControl(t *testing.T) {
	page := mocks.NewScriptedPage(
		mocks.Frame{
			URL:       story1,
			Elements:  map[string][]map[string]string{nextControl: {{}}},
			AdvanceOn: []string{"click:" + nextControl},
		},
		mocks.Frame{URL: story2},
	)

	out := newNavigator(t, loadProfile(t, "instagram-stories")).Advance(context.Background(), page, schemas.ContentImage, "alice")

	assert.True(t, out.Success)
	assert.False(t, out.EndReached)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, page.Position())
	assert.Len(t, page.RecordedActions(), 1, "exactly one primary action")
}

func TestAdvanceImageFallsBackToKey(t *testing.T) {
	page := mocks.NewScriptedPage(
		mocks.Frame{URL: story1, AdvanceOn: []string{"key:ArrowRight"}},
		mocks.Frame{URL: story2},
	)

	out := newNavigator(t, loadProfile(t, "instagram-stories")).Advance(context.Background(), page, schemas.ContentImage, "alice")

	assert.True(t, out.Success)
	actions := page.RecordedActions()
	require.Len(t, actions, 1)
	assert.Equal(t, schemas.Press("ArrowRight"), actions[0].Gesture)
}

func TestAdvanceImageDetectsEnd(t *testing.T) {
	tests := []struct {
		name string
		next mocks.Frame
	}{
		{"end phrase", mocks.Frame{URL: story2, Text: "You're all caught up"}},
		{"left the stories", mocks.Frame{URL: "https://www.instagram.com/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := mocks.NewScriptedPage(
				mocks.Frame{URL: story1, AdvanceOn: []string{"key:ArrowRight"}},
				tt.next,
			)
			out := newNavigator(t, loadProfile(t, "instagram-stories")).Advance(context.Background(), page, schemas.ContentImage, "alice")
			assert.True(t, out.Success)
			assert.True(t, out.EndReached)
		})
	}
}

func TestAdvanceImageReportsFailure(t *testing.T) {
	t.Run("key press error", func(t *testing.T) {
		keyErr := errors.New("target detached")
		page := mocks.NewScriptedPage(mocks.Frame{URL: story1})
		page.ActErr = map[string]error{"key:ArrowRight": keyErr}

		out := newNavigator(t, loadProfile(t, "instagram-stories")).Advance(context.Background(), page, schemas.ContentImage, "alice")
		assert.False(t, out.Success)
		assert.ErrorIs(t, out.Err, keyErr)
	})

	t.Run("no technique", func(t *testing.T) {
		p := &signals.Profile{Name: "bare", Mode: signals.ModePosts}
		page := mocks.NewScriptedPage(mocks.Frame{})

		out := newNavigator(t, p).Advance(context.Background(), page, schemas.ContentImage, "alice")
		assert.False(t, out.Success)
		assert.ErrorIs(t, out.Err, ErrNoTechnique)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := newNavigator(t, loadProfile(t, "instagram-stories")).Advance(ctx, mocks.NewScriptedPage(mocks.Frame{}), schemas.ContentImage, "alice")
		assert.False(t, out.Success)
		assert.ErrorIs(t, out.Err, context.Canceled)
	})
}

func TestAdvanceScrollProfile(t *testing.T) {
	page := mocks.NewScriptedPage(
		mocks.Frame{URL: "https://x.com/alice", AdvanceOn: []string{"scroll"}},
		mocks.Frame{URL: "https://x.com/alice"},
	)

	out := newNavigator(t, loadProfile(t, "x-posts")).Advance(context.Background(), page, schemas.ContentImage, "alice")
	assert.True(t, out.Success)
	assert.False(t, out.EndReached)
	assert.Equal(t, 1, page.Position())
}

func TestAdvanceVideoFiresEveryTechnique(t *testing.T) {
	p := loadProfile(t, "instagram-stories")
	page := mocks.NewScriptedPage(mocks.Frame{
		URL: story1,
		// The end phrase is ignored for video frames.
		Text: "You're all caught up",
		Elements: map[string][]map[string]string{
			videoNextControl: {{}},
			p.StructuralNext: {{}},
			"video":          {{}},
		},
	})

	out := newNavigator(t, p).Advance(context.Background(), page, schemas.ContentVideo, "alice")

	assert.True(t, out.Success)
	assert.False(t, out.EndReached)
	actions := page.RecordedActions()
	assert.Equal(t, []schemas.GestureKind{
		schemas.GestureClick,
		schemas.GestureJSClick,
		schemas.GestureKey,
		schemas.GestureClickAt,
		schemas.GestureClickAt,
		schemas.GestureClickAt,
	}, kinds(actions))
	assert.Equal(t, videoNextControl, actions[0].Query)
	assert.Equal(t, p.StructuralNext, actions[1].Query)
	assert.Equal(t, schemas.ClickAt(0.95, 0.3), actions[3].Gesture)
	assert.Equal(t, schemas.ClickAt(0.95, 0.7), actions[5].Gesture)
}

func TestAdvanceVideoSucceedsEvenWhenEveryTechniqueFails(t *testing.T) {
	p := loadProfile(t, "instagram-stories")
	boom := errors.New("boom")
	page := mocks.NewScriptedPage(mocks.Frame{URL: story1, Elements: map[string][]map[string]string{videoNextControl: {{}}}})
	page.ActErr = map[string]error{
		"click:" + videoNextControl: boom,
		"key:ArrowRight":            boom,
		"click_at":                  boom,
	}

	out := newNavigator(t, p).Advance(context.Background(), page, schemas.ContentVideo, "alice")
	assert.True(t, out.Success)
	assert.NoError(t, out.Err)
	assert.Len(t, page.RecordedActions(), 5, "a failed technique does not stop the next one")
}
