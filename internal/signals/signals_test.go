package signals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/feedwalker/api/schemas"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"instagram-posts", "instagram-stories", "x-posts"}, reg.Names())

	stories, err := reg.Get("instagram-stories")
	require.NoError(t, err)
	assert.Equal(t, ModeStories, stories.Mode)
	assert.Equal(t, "https://www.instagram.com/stories/alice/", stories.Entry("alice"))
	assert.Equal(t, 3, stories.SuggestionThreshold)
	assert.Equal(t, []float64{0.3, 0.5, 0.7}, stories.EdgeClickY)
	assert.Equal(t, schemas.ByText, stories.EnterControls[0].Kind)
}

func TestGetUnknownProfile(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	_, err = reg.Get("tiktok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instagram-stories")
}

func TestMatchID(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		profile string
		url     string
		want    string
		ok      bool
	}{
		{"instagram-stories", "https://www.instagram.com/stories/alice/3141592653589793238/", "3141592653589793238", true},
		{"instagram-stories", "https://www.instagram.com/stories/alice/", "", false},
		{"instagram-posts", "https://www.instagram.com/p/C0ffee_12/?img_index=2", "C0ffee_12", true},
		{"instagram-posts", "https://www.instagram.com/reel/Xyz789/", "Xyz789", true},
		{"x-posts", "/alice/status/1790000000000000001/photo/1", "1790000000000000001", true},
		{"x-posts", "https://x.com/alice", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.profile+" "+tt.url, func(t *testing.T) {
			p, err := reg.Get(tt.profile)
			require.NoError(t, err)
			got, ok := p.MatchID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentPathMatches(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	stories, _ := reg.Get("instagram-stories")

	assert.True(t, stories.ContentPathMatches("https://www.instagram.com/stories/alice/123/", "alice"))
	assert.True(t, stories.ContentPathMatches("https://www.instagram.com/stories/Alice/123/", "alice"))
	assert.False(t, stories.ContentPathMatches("https://www.instagram.com/stories/bob/123/", "alice"))
	assert.False(t, stories.ContentPathMatches("https://www.instagram.com/", "alice"))

	// A profile without a content path never reports drift.
	p := &Profile{}
	assert.True(t, p.ContentPathMatches("https://anywhere.example/", "alice"))

	posts, _ := reg.Get("x-posts")
	assert.True(t, posts.ContentPathMatches("https://x.com/alice", "alice"))
	assert.True(t, posts.ContentPathMatches("https://x.com/alice/status/1", "alice"))
	assert.True(t, posts.ContentPathMatches("https://x.com/alice?lang=en", "alice"))
	assert.False(t, posts.ContentPathMatches("https://x.com/alicebob", "alice"), "a longer handle is another account")
}

func TestPhrasesAndHosts(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	stories, _ := reg.Get("instagram-stories")

	assert.True(t, stories.IsEndPhrase("Nice!\nYOU'RE ALL CAUGHT UP\nSee more"))
	assert.False(t, stories.IsEndPhrase(""))
	assert.True(t, stories.IsVideoError("sorry, we're having trouble playing this video."))

	assert.True(t, stories.AllowedMediaHost("scontent-lax3-1.cdninstagram.com"))
	assert.True(t, stories.AllowedMediaHost("fbcdn.net"))
	assert.False(t, stories.AllowedMediaHost("evil-cdninstagram.com"))
	assert.False(t, stories.AllowedMediaHost("localhost"))
}

func TestValidate(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		p := &Profile{
			Name:              "minimal",
			Mode:              ModeStories,
			EntryURL:          "https://example.test/{target}",
			ContentIndicators: []schemas.Selector{schemas.CSS("main")},
			AdvanceKey:        "ArrowRight",
		}
		require.NoError(t, p.Validate())
		assert.Equal(t, 3, p.SuggestionThreshold)
		assert.Equal(t, 0.95, p.EdgeClickX)
	})

	t.Run("reports every problem", func(t *testing.T) {
		p := &Profile{
			Name:        "broken",
			Mode:        "reels",
			IDPatterns:  []string{"(unclosed", "/nogroup/"},
			ContentPath: "[",
		}
		err := p.Validate()
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "entry_url is required")
		assert.Contains(t, msg, "content indicator")
		assert.Contains(t, msg, "next control")
		assert.Contains(t, msg, "mode must be")
		assert.Contains(t, msg, "(unclosed")
		assert.Contains(t, msg, "needs a capture group")
		assert.Contains(t, msg, "content_path")
	})

	t.Run("feed profiles need item scoping", func(t *testing.T) {
		p := &Profile{
			Name:              "feed",
			Mode:              ModePosts,
			Feed:              true,
			EntryURL:          "https://example.test/{target}",
			ContentIndicators: []schemas.Selector{schemas.CSS("article")},
			ScrollAdvance:     true,
		}
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "item_container")

		p.ItemContainer = &schemas.Selector{Kind: schemas.ByCSS, Query: "article"}
		p.IDElement = &schemas.Selector{Kind: schemas.ByCSS, Query: "a"}
		assert.NoError(t, p.Validate())
	})

	t.Run("embedded x profile is a feed", func(t *testing.T) {
		reg, err := Load("")
		require.NoError(t, err)
		posts, err := reg.Get("x-posts")
		require.NoError(t, err)
		assert.True(t, posts.Feed)
		require.NotNil(t, posts.ItemContainer)
		assert.Equal(t, `article[data-testid="tweet"]`, posts.ItemContainer.Query)
	})
}

func TestLoadOverrides(t *testing.T) {
	override := `
profiles:
  - name: instagram-stories
    platform: instagram
    mode: stories
    entry_url: "https://www.instagram.com/stories/{target}/"
    content_indicators:
      - { query: "main video" }
    advance_key: ArrowRight
    end_phrases: ["Fin"]
  - name: mastodon-posts
    platform: mastodon
    mode: posts
    entry_url: "https://mastodon.social/@{target}"
    content_indicators:
      - { query: "article" }
    scroll_advance: true
`
	path := filepath.Join(t.TempDir(), "signals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(override), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 4)

	stories, err := reg.Get("instagram-stories")
	require.NoError(t, err)
	assert.Equal(t, []string{"Fin"}, stories.EndPhrases, "override replaces the embedded profile wholesale")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
