// File: cmd/walk_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/engine"
	"github.com/xkilldash9x/feedwalker/internal/mocks"
)

// -- Fakes --

type fakeStorageProvider struct {
	storage schemas.Storage
	err     error
	mu      sync.Mutex
	closed  int
}

func (p *fakeStorageProvider) Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.Storage, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.storage, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed++
	}, nil
}

// emptyPages hands out pages that never show any content.
type emptyPages struct {
	mu     sync.Mutex
	pages  []*mocks.ScriptedPage
	err    error
	closed bool
}

func (f *emptyPages) NewPage(ctx context.Context) (schemas.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := mocks.NewScriptedPage()
	f.pages = append(f.pages, p)
	return p, nil
}

func (f *emptyPages) Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.PageFactory, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f, func() { f.closed = true }, nil
}

func testWalkConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.Humanoid.Enabled = false
	cfg.EngineCfg.StartRate = 0
	return cfg
}

// -- Flag overrides --

func TestApplyWalkFlagOverrides(t *testing.T) {
	parse := func(t *testing.T, args ...string) (*config.Config, error) {
		t.Helper()
		cmd := newWalkCmd(&fakeStorageProvider{}, &emptyPages{})
		require.NoError(t, cmd.ParseFlags(args))
		var opts walkOptions
		opts.profile, _ = cmd.Flags().GetString("platform")
		opts.startFrom, _ = cmd.Flags().GetInt("start-from")
		opts.maxItems, _ = cmd.Flags().GetInt("max-items")
		opts.maxDuration, _ = cmd.Flags().GetDuration("max-duration")
		opts.sessions, _ = cmd.Flags().GetInt("sessions")
		opts.headless, _ = cmd.Flags().GetBool("headless")

		cfg := config.NewDefaultConfig()
		return cfg, applyWalkFlagOverrides(cmd, cfg, opts)
	}

	t.Run("unset flags keep the config", func(t *testing.T) {
		cfg, err := parse(t)
		require.NoError(t, err)
		defaults := config.NewDefaultConfig()
		assert.Equal(t, defaults.Walker().MaxItems, cfg.Walker().MaxItems)
		assert.Equal(t, defaults.Walker().MaxDuration, cfg.Walker().MaxDuration)
		assert.Equal(t, defaults.Engine().MaxSessions, cfg.Engine().MaxSessions)
		assert.True(t, cfg.Browser().Headless)
	})

	t.Run("set flags win", func(t *testing.T) {
		cfg, err := parse(t, "--max-items", "12", "--max-duration", "90s", "--sessions", "2", "--headless=false")
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Walker().MaxItems)
		assert.Equal(t, 90*time.Second, cfg.Walker().MaxDuration)
		assert.Equal(t, 2, cfg.Engine().MaxSessions)
		assert.False(t, cfg.Browser().Headless)
	})

	t.Run("rejects nonsense", func(t *testing.T) {
		for _, args := range [][]string{
			{"--max-items", "0"},
			{"--max-duration", "-1s"},
			{"--sessions", "0"},
			{"--start-from", "0"},
		} {
			_, err := parse(t, args...)
			assert.Error(t, err, "args %v", args)
		}
	})

	t.Run("mock config setters are called", func(t *testing.T) {
		cmd := newWalkCmd(&fakeStorageProvider{}, &emptyPages{})
		require.NoError(t, cmd.ParseFlags([]string{"--max-items", "5"}))

		mockCfg := new(mocks.MockConfig)
		mockCfg.On("SetWalkerMaxItems", 5).Return()
		require.NoError(t, applyWalkFlagOverrides(cmd, mockCfg, walkOptions{startFrom: 1, maxItems: 5}))
		mockCfg.AssertExpectations(t)
	})
}

// -- runWalk --

func TestRunWalk_ReportsEveryTarget(t *testing.T) {
	storage := mocks.NewMemStorage()
	storageP := &fakeStorageProvider{storage: storage}
	pagesP := &emptyPages{}
	out := new(bytes.Buffer)
	reportPath := filepath.Join(t.TempDir(), "reports.json")

	err := runWalk(context.Background(), zaptest.NewLogger(t), testWalkConfig(),
		[]string{"alice", "bob"},
		walkOptions{profile: "instagram-stories", startFrom: 1, output: reportPath},
		storageP, pagesP, out)
	require.NoError(t, err)

	table := out.String()
	assert.Contains(t, table, "alice")
	assert.Contains(t, table, "bob")
	assert.Contains(t, table, string(schemas.StatusNoContent))

	// One page per target, every page closed, every collaborator released.
	require.Len(t, pagesP.pages, 2)
	for _, p := range pagesP.pages {
		assert.True(t, p.Closed())
	}
	assert.True(t, pagesP.closed)
	assert.Equal(t, 1, storageP.closed)
	assert.Equal(t, 2, storage.RecordCount("sessions"))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var reports []engine.TargetReport
	require.NoError(t, jsoniter.Unmarshal(data, &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, "alice", reports[0].Target)
	assert.Equal(t, schemas.StatusNoContent, reports[0].Status)
	assert.Equal(t, "instagram-stories", reports[0].Profile)
}

func TestRunWalk_UnknownProfile(t *testing.T) {
	storageP := &fakeStorageProvider{storage: mocks.NewMemStorage()}
	err := runWalk(context.Background(), zaptest.NewLogger(t), testWalkConfig(),
		[]string{"alice"}, walkOptions{profile: "myspace-posts", startFrom: 1},
		storageP, &emptyPages{}, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signal profile")
	assert.Zero(t, storageP.closed, "storage must not be opened for a bad profile")
}

func TestRunWalk_CollaboratorFailures(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		pagesP := &emptyPages{}
		err := runWalk(context.Background(), zaptest.NewLogger(t), testWalkConfig(),
			[]string{"alice"}, walkOptions{profile: "instagram-stories", startFrom: 1},
			&fakeStorageProvider{err: errors.New("disk on fire")}, pagesP, new(bytes.Buffer))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open storage")
		assert.Empty(t, pagesP.pages)
	})

	t.Run("browser", func(t *testing.T) {
		storageP := &fakeStorageProvider{storage: mocks.NewMemStorage()}
		err := runWalk(context.Background(), zaptest.NewLogger(t), testWalkConfig(),
			[]string{"alice"}, walkOptions{profile: "instagram-stories", startFrom: 1},
			storageP, &emptyPages{err: errors.New("no chrome")}, new(bytes.Buffer))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start browser")
		assert.Equal(t, 1, storageP.closed)
	})
}

func TestRunWalk_WritesDiagnosticsDir(t *testing.T) {
	cfg := testWalkConfig()
	cfg.WalkerCfg.Diagnostics = true
	cfg.StorageCfg.DiagnosticsDir = filepath.Join(t.TempDir(), "diag")

	err := runWalk(context.Background(), zaptest.NewLogger(t), cfg,
		[]string{"alice"}, walkOptions{profile: "instagram-stories", startFrom: 1},
		&fakeStorageProvider{storage: mocks.NewMemStorage()}, &emptyPages{}, new(bytes.Buffer))
	require.NoError(t, err)
	assert.DirExists(t, cfg.StorageCfg.DiagnosticsDir)
}

func TestRenderReports(t *testing.T) {
	out := new(bytes.Buffer)
	renderReports(out, []engine.TargetReport{
		{
			Target:    "alice",
			Profile:   "instagram-stories",
			Status:    schemas.StatusStuckOnItem,
			Items:     []schemas.Item{{ID: "alice_1"}, {ID: "alice_2"}},
			LastIndex: 2,
			Attempts:  []engine.Attempt{{Status: schemas.StatusStuckOnItem, Error: "stuck on alice_2"}},
		},
		{Target: "bob", Profile: "instagram-stories", Status: schemas.StatusSuccess, Items: []schemas.Item{{ID: "bob_1"}}},
	})

	s := out.String()
	assert.Contains(t, s, "STUCK_ON_ITEM")
	assert.Contains(t, s, "stuck on alice_2")
	assert.Contains(t, s, "SUCCESS")
	assert.Contains(t, s, "3", "footer carries the item total")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
