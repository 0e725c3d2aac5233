// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/mocks"
	"github.com/xkilldash9x/feedwalker/internal/signals"
	"github.com/xkilldash9x/feedwalker/internal/walker"
)

// -- Mock Implementations --

// mockRunner stands in for the walker.
type mockRunner struct {
	// walkFunc is customised per test to simulate different outcomes.
	walkFunc func(ctx context.Context, p walker.Params) schemas.SessionResult

	mu    sync.Mutex
	calls []walker.Params
}

func (m *mockRunner) Walk(ctx context.Context, view schemas.View, p walker.Params) schemas.SessionResult {
	m.mu.Lock()
	m.calls = append(m.calls, p)
	m.mu.Unlock()
	if m.walkFunc != nil {
		return m.walkFunc(ctx, p)
	}
	// Default behavior: one item and success.
	return schemas.SessionResult{
		Target:    p.Target,
		Status:    schemas.StatusSuccess,
		Items:     []schemas.Item{{ID: p.Target + "_1"}},
		LastIndex: p.StartFrom,
	}
}

func (m *mockRunner) Calls() []walker.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]walker.Params(nil), m.calls...)
}

func profile(t *testing.T, name string) *signals.Profile {
	t.Helper()
	reg, err := signals.Load("")
	require.NoError(t, err)
	p, err := reg.Get(name)
	require.NoError(t, err)
	return p
}

func mockConfig(engineCfg config.EngineConfig, walkerCfg config.WalkerConfig) *mocks.MockConfig {
	cfg := new(mocks.MockConfig)
	cfg.On("Engine").Return(engineCfg)
	cfg.On("Walker").Return(walkerCfg)
	return cfg
}

func pageFactory(page schemas.Page) *mocks.MockPageFactory {
	pages := new(mocks.MockPageFactory)
	pages.On("NewPage", mock.Anything).Return(page, nil)
	return pages
}

// stuckUntil returns a walk that reports StuckOnItem, two items per session,
// until n sessions have run.
func stuckUntil(n int) func(ctx context.Context, p walker.Params) schemas.SessionResult {
	var sessions atomic.Int32
	return func(ctx context.Context, p walker.Params) schemas.SessionResult {
		status := schemas.StatusStuckOnItem
		if int(sessions.Add(1)) >= n {
			status = schemas.StatusSuccess
		}
		return schemas.SessionResult{
			Target: p.Target,
			Status: status,
			Items: []schemas.Item{
				{ID: fmt.Sprintf("%s_%d", p.Target, p.StartFrom)},
				{ID: fmt.Sprintf("%s_%d", p.Target, p.StartFrom+1)},
			},
			LastIndex: p.StartFrom + 1,
		}
	}
}

// -- Test Suite --

func TestNew_ValidatesDependencies(t *testing.T) {
	cfg := mockConfig(config.EngineConfig{MaxSessions: 1}, config.WalkerConfig{})
	logger := zap.NewNop()
	pages := new(mocks.MockPageFactory)
	runner := &mockRunner{}
	p := profile(t, "instagram-stories")

	_, err := New(nil, logger, pages, nil, runner, p)
	assert.Error(t, err)
	_, err = New(cfg, nil, pages, nil, runner, p)
	assert.Error(t, err)
	_, err = New(cfg, logger, nil, nil, runner, p)
	assert.Error(t, err)
	_, err = New(cfg, logger, pages, nil, nil, p)
	assert.Error(t, err)
	_, err = New(cfg, logger, pages, nil, runner, nil)
	assert.Error(t, err)

	e, err := New(cfg, logger, pages, nil, runner, p)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRun_ReportsEveryTargetInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := mocks.NewScriptedPage()
	runner := &mockRunner{}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 2}, config.WalkerConfig{})
	e, err := New(cfg, zaptest.NewLogger(t), pageFactory(page), nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	reports, err := e.Run(context.Background(), []string{"alice", "bob", "carol"}, 1)
	require.NoError(t, err)

	require.Len(t, reports, 3)
	for i, target := range []string{"alice", "bob", "carol"} {
		assert.Equal(t, target, reports[i].Target)
		assert.Equal(t, schemas.StatusSuccess, reports[i].Status)
		assert.Equal(t, "instagram-stories", reports[i].Profile)
		require.Len(t, reports[i].Attempts, 1)
		require.Len(t, reports[i].Items, 1)
		assert.Equal(t, target+"_1", reports[i].Items[0].ID)
	}
	assert.Len(t, runner.Calls(), 3)
	assert.Equal(t, 3, page.CloseCalls(), "every session page is closed")
}

func TestRun_BoundsConcurrentSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, peak atomic.Int32
	runner := &mockRunner{walkFunc: func(ctx context.Context, p walker.Params) schemas.SessionResult {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return schemas.SessionResult{Target: p.Target, Status: schemas.StatusSuccess}
	}}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 2}, config.WalkerConfig{})
	e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	targets := []string{"a", "b", "c", "d", "e", "f"}
	reports, err := e.Run(context.Background(), targets, 1)
	require.NoError(t, err)

	assert.Len(t, reports, len(targets))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRun_RestartsStuckSessionsFromLastIndex(t *testing.T) {
	runner := &mockRunner{walkFunc: stuckUntil(3)}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 1, MaxRestarts: 5}, config.WalkerConfig{})
	e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	reports, err := e.Run(context.Background(), []string{"alice"}, 1)
	require.NoError(t, err)
	report := reports[0]

	var starts []int
	for _, c := range runner.Calls() {
		starts = append(starts, c.StartFrom)
	}
	assert.Equal(t, []int{1, 3, 5}, starts)
	assert.Equal(t, schemas.StatusSuccess, report.Status)
	assert.Len(t, report.Attempts, 3)
	assert.Len(t, report.Items, 6)
	assert.Equal(t, 6, report.LastIndex)
}

func TestRun_RestartPolicyLimits(t *testing.T) {
	t.Run("restart budget", func(t *testing.T) {
		runner := &mockRunner{walkFunc: stuckUntil(100)}
		cfg := mockConfig(config.EngineConfig{MaxSessions: 1, MaxRestarts: 2}, config.WalkerConfig{})
		e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
		require.NoError(t, err)

		reports, err := e.Run(context.Background(), []string{"alice"}, 1)
		require.NoError(t, err)
		assert.Len(t, reports[0].Attempts, 3, "first session plus two restarts")
		assert.Equal(t, schemas.StatusStuckOnItem, reports[0].Status)
	})

	t.Run("enough items", func(t *testing.T) {
		runner := &mockRunner{walkFunc: stuckUntil(100)}
		cfg := mockConfig(config.EngineConfig{MaxSessions: 1, MaxRestarts: 10, EnoughItems: 4}, config.WalkerConfig{})
		e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
		require.NoError(t, err)

		reports, err := e.Run(context.Background(), []string{"alice"}, 1)
		require.NoError(t, err)
		assert.Len(t, reports[0].Attempts, 2)
		assert.Len(t, reports[0].Items, 4)
	})

	t.Run("other statuses never restart", func(t *testing.T) {
		for _, status := range []schemas.SessionStatus{
			schemas.StatusSuccess,
			schemas.StatusNoContent,
			schemas.StatusTooManyFailures,
			schemas.StatusSafetyLimit,
			schemas.StatusError,
		} {
			runner := &mockRunner{walkFunc: func(ctx context.Context, p walker.Params) schemas.SessionResult {
				return schemas.SessionResult{Target: p.Target, Status: status, Error: "boom"}
			}}
			cfg := mockConfig(config.EngineConfig{MaxSessions: 1, MaxRestarts: 3}, config.WalkerConfig{})
			e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
			require.NoError(t, err)

			reports, err := e.Run(context.Background(), []string{"alice"}, 1)
			require.NoError(t, err)
			assert.Len(t, runner.Calls(), 1, string(status))
			assert.Equal(t, status, reports[0].Status)
			assert.Equal(t, "boom", reports[0].Err())
		}
	})
}

func TestRun_StopsPostWalksAtTheCursor(t *testing.T) {
	ctx := context.Background()
	storage := mocks.NewMemStorage()
	require.NoError(t, storage.UpsertRecord(ctx, walker.CursorCollection, walker.CursorID("x", "alice"), walker.Cursor{NewestItemID: "alice_1785"}))

	tests := []struct {
		name      string
		profile   string
		latest    bool
		startFrom int
		want      string
	}{
		{"posts fresh walk", "x-posts", true, 1, "alice_1785"},
		{"disabled", "x-posts", false, 1, ""},
		{"resumed walk", "x-posts", true, 4, ""},
		{"stories never stop early", "instagram-stories", true, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			cfg := mockConfig(config.EngineConfig{MaxSessions: 1}, config.WalkerConfig{StopAtLatest: tt.latest})
			e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), storage, runner, profile(t, tt.profile))
			require.NoError(t, err)

			_, err = e.Run(ctx, []string{"alice"}, tt.startFrom)
			require.NoError(t, err)
			calls := runner.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].StopAtID)
		})
	}
}

func TestRun_CursorLookupFailureIsNotFatal(t *testing.T) {
	records := new(mocks.MockStorage)
	records.On("GetRecord", mock.Anything, walker.CursorCollection, "x:alice", mock.Anything).Return(errors.New("connection reset"))
	runner := &mockRunner{}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 1}, config.WalkerConfig{StopAtLatest: true})
	e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), records, runner, profile(t, "x-posts"))
	require.NoError(t, err)

	reports, err := e.Run(context.Background(), []string{"alice"}, 1)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusSuccess, reports[0].Status)
	assert.Empty(t, runner.Calls()[0].StopAtID)
}

func TestRun_PageFailureIsAnError(t *testing.T) {
	pages := new(mocks.MockPageFactory)
	pages.On("NewPage", mock.Anything).Return(nil, errors.New("browser gone"))
	runner := &mockRunner{}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 1, MaxRestarts: 3}, config.WalkerConfig{})
	e, err := New(cfg, zap.NewNop(), pages, nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	reports, err := e.Run(context.Background(), []string{"alice"}, 7)
	require.NoError(t, err)

	assert.Empty(t, runner.Calls())
	assert.Equal(t, schemas.StatusError, reports[0].Status)
	assert.Contains(t, reports[0].Err(), "browser gone")
	assert.Equal(t, 6, reports[0].LastIndex)
}

func TestRun_ContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &mockRunner{}
	// One session start every ten seconds: only the first target starts before cancellation.
	cfg := mockConfig(config.EngineConfig{MaxSessions: 4, StartRate: 0.1}, config.WalkerConfig{})
	e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan []TargetReport)
	go func() {
		reports, _ := e.Run(ctx, []string{"a", "b", "c"}, 1)
		done <- reports
	}()

	select {
	case reports := <-done:
		require.Len(t, reports, 3)
		errored := 0
		for _, r := range reports {
			if r.Status == schemas.StatusError {
				errored++
			}
		}
		assert.Equal(t, 2, errored, "targets still waiting for a start slot are reported as errors")
		assert.Len(t, runner.Calls(), 1)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation.")
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := &mockRunner{walkFunc: func(ctx context.Context, p walker.Params) schemas.SessionResult {
		close(started)
		<-release
		return schemas.SessionResult{Status: schemas.StatusSuccess}
	}}
	cfg := mockConfig(config.EngineConfig{MaxSessions: 1}, config.WalkerConfig{})
	e, err := New(cfg, zap.NewNop(), pageFactory(mocks.NewScriptedPage()), nil, runner, profile(t, "instagram-stories"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Run(context.Background(), []string{"alice"}, 1)
	}()
	<-started

	_, err = e.Run(context.Background(), []string{"bob"}, 1)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
	_, err = e.Run(context.Background(), []string{}, 1)
	assert.NoError(t, err, "the engine can run again once idle")
}
