// -- internal/humanoid/humanoid.go --
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/internal/config"
)

// Humanoid produces human looking timings for the gestures a walker performs.
// It is safe for concurrent use. Fatigue only moves for the instance that
// performs gestures: each browser page owns one, so it tracks that page's
// session, growing with every action and easing off while pausing.
type Humanoid struct {
	cfg     config.HumanoidConfig
	logger  *zap.Logger
	sleeper Sleeper

	mu           sync.Mutex
	rng          *rand.Rand
	fatigueLevel float64 // 0.0 (rested) to 1.0 (exhausted)
	actions      int
}

// Option tweaks a Humanoid at construction.
type Option func(*Humanoid)

// WithRand pins the random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(h *Humanoid) { h.rng = rng }
}

// WithSleeper replaces the context aware sleep.
func WithSleeper(s Sleeper) Option {
	return func(h *Humanoid) { h.sleeper = s }
}

// New creates a Humanoid.
func New(cfg config.HumanoidConfig, logger *zap.Logger, opts ...Option) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Humanoid{
		cfg:     cfg,
		logger:  logger.Named("humanoid"),
		sleeper: NewTimerSleeper(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.rng == nil {
		h.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return h
}

// Enabled reports whether humanized timings are switched on.
func (h *Humanoid) Enabled() bool { return h != nil && h.cfg.Enabled }

// Fatigue returns the current fatigue level.
func (h *Humanoid) Fatigue() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatigueLevel
}
