// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/signals"
	"github.com/xkilldash9x/feedwalker/internal/walker"
)

// ErrAlreadyRunning is returned when Run is called on an engine that is still busy.
var ErrAlreadyRunning = errors.New("engine: already running")

// -- Interfaces for Dependency Inversion --

// Runner walks one target on one view. *walker.Walker is the production implementation.
type Runner interface {
	Walk(ctx context.Context, view schemas.View, p walker.Params) schemas.SessionResult
}

// Attempt summarises one session of a target.
type Attempt struct {
	SessionID string                `json:"session_id"`
	StartFrom int                   `json:"start_from"`
	Status    schemas.SessionStatus `json:"status"`
	Items     int                   `json:"items"`
	LastIndex int                   `json:"last_index"`
	Error     string                `json:"error,omitempty"`
}

// TargetReport is the outcome of every session run for one target.
type TargetReport struct {
	Target  string `json:"target"`
	Profile string `json:"profile"`
	// Status is the status of the last attempt.
	Status    schemas.SessionStatus `json:"status"`
	Items     []schemas.Item        `json:"items"`
	LastIndex int                   `json:"last_index"`
	Attempts  []Attempt             `json:"attempts"`
}

// Err returns the last attempt's error text, if any.
func (r TargetReport) Err() string {
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Error
}

// Engine runs many targets concurrently, one isolated page per session.
type Engine struct {
	cfg     config.Interface
	logger  *zap.Logger
	pages   schemas.PageFactory
	records schemas.RecordStore
	runner  Runner
	profile *signals.Profile
	limiter *rate.Limiter

	// stateLock guards running.
	stateLock sync.Mutex
	running   bool
}

// New creates an Engine. records may be nil, which disables cursor lookups.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	pages schemas.PageFactory,
	records schemas.RecordStore,
	runner Runner,
	profile *signals.Profile,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if pages == nil {
		return nil, errors.New("page factory cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if profile == nil {
		return nil, errors.New("profile cannot be nil")
	}

	limit := rate.Inf
	if r := cfg.Engine().StartRate; r > 0 {
		limit = rate.Limit(r)
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "engine"), zap.String("profile", profile.Name)),
		pages:   pages,
		records: records,
		runner:  runner,
		profile: profile,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Run walks every target and returns one report per target, in the order
// given. Targets never fail each other; a target's problems are in its report.
// The returned error is only set when the engine could not run at all.
func (e *Engine) Run(ctx context.Context, targets []string, startFrom int) ([]TargetReport, error) {
	e.stateLock.Lock()
	if e.running {
		e.stateLock.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.stateLock.Unlock()
	defer func() {
		e.stateLock.Lock()
		e.running = false
		e.stateLock.Unlock()
	}()

	concurrency := e.cfg.Engine().MaxSessions
	if concurrency <= 0 {
		concurrency = 1
	}
	e.logger.Info("Starting walks.", zap.Int("targets", len(targets)), zap.Int("max_sessions", concurrency))

	reports := make([]TargetReport, len(targets))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, target := range targets {
		g.Go(func() error {
			reports[i] = e.runTarget(ctx, target, startFrom)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, fmt.Errorf("running targets: %w", err)
	}

	e.logger.Info("All walks finished.", zap.Int("targets", len(targets)))
	return reports, nil
}
