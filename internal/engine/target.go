// internal/engine/target.go
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/signals"
	"github.com/xkilldash9x/feedwalker/internal/walker"
)

const pageCloseTimeout = 10 * time.Second

// runTarget walks one target, restarting stuck sessions from where they
// stopped until the restart budget or the item goal is used up.
func (e *Engine) runTarget(ctx context.Context, target string, startFrom int) TargetReport {
	logger := e.logger.With(zap.String("target", target))
	report := TargetReport{Target: target, Profile: e.profile.Name}

	if startFrom < 1 {
		startFrom = 1
	}
	params := walker.Params{Target: target, StartFrom: startFrom}
	if stopAt := e.stopAt(ctx, target, startFrom, logger); stopAt != "" {
		params.StopAtID = stopAt
	}

	engineCfg := e.cfg.Engine()
	seen := make(map[string]bool)
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			logger.Warn("Session start cancelled.", zap.Error(err))
			report.Status = schemas.StatusError
			report.Attempts = append(report.Attempts, Attempt{
				StartFrom: params.StartFrom,
				Status:    schemas.StatusError,
				LastIndex: max(report.LastIndex, params.StartFrom-1),
				Error:     fmt.Sprintf("waiting to start session: %v", err),
			})
			break
		}

		res := e.runSession(ctx, params, logger)
		report.Status = res.Status
		report.LastIndex = max(report.LastIndex, res.LastIndex)
		report.Attempts = append(report.Attempts, Attempt{
			SessionID: res.SessionID,
			StartFrom: params.StartFrom,
			Status:    res.Status,
			Items:     len(res.Items),
			LastIndex: res.LastIndex,
			Error:     res.Error,
		})
		for _, it := range res.Items {
			if !seen[it.ID] {
				seen[it.ID] = true
				report.Items = append(report.Items, it)
			}
		}

		if !res.Status.Restartable() {
			break
		}
		if attempt >= engineCfg.MaxRestarts {
			logger.Warn("Restart budget used up.", zap.Int("attempts", attempt+1))
			break
		}
		if engineCfg.EnoughItems > 0 && len(report.Items) >= engineCfg.EnoughItems {
			logger.Info("Enough items collected, not restarting.", zap.Int("items", len(report.Items)))
			break
		}
		params.StartFrom = res.LastIndex + 1
		logger.Info("Session got stuck, restarting.",
			zap.Int("attempt", attempt+2),
			zap.Int("start_from", params.StartFrom),
		)
	}

	logger.Info("Target finished.",
		zap.String("status", string(report.Status)),
		zap.Int("items", len(report.Items)),
		zap.Int("attempts", len(report.Attempts)),
	)
	return report
}

// stopAt returns the newest item of the previous fresh walk of a post feed,
// when the walker is configured to stop there. Story viewers play oldest
// first, so they never stop early.
func (e *Engine) stopAt(ctx context.Context, target string, startFrom int, logger *zap.Logger) string {
	if e.records == nil || startFrom > 1 || e.profile.Mode != signals.ModePosts || !e.cfg.Walker().StopAtLatest {
		return ""
	}
	cursor, found, err := walker.LoadCursor(ctx, e.records, e.profile.Platform, target)
	if err != nil {
		logger.Warn("Could not load the previous walk's cursor.", zap.Error(err))
		return ""
	}
	if !found {
		return ""
	}
	logger.Debug("Will stop at the previous walk's newest item.", zap.String("item_id", cursor.NewestItemID))
	return cursor.NewestItemID
}

// runSession opens a fresh page, walks, and closes the page.
func (e *Engine) runSession(ctx context.Context, params walker.Params, logger *zap.Logger) schemas.SessionResult {
	sessionCtx := ctx
	if timeout := e.cfg.Engine().SessionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	page, err := e.pages.NewPage(sessionCtx)
	if err != nil {
		logger.Error("Could not open a page for the session.", zap.Error(err))
		return schemas.SessionResult{
			Target:     params.Target,
			Platform:   e.profile.Platform,
			Status:     schemas.StatusError,
			LastIndex:  params.StartFrom - 1,
			Error:      fmt.Sprintf("opening page: %v", err),
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
	}
	defer func() {
		// The session context may already be gone; the page still needs closing.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pageCloseTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("Closing the session page failed.", zap.Error(err))
		}
	}()

	return e.runner.Walk(sessionCtx, page, params)
}
