package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// CognitivePause waits roughly as long as a person glancing at the screen
// before the next action. The duration is drawn from a normal distribution
// and stretched by accumulated fatigue.
func (h *Humanoid) CognitivePause(ctx context.Context) error {
	return h.Pause(ctx, h.cfg.PauseMeanMs, h.cfg.PauseStdDevMs)
}

// Pause is CognitivePause with explicit distribution parameters.
func (h *Humanoid) Pause(ctx context.Context, meanMs, stdDevMs float64) error {
	if !h.Enabled() {
		return ctx.Err()
	}
	d := h.pauseDuration(meanMs, stdDevMs)
	if d <= 0 {
		return ctx.Err()
	}
	if err := h.sleeper.Sleep(ctx, d); err != nil {
		return err
	}
	h.recoverFatigue(d)
	return nil
}

// recoverFatigue sheds fatigue for time spent idle.
func (h *Humanoid) recoverFatigue(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel = math.Max(0.0, h.fatigueLevel-h.cfg.FatigueRecoveryRate*d.Seconds())
}

func (h *Humanoid) pauseDuration(meanMs, stdDevMs float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	fatigueFactor := 1.0 + h.fatigueLevel
	ms := fatigueFactor * (meanMs + h.rng.NormFloat64()*stdDevMs)
	return time.Duration(ms) * time.Millisecond
}

// ClickHold returns how long a mouse button stays pressed for one click.
func (h *Humanoid) ClickHold() time.Duration {
	if !h.Enabled() {
		return 0
	}
	lo, hi := h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs
	if hi < lo {
		lo, hi = hi, lo
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ms := lo
	if hi > lo {
		ms += h.rng.Intn(hi - lo + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// Jitter nudges a viewport fraction by up to ±spread so repeated edge clicks
// do not land on the same pixel.
func (h *Humanoid) Jitter(v, spread float64) float64 {
	if !h.Enabled() || spread <= 0 {
		return v
	}
	h.mu.Lock()
	n := (h.rng.Float64()*2 - 1) * spread
	h.mu.Unlock()
	return math.Min(1, math.Max(0, v+n))
}

// Acted records that a gesture happened. Fatigue builds slowly with activity.
func (h *Humanoid) Acted() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions++
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+h.cfg.FatigueFactor)
	if h.actions%25 == 0 {
		h.logger.Debug("Humanoid fatigue", zap.Int("actions", h.actions), zap.Float64("fatigue", h.fatigueLevel))
	}
}

// Settle waits a fixed interval, then adds a small human pause on top.
func (h *Humanoid) Settle(ctx context.Context, base time.Duration) error {
	if err := h.sleeper.Sleep(ctx, base); err != nil {
		return err
	}
	return h.Pause(ctx, h.cfg.PauseMeanMs/3, h.cfg.PauseStdDevMs/3)
}
