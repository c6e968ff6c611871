package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cooldown counts consecutive failed or under-delivering keywords and
// suspends the run once the streak reaches a threshold, on the assumption
// that the upstream site is rate limiting.
type Cooldown struct {
	threshold int
	period    time.Duration
	sleeper   Sleeper
	metrics   Metrics
	logger    *zap.Logger

	consecutive atomic.Int64
	active      atomic.Bool
}

// NewCooldown builds a monitor from the policy thresholds.
func NewCooldown(policy Policy, sleeper Sleeper, metrics Metrics, logger *zap.Logger) *Cooldown {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cooldown{
		threshold: policy.MaxConsecutiveErrors,
		period:    policy.ErrorCooldown,
		sleeper:   sleeper,
		metrics:   metrics,
		logger:    logger,
	}
}

// RecordFailure extends the streak and returns its new length.
func (c *Cooldown) RecordFailure() int {
	n := int(c.consecutive.Add(1))
	c.metrics.SetConsecutiveErrors(n)
	return n
}

// RecordSuccess ends the streak.
func (c *Cooldown) RecordSuccess() {
	c.reset()
}

func (c *Cooldown) reset() {
	c.consecutive.Store(0)
	c.metrics.SetConsecutiveErrors(0)
}

// Consecutive returns the current streak length.
func (c *Cooldown) Consecutive() int {
	return int(c.consecutive.Load())
}

// CoolingDown reports whether a cooldown sleep is in progress.
func (c *Cooldown) CoolingDown() bool {
	return c.active.Load()
}

// MaybeCooldown blocks for the cooldown period when the streak has reached
// the threshold, then resets the streak. It reports whether it slept. An
// interrupted cooldown leaves the streak untouched.
func (c *Cooldown) MaybeCooldown(ctx context.Context) (bool, error) {
	streak := c.Consecutive()
	if streak < c.threshold {
		return false, nil
	}
	c.logger.Warn("possible upstream rate limit; cooling down",
		zap.Int("consecutive_errors", streak),
		zap.Duration("cooldown", c.period),
	)
	c.active.Store(true)
	defer c.active.Store(false)
	if err := c.sleeper.Sleep(ctx, c.period); err != nil {
		return false, fmt.Errorf("cooldown: %w", err)
	}
	c.metrics.ObserveCooldown(c.period)
	c.reset()
	c.logger.Info("cooldown finished; resuming")
	return true, nil
}
