package batch

import (
	"fmt"
	"math"
	"time"
)

// Policy gathers every delay and threshold used by a run.
type Policy struct {
	// MaxAttempts bounds runner invocations per keyword.
	MaxAttempts int
	// ErrorDelay is the backoff base and the pacing after a failed keyword.
	ErrorDelay time.Duration
	// NormalDelay is the pacing after a successful keyword.
	NormalDelay time.Duration
	// ErrorCooldown is the suspension applied after a failure streak.
	ErrorCooldown time.Duration
	// MaxConsecutiveErrors is the streak length that triggers a cooldown.
	MaxConsecutiveErrors int
	// MinRequiredItems is the yield a keyword must reach to succeed.
	MinRequiredItems int
	// SavePath is the root under which failed output paths are synthesized.
	SavePath string
}

// DefaultPolicy mirrors the delays the batch drivers have always used.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:          3,
		ErrorDelay:           30 * time.Second,
		NormalDelay:          5 * time.Second,
		ErrorCooldown:        time.Hour,
		MaxConsecutiveErrors: 5,
		MinRequiredItems:     1500,
		SavePath:             "downloads",
	}
}

// Validate checks for unusable policy values.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0")
	}
	if p.ErrorDelay < 0 || p.NormalDelay < 0 || p.ErrorCooldown < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if p.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("max consecutive errors must be > 0")
	}
	if p.MinRequiredItems < 0 {
		return fmt.Errorf("min required items must be >= 0")
	}
	return nil
}

// ShouldRetry decides whether another attempt follows a failed one. Any
// runner error qualifies, including a runner's own timeout; an interrupt
// of the run is detected by the caller from the run context.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based):
// ErrorDelay, 2*ErrorDelay, 4*ErrorDelay, ...
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.ErrorDelay) * math.Pow(2, float64(attempt-1)))
}
