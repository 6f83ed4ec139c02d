package engine

import (
	"math"
	"math/rand"
	"time"
)

// RetryManager is the pure retry policy: whether another attempt is allowed
// for a given retry count, and when it should run. It holds no execution
// state.
type RetryManager struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	Jitter         bool
}

// DefaultRetryManager returns the deployment default policy.
func DefaultRetryManager() *RetryManager {
	return &RetryManager{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Minute,
		Jitter:         true,
	}
}

// ShouldRetry reports whether a retry may be scheduled after retryCount
// already-scheduled retries.
func (rm *RetryManager) ShouldRetry(retryCount int) bool {
	return retryCount < rm.MaxRetries
}

// ScheduleRetry returns the next attempt time for the given retry count:
// exponential backoff with optional jitter, clamped to MaxBackoff.
func (rm *RetryManager) ScheduleRetry(retryCount int, now time.Time) time.Time {
	backoff := float64(rm.InitialBackoff) * math.Pow(rm.Multiplier, float64(retryCount))
	if backoff > float64(rm.MaxBackoff) {
		backoff = float64(rm.MaxBackoff)
	}
	if rm.Jitter {
		// up to ±10%
		backoff += backoff * 0.1 * (2*rand.Float64() - 1)
	}
	return now.Add(time.Duration(backoff))
}
