// Package ratelimit provides non-blocking byte-rate throttling for the
// seeding path, on top of the same accounting original_source/peer.py's
// PeerStats performs (spec.md §4.6 supplement). AllowN rather than WaitN
// is used so the reactor never yields inside block processing (spec.md §5).
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles a byte stream. A zero-value limit means unlimited.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter allowing bytesPerSec sustained throughput with a
// burst of burst bytes; Allow refuses any single request larger than
// burst. A bytesPerSec of 0 disables throttling.
func New(bytesPerSec int64, burst int) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Allow reports whether n bytes may be sent right now, consuming the
// tokens if so. Unlimited limiters always allow.
func (l *Limiter) Allow(n int) bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.AllowN(time.Now(), n)
}
