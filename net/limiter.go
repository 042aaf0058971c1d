package net

import (
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// warnLimiter throttles repetitive warning logs on the I/O goroutines, such
// as dropped datagrams. Reload swaps the limit at runtime.
type warnLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

func newWarnLimiter(perSecond float64) *warnLimiter {
	l := &warnLimiter{}
	l.Reload(perSecond)
	return l
}

// Allow reports whether a warning may be logged now.
func (l *warnLimiter) Allow() bool {
	return l.limiter.Load().Allow()
}

// Reload replaces the limit. A non-positive rate disables throttling.
func (l *warnLimiter) Reload(perSecond float64) {
	limit := rate.Limit(perSecond)
	burst := int(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	l.limiter.Store(rate.NewLimiter(limit, burst))
}

// newRetryPacer returns a leaky bucket allowing perSecond connect attempts.
func newRetryPacer(perSecond int) ratelimit.Limiter {
	if perSecond <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(perSecond, ratelimit.WithoutSlack)
}
