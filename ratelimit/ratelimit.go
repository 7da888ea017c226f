// Package ratelimit provides per-domain pacing of outgoing requests so
// that concurrent workers never hammer a single host
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces successive acquisitions on the same domain by at least
// the configured delay while leaving distinct domains fully independent.
// Each domain is backed by a token-bucket limiter with burst 1, whose
// reservations chain: racing callers reserve successive slots before
// sleeping, so overlapping acquires queue up instead of colliding. The
// underlying clock is monotonic.
type Limiter struct {
	defaultDelay time.Duration
	mutex        sync.Mutex
	delays       map[string]time.Duration
	limiters     map[string]*rate.Limiter
}

// New creates a Limiter with the given default delay between requests
// to the same domain
func New(defaultDelay time.Duration) *Limiter {
	return &Limiter{
		defaultDelay: defaultDelay,
		delays:       make(map[string]time.Duration),
		limiters:     make(map[string]*rate.Limiter),
	}
}

// SetDelay installs a per-domain override of the default delay, used to
// honor a Crawl-delay directive from robots.txt
func (l *Limiter) SetDelay(domain string, delay time.Duration) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.delays[domain] = delay
	if limiter, ok := l.limiters[domain]; ok {
		limiter.SetLimit(limitFor(delay))
	}
}

// Delay returns the delay currently applied to the domain
func (l *Limiter) Delay(domain string) time.Duration {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if delay, ok := l.delays[domain]; ok {
		return delay
	}
	return l.defaultDelay
}

// Acquire blocks until at least the domain delay has elapsed since the
// most recent successful acquire on the same domain by any caller, or
// until the context is canceled. The mutex only guards the limiter
// table, it is never held while waiting.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	l.mutex.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		delay, set := l.delays[domain]
		if !set {
			delay = l.defaultDelay
		}
		limiter = rate.NewLimiter(limitFor(delay), 1)
		l.limiters[domain] = limiter
	}
	l.mutex.Unlock()
	return limiter.Wait(ctx)
}

// limitFor converts a minimum interval into a token refill rate, a zero
// or negative delay disables pacing entirely
func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
