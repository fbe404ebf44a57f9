// Package ratelimit implements the per-provider request-per-minute limiter.
//
// The limiter is a true sliding window over request timestamps rather than a
// token bucket: a burst of N requests blocks the N+1st until the oldest of
// the N leaves the 60-second window, which matches how LLM vendors meter
// their RPM quotas. Acquire blocks (it does not error) so that a saturated
// provider applies backpressure to callers instead of failing requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the metering period vendors quote RPM limits against.
const window = time.Minute

// Limiter is a blocking sliding-window rate limiter. A nil Limiter admits
// everything, so callers need no special case for unlimited providers.
type Limiter struct {
	mu         sync.Mutex
	maxPerMin  int
	timestamps []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter admitting at most maxPerMin acquisitions per sliding
// minute. A non-positive limit returns nil (unlimited).
func New(maxPerMin int) *Limiter {
	if maxPerMin <= 0 {
		return nil
	}
	return &Limiter{maxPerMin: maxPerMin, now: time.Now}
}

// Acquire blocks until a slot is free within the sliding window, then
// records the acquisition. It returns ctx.Err() if the context is done
// first. Callers must invoke Acquire only for requests that will actually
// reach the provider; cache hits bypass the limiter entirely.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		if len(l.timestamps) < l.maxPerMin {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		// Sleep until the oldest timestamp ages out, then recheck.
		wait := window - now.Sub(l.timestamps[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire records an acquisition if a slot is free and reports whether it
// did. It never blocks.
func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	if len(l.timestamps) >= l.maxPerMin {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}

// InFlight returns the number of acquisitions currently inside the window.
func (l *Limiter) InFlight() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.timestamps)
}

// Limit returns the configured per-minute maximum (0 for unlimited).
func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.maxPerMin
}

// evict drops timestamps older than the window. Must be called with l.mu
// held.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// Registry holds one Limiter per provider name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Set installs (or replaces) the limiter for provider. A non-positive limit
// removes any existing limiter.
func (r *Registry) Set(provider string, maxPerMin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxPerMin <= 0 {
		delete(r.limiters, provider)
		return
	}
	r.limiters[provider] = New(maxPerMin)
}

// Get returns the limiter for provider, which may be nil (unlimited).
func (r *Registry) Get(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[provider]
}
