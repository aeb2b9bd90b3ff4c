package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultCleanupInterval reaps per-key limiters that have gone idle, so a
// long-running process with a large, churning key space doesn't leak
// memory, grounded on the teacher's tracking.Cooldown per-entry map idiom.
const defaultCleanupInterval = time.Hour

// defaultLimiterExpiry is how long an idle per-key limiter survives before
// cleanup removes it.
const defaultLimiterExpiry = 24 * time.Hour

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// InProcessLimiter is a per-key token bucket limiter, the default when no
// REDIS_URL is configured.
type InProcessLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	done     chan struct{}
}

// NewInProcessLimiter creates an InProcessLimiter allowing rps requests per
// second per key, with the given burst capacity. Non-positive rps or burst
// fall back to 100 rps / 20 burst.
func NewInProcessLimiter(rps float64, burst int) *InProcessLimiter {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 20
	}
	l := &InProcessLimiter{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		done:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for key may proceed now.
func (l *InProcessLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.limiterFor(key).Allow(), nil
}

func (l *InProcessLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (l *InProcessLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *InProcessLimiter) evictIdle() {
	cutoff := time.Now().Add(-defaultLimiterExpiry)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Close stops the background cleanup goroutine.
func (l *InProcessLimiter) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

var _ Limiter = (*InProcessLimiter)(nil)
