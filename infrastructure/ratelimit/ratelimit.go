// Package ratelimit implements the global request caps for the operational
// core (C8): an in-process token bucket by default, or a Redis-backed
// fixed-window counter when REDIS_URL is configured so multiple qbench
// replicas share one cap (spec.md §9, "Rate-limit scoping": global caps
// only, per-IP/per-key scoping left to transport middleware).
package ratelimit

import "context"

// Limiter reports whether the caller identified by key may proceed right
// now. A global limiter always uses the same key (e.g. "global").
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}
