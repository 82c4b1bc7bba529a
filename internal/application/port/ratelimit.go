package port

import "context"

// RateLimiter bounds requests per caller key over a sliding window. Allow
// must be atomic across concurrent callers sharing the same key.
type RateLimiter interface {
	// Allow records one request attributed to key and reports whether it is
	// within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}
