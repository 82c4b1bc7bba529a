package exchange

import "time"

// backoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		attempt = 32
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
