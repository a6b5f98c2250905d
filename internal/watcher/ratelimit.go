package watcher

import "time"

const (
	// rateWindow is the sliding window span of the alert limiter.
	rateWindow = time.Hour
	// rateCapacity bounds the retained timestamp history.
	rateCapacity = 100
)

// RateLimiter admits at most limit alerts per sliding hour. Only the
// scheduler's dispatch path touches it, so it needs no locking.
type RateLimiter struct {
	limit int
	times []time.Time
}

// NewRateLimiter returns a limiter with the given hourly ceiling.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{limit: limit}
}

// Admit prunes timestamps that fell out of the window and reports
// whether another alert fits under the ceiling.
func (r *RateLimiter) Admit(now time.Time) bool {
	r.prune(now)
	return len(r.times) < r.limit
}

// Record notes a dispatched alert, evicting the oldest entry beyond
// capacity.
func (r *RateLimiter) Record(now time.Time) {
	r.times = append(r.times, now)
	if len(r.times) > rateCapacity {
		r.times = r.times[len(r.times)-rateCapacity:]
	}
}

// Count returns how many alerts sit inside the current window.
func (r *RateLimiter) Count(now time.Time) int {
	r.prune(now)
	return len(r.times)
}

func (r *RateLimiter) prune(now time.Time) {
	cut := 0
	for cut < len(r.times) && now.Sub(r.times[cut]) > rateWindow {
		cut++
	}
	if cut > 0 {
		r.times = r.times[cut:]
	}
}
