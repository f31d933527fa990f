package coalesce

import (
	"sync"
	"time"
)

// limiter caps admissions inside a rolling window. The window reset is a
// check-then-act on the clock, so it is guarded by a mutex here even though
// the original single-threaded design did not need one.
type limiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	windowStart time.Time
	count       int
	now         func() time.Time
}

func newLimiter(max int, window time.Duration, now func() time.Time) *limiter {
	return &limiter{max: max, window: window, now: now}
}

// Allow consumes one slot if the window has capacity.
func (l *limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.now()
	if n.Sub(l.windowStart) >= l.window {
		l.windowStart = n
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}
