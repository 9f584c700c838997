// Package ratelimit implements the per-session sliding-window counters.
package ratelimit

import (
	"sync"
	"time"
)

// Dimension names used by the server.
const (
	DimensionRequest    = "request"
	DimensionScreenshot = "screenshot"
)

type window struct {
	limit int
	size  time.Duration
	count int
	start time.Time
}

// Limiter holds one sliding window per dimension. It belongs to a single
// session and is guarded by its own mutex because the session's timers touch
// it outside the request path.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New creates a limiter with no dimensions; add them with Configure.
func New() *Limiter {
	return &Limiter{windows: make(map[string]*window), now: time.Now}
}

// Configure installs a dimension with the given limit per window.
func (l *Limiter) Configure(dimension string, limit int, size time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[dimension] = &window{limit: limit, size: size}
}

// Allow counts one hit against the dimension. It returns true when the hit
// is admitted; otherwise false and the time remaining until the window
// resets, which callers surface as retryAfterMs. Unknown dimensions are
// always admitted.
func (l *Limiter) Allow(dimension string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[dimension]
	if !ok {
		return true, 0
	}
	now := l.now()
	if now.Sub(w.start) >= w.size {
		w.start = now
		w.count = 1
		return true, 0
	}
	if w.count < w.limit {
		w.count++
		return true, 0
	}
	return false, w.size - now.Sub(w.start)
}

// SetNowFunc overrides the clock, for tests.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
