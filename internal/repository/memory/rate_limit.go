package memory

import (
	"context"
	"sync"
	"time"
)

const maxWindows = 4096

type window struct {
	start time.Time
	count int64
}

// RateLimiter is a fixed-window counter for single-instance deployments.
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now, windows: make(map[string]*window)}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, period time.Duration) (bool, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.windows) > maxWindows {
		for k, w := range l.windows {
			if now.Sub(w.start) >= period {
				delete(l.windows, k)
			}
		}
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= period {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= int64(limit), w.count, nil
}
