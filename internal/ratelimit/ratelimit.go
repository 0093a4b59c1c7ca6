// Package ratelimit implements a per-sender sliding-window command admission
// check.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits up to max commands per sender within window. A zero max
// disables limiting (every call admits).
type Limiter struct {
	mu      sync.Mutex
	calls   map[uint32][]time.Time
	max     int
	window  time.Duration
	nowFunc func() time.Time
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		calls:   make(map[uint32][]time.Time),
		max:     max,
		window:  window,
		nowFunc: time.Now,
	}
}

// Check drops timestamps older than window for sender, then admits and
// records now if the sender is still under max within the window.
func (l *Limiter) Check(sender uint32) bool {
	if l.max == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	timestamps := l.calls[sender]
	kept := timestamps[:0]
	for _, t := range timestamps {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.calls[sender] = kept
		return false
	}

	l.calls[sender] = append(kept, now)
	return true
}
