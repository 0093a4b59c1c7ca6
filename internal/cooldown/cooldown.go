// Package cooldown tracks the last time a traceroute probe was sent to each
// target node, so the probe selector doesn't hammer the same node.
package cooldown

import (
	"sync"
	"time"
)

type Tracker struct {
	mu       sync.Mutex
	lastSent map[uint32]time.Time
	nowFunc  func() time.Time
}

func New() *Tracker {
	return &Tracker{
		lastSent: make(map[uint32]time.Time),
		nowFunc:  time.Now,
	}
}

// CanSend reports whether enough time has passed since the last probe to
// target (or whether it has never been probed at all).
func (t *Tracker) CanSend(target uint32, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSent[target]
	if !ok {
		return true
	}
	return t.nowFunc().Sub(last) >= cooldown
}

// MarkSent records that a probe was just sent to target.
func (t *Tracker) MarkSent(target uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent[target] = t.nowFunc()
}
