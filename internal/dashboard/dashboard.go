// Package dashboard exposes live gateway counters and a non-blocking
// refresh signal for an external dashboard server to poll and subscribe
// to. Rendering and transport (HTTP, SSE, ...) are outside this module's
// scope; this package only holds the shared state such a server would read.
package dashboard

import "sync/atomic"

// Counters are updated by the event loop and read without locking by
// whatever external process exposes them.
type Counters struct {
	PacketsIn        atomic.Int64
	PacketsOut       atomic.Int64
	CommandsHandled  atomic.Int64
	TraceroutesSeen  atomic.Int64
	RateLimited      atomic.Int64
	ConnectedSince   atomic.Int64
	ReconnectCount   atomic.Int64
}

// NewCounters returns a zeroed Counters set.
func NewCounters() *Counters {
	return &Counters{}
}

// Notifier is a non-blocking broadcast signal: the event loop calls Notify
// whenever state an external dashboard cares about changes, and any number
// of readers can Subscribe to be woken up. A full subscriber channel drops
// the notification rather than blocking the sender, since a notification's
// only job is "go re-read the counters", and a missed one is harmless as
// long as another eventually arrives.
type Notifier struct {
	subscribers []chan struct{}
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers and returns a new channel that receives a value each
// time Notify is called.
func (n *Notifier) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.subscribers = append(n.subscribers, ch)
	return ch
}

// Notify wakes every subscriber, dropping the notification for any
// subscriber whose channel is already full.
func (n *Notifier) Notify() {
	for _, ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
