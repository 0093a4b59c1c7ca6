// Package startup tracks the connection epoch and buffers MeshEvents
// deferred during the initial grace period after connect.
package startup

import (
	"sync"
	"time"

	"github.com/meshenger/gateway/internal/meshmsg"
)

type State struct {
	mu          sync.Mutex
	connectedAt *time.Time
	deferred    []meshmsg.MeshEvent
	nowFunc     func() time.Time
}

func New() *State {
	return &State{nowFunc: time.Now}
}

// MarkConnectedAndReset records the current time as the connection epoch and
// discards any previously deferred events (they belonged to a prior connection).
func (s *State) MarkConnectedAndReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	s.connectedAt = &now
	s.deferred = nil
}

// InGracePeriod reports whether we are still within graceSecs of the last
// MarkConnectedAndReset call.
func (s *State) InGracePeriod(grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectedAt == nil {
		return false
	}
	return s.nowFunc().Sub(*s.connectedAt) < grace
}

// DeferEvent appends event to the pending queue, preserving arrival order.
func (s *State) DeferEvent(event meshmsg.MeshEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, event)
}

// TakeDeferred atomically drains and returns all deferred events, in the
// order they were deferred.
func (s *State) TakeDeferred() []meshmsg.MeshEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.deferred
	s.deferred = nil
	return events
}
