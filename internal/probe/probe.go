// Package probe selects which node the runtime's traceroute-probe timer
// should target next: a recently RF-heard node whose hop count we have
// never recorded, preferring a wider search window only once a narrower
// one comes up empty.
package probe

import (
	"context"
	"math/rand"
	"time"

	"github.com/meshenger/gateway/internal/cooldown"
	"github.com/meshenger/gateway/internal/store"
)

// Windows are the candidate-pool sizes tried in order, widest search last.
var Windows = []int{10, 25, 50, 100}

// Selector picks the next traceroute probe target.
type Selector struct {
	st        *store.Store
	myNodeID  uint32
	cooldowns *cooldown.Tracker
	cooldown  time.Duration
	lookback  time.Duration
}

// NewSelector builds a Selector. lookback bounds how far back "recently
// RF-heard" looks; cooldownDuration is the minimum gap between probes
// aimed at the same target.
func NewSelector(st *store.Store, myNodeID uint32, cooldowns *cooldown.Tracker, cooldownDuration, lookback time.Duration) *Selector {
	return &Selector{st: st, myNodeID: myNodeID, cooldowns: cooldowns, cooldown: cooldownDuration, lookback: lookback}
}

// SelectNext returns a probe target and true, or ok=false if no eligible
// candidate exists in any window right now.
func (s *Selector) SelectNext(ctx context.Context, now time.Time) (uint32, bool, error) {
	since := now.Add(-s.lookback).Unix()
	excluded := s.myNodeID

	for _, window := range Windows {
		candidates, err := s.st.RecentRFNodesMissingHops(ctx, since, &excluded, window)
		if err != nil {
			return 0, false, err
		}
		eligible := make([]uint32, 0, len(candidates))
		for _, id := range candidates {
			if s.cooldowns.CanSend(id, s.cooldown) {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) > 0 {
			target := eligible[rand.Intn(len(eligible))]
			s.cooldowns.MarkSent(target)
			return target, true, nil
		}
	}
	return 0, false, nil
}
