package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshenger/gateway/internal/cooldown"
	"github.com/meshenger/gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func logInboundRF(t *testing.T, s *store.Store, from uint32, ts int64) {
	t.Helper()
	_, err := s.LogPacketWithMeshID(context.Background(), store.PacketParams{
		Timestamp:  ts,
		FromNode:   from,
		Channel:    0,
		Text:       "hi",
		Direction:  store.DirectionIn,
		ViaMQTT:    false,
		PacketType: "text",
	})
	require.NoError(t, err)
}

func TestSelectNextPicksRecentlyHeardNodeMissingHops(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(10_000, 0)
	logInboundRF(t, s, 0x42, now.Add(-time.Minute).Unix())

	sel := NewSelector(s, 0x1, cooldown.New(), time.Hour, time.Hour)
	target, ok, err := sel.SelectNext(context.Background(), now)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0x42, target)
}

func TestSelectNextExcludesSelf(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(10_000, 0)
	logInboundRF(t, s, 0x1, now.Add(-time.Minute).Unix())

	sel := NewSelector(s, 0x1, cooldown.New(), time.Hour, time.Hour)
	_, ok, err := sel.SelectNext(context.Background(), now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectNextRespectsCooldown(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(10_000, 0)
	logInboundRF(t, s, 0x42, now.Add(-time.Minute).Unix())

	cooldowns := cooldown.New()
	sel := NewSelector(s, 0x1, cooldowns, time.Hour, time.Hour)

	_, ok, err := sel.SelectNext(context.Background(), now)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = sel.SelectNext(context.Background(), now)
	require.NoError(t, err)
	require.False(t, ok, "target is on cooldown immediately after being selected")
}

func TestSelectNextIgnoresStaleObservations(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(10_000, 0)
	logInboundRF(t, s, 0x42, now.Add(-2*time.Hour).Unix())

	sel := NewSelector(s, 0x1, cooldown.New(), time.Hour, time.Hour)
	_, ok, err := sel.SelectNext(context.Background(), now)
	require.NoError(t, err)
	require.False(t, ok)
}
