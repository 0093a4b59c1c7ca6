package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertNodeInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	isNew, err := s.UpsertNode(ctx, 42, "ABC", "Alice's Beacon Cairn", false, 1000)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = s.UpsertNode(ctx, 42, "", "", true, 2000)
	require.NoError(t, err)
	require.False(t, isNew)

	n, err := s.GetNode(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, "Alice's Beacon Cairn", n.LongName)
	require.EqualValues(t, 2000, n.LastSeen)
	require.True(t, n.ViaMQTT)
}

func TestUpsertNodeKeepsNamesWhenObservationCarriesNone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertNode(ctx, 7, "Foo", "Foo Long", false, 1)
	require.NoError(t, err)
	_, err = s.UpsertNode(ctx, 7, "", "", false, 2)
	require.NoError(t, err)

	n, err := s.GetNode(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Foo", n.ShortName)
	require.Equal(t, "Foo Long", n.LongName)
}

func TestUpdatePositionAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertNode(ctx, 1, "N1", "Node One", false, 100)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePosition(ctx, 1, 45.5, -122.6))

	n, err := s.GetNode(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, n.Latitude)
	require.InDelta(t, 45.5, *n.Latitude, 0.0001)

	removed, err := s.PurgeNodesNotSeenWithin(ctx, 200)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	n, err = s.GetNode(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestMailUnreadCountMarkReadAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.StoreMail(ctx, 1, 2, "hello", 10)
	require.NoError(t, err)
	_, err = s.StoreMail(ctx, 1, 2, "world", 20)
	require.NoError(t, err)

	count, err := s.CountUnreadMail(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	msgs, err := s.UnreadMail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Body)

	require.NoError(t, s.MarkMailRead(ctx, 2, []int64{id1}))
	count, err = s.CountUnreadMail(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	// Marking mail owned by a different recipient is a no-op, not an error.
	require.NoError(t, s.MarkMailRead(ctx, 999, []int64{id1}))

	require.Error(t, s.DeleteMail(ctx, 999, id1))
	require.NoError(t, s.DeleteMail(ctx, 2, id1))
}

func TestMessageAndPacketCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LogPacketWithMeshID(ctx, PacketParams{
		Timestamp: 1, FromNode: 1, Channel: 0, Text: "hi", Direction: DirectionIn, PacketType: "text",
	})
	require.NoError(t, err)
	_, err = s.LogPacketWithMeshID(ctx, PacketParams{
		Timestamp: 2, FromNode: 1, Channel: 0, Direction: DirectionIn, PacketType: "telemetry",
	})
	require.NoError(t, err)

	msgCount, err := s.MessageCount(ctx, DirectionIn)
	require.NoError(t, err)
	require.EqualValues(t, 1, msgCount)

	pktCount, err := s.PacketCount(ctx, DirectionIn)
	require.NoError(t, err)
	require.EqualValues(t, 2, pktCount)
}

// TestTracerouteSessionMergeRequestThenResponse exercises the merge rule
// for a request leg observed first and a matching response leg observed
// later under the same trace key: status should move from "observed" to
// "complete" and both legs' hop lists should be retrievable.
func TestTracerouteSessionMergeRequestThenResponse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dst := uint32(99)

	reqHops := []uint32{10, 20}
	err := s.LogTracerouteObservation(ctx, TracerouteObservation{
		TraceKey: "req:1:99:555", SrcNode: 1, DstNode: &dst, Direction: HopDirectionRequest,
		Hops: reqHops, ObservedAt: 100,
	})
	require.NoError(t, err)

	sessBefore, err := s.scanSessionByKey(ctx, "req:1:99:555")
	require.NoError(t, err)
	require.Equal(t, StatusObserved, sessBefore.Status)
	require.EqualValues(t, 1, sessBefore.SampleCount)

	respHops := []uint32{20, 10}
	err = s.LogTracerouteObservation(ctx, TracerouteObservation{
		TraceKey: "req:1:99:555", SrcNode: 1, DstNode: &dst, Direction: HopDirectionResponse,
		Hops: respHops, ObservedAt: 105,
	})
	require.NoError(t, err)

	sessAfter, err := s.scanSessionByKey(ctx, "req:1:99:555")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, sessAfter.Status)
	require.EqualValues(t, 2, sessAfter.SampleCount)
	require.EqualValues(t, 105, sessAfter.LastSeen)

	hops, err := s.GetTracerouteHops(ctx, sessAfter.ID, HopDirectionRequest)
	require.NoError(t, err)
	require.Len(t, hops, 2)
	require.EqualValues(t, 10, hops[0].NodeID)
	require.EqualValues(t, 20, hops[1].NodeID)
}

// TestTracerouteSessionReplacesHopsOnRepeatObservation checks that a second
// observation of the same leg replaces its hop rows instead of appending to
// them, since RouteDiscovery always reports the full path.
func TestTracerouteSessionReplacesHopsOnRepeatObservation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.LogTracerouteObservation(ctx, TracerouteObservation{
		TraceKey: "req:1:2:1", SrcNode: 1, Direction: HopDirectionRequest,
		Hops: []uint32{5}, ObservedAt: 1,
	})
	require.NoError(t, err)
	err = s.LogTracerouteObservation(ctx, TracerouteObservation{
		TraceKey: "req:1:2:1", SrcNode: 1, Direction: HopDirectionRequest,
		Hops: []uint32{5, 6, 7}, ObservedAt: 2,
	})
	require.NoError(t, err)

	sess, err := s.scanSessionByKey(ctx, "req:1:2:1")
	require.NoError(t, err)
	require.Equal(t, StatusPartial, sess.Status)

	hops, err := s.GetTracerouteHops(ctx, sess.ID, HopDirectionRequest)
	require.NoError(t, err)
	require.Len(t, hops, 3)
}

func TestFindTracerouteSessionByRequestMeshID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	meshID := uint32(4242)
	pktID, err := s.LogPacketWithMeshID(ctx, PacketParams{
		Timestamp: 50, FromNode: 1, Direction: DirectionOut, PacketType: "traceroute", MeshPacketID: &meshID,
	})
	require.NoError(t, err)

	err = s.LogTracerouteObservation(ctx, TracerouteObservation{
		TraceKey: "req:1:2:4242", SrcNode: 1, Direction: HopDirectionRequest,
		Hops: []uint32{3}, PacketID: &pktID, ObservedAt: 50,
	})
	require.NoError(t, err)

	ref, err := s.FindTracerouteSessionByRequestMeshID(ctx, meshID, 0)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "req:1:2:4242", ref.TraceKey)

	missing, err := s.FindTracerouteSessionByRequestMeshID(ctx, 9999, 0)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// scanSessionByKey is a small test helper wrapping the package-private
// scanSession query by trace_key instead of ID.
func (s *Store) scanSessionByKey(ctx context.Context, key string) (*TracerouteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanSession(ctx, `SELECT id, trace_key, first_seen, last_seen, src_node, dst_node, via_mqtt,
		request_hops, request_hop_start, response_hops, response_hop_start,
		request_packet_id, response_packet_id, status, sample_count
		FROM traceroute_sessions WHERE trace_key = ?`, key)
}
