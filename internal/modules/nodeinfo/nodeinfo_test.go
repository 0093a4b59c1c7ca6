package nodeinfo

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testContext() meshmsg.MessageContext {
	return meshmsg.MessageContext{SenderID: 0x12345678, SenderName: "TestNode", IsDM: true}
}

func TestNodesEmpty(t *testing.T) {
	m := New()
	st := newTestStore(t)

	responses, err := m.HandleCommand(context.Background(), "nodes", "", testContext(), st)
	require.NoError(t, err)
	require.Equal(t, "Nodes seen: 0", responses[0].Text)
}

func TestNodesWithData(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertNode(ctx, 0xaabbccdd, "ABCD", "Alice's Node", false, 1)
	require.NoError(t, err)
	_, err = st.UpsertNode(ctx, 0x11223344, "EFGH", "Bob's Node", false, 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "nodes", "", testContext(), st)
	require.NoError(t, err)
	text := responses[0].Text
	require.True(t, strings.HasPrefix(text, "Nodes seen: 2"))
	require.Contains(t, text, "!aabbccdd")
	require.Contains(t, text, "Alice's Node")
	require.Contains(t, text, "!11223344")
	require.Contains(t, text, "Bob's Node")
}

func TestNodesWithCountArgument(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	for i := uint32(0); i < 10; i++ {
		_, err := st.UpsertNode(ctx, i, fmt.Sprintf("N%d", i), fmt.Sprintf("Node %d", i), false, int64(i)+1)
		require.NoError(t, err)
	}

	responses, err := m.HandleCommand(ctx, "nodes", "3", testContext(), st)
	require.NoError(t, err)
	text := responses[0].Text
	require.True(t, strings.HasPrefix(text, "Nodes seen: 10"))
	require.Contains(t, text, "...and 7 more")
	require.Equal(t, 5, len(strings.Split(text, "\n")))
}

func TestNodesMaxCountCapped(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	for i := uint32(0); i < 25; i++ {
		_, err := st.UpsertNode(ctx, i, fmt.Sprintf("N%d", i), fmt.Sprintf("Node %d", i), false, int64(i)+1)
		require.NoError(t, err)
	}

	responses, err := m.HandleCommand(ctx, "nodes", "100", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "...and 5 more")
}

func TestNodesPrefersLongName(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertNode(ctx, 0x12345678, "SHORT", "Long Name Here", false, 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "nodes", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "Long Name Here")
	require.NotContains(t, responses[0].Text, "SHORT")
}

func TestNodesFallsBackToShortName(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertNode(ctx, 0x12345678, "SHORT", "", false, 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "nodes", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "SHORT")
}

func TestNodesUnknownWhenNoName(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertNode(ctx, 0x12345678, "", "", false, 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "nodes", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "unknown")
}

func TestNodesIncludesHopsWhenAvailable(t *testing.T) {
	m := New()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertNode(ctx, 0x12345678, "N1", "Node 1", false, 1)
	require.NoError(t, err)
	hopCount := uint32(3)
	hopStart := uint32(7)
	_, err = st.LogPacketWithMeshID(ctx, store.PacketParams{
		FromNode: 0x12345678, Direction: store.DirectionIn, Text: "hi", PacketType: "text",
		HopCount: &hopCount, HopStart: &hopStart,
	})
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "nodes", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "hops 3")
}

func TestNodeInfoMetadata(t *testing.T) {
	m := New()
	require.Equal(t, "nodes", m.Name())
	require.Equal(t, []string{"nodes"}, m.Commands())
	require.Equal(t, meshmsg.ScopeBoth, m.Scope())
}
