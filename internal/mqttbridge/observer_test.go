package mqttbridge

import (
	"context"
	"testing"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/meshenger/gateway/internal/bridge"
	"github.com/meshenger/gateway/internal/radio"
	"github.com/meshenger/gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func envelopeFor(t *testing.T, from uint32, channel uint32, data *meshtastic.Data) []byte {
	t.Helper()
	env := &meshtastic.ServiceEnvelope{
		Packet: &meshtastic.MeshPacket{
			From:    from,
			Channel: channel,
			PayloadVariant: &meshtastic.MeshPacket_Decoded{
				Decoded: data,
			},
		},
	}
	payload, err := proto.Marshal(env)
	require.NoError(t, err)
	return payload
}

func TestTryHandleMessagePublishesTextToBridgeHub(t *testing.T) {
	st := newTestStore(t)
	hub := bridge.NewHub(1, 1)
	o := NewObserver(nil, radio.NewKeyRing(), "LongFast", st, hub, func() int64 { return 1000 })

	payload := envelopeFor(t, 0x42, 0, &meshtastic.Data{
		Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte("hello from mqtt"),
	})

	require.NoError(t, o.tryHandleMessage(Message{Topic: "msh/2/e/LongFast/!gw", Payload: payload}))

	msg := <-hub.MeshMessages()
	require.Equal(t, "hello from mqtt", msg.Text)
	require.EqualValues(t, 0x42, msg.FromNode)
}

func TestTryHandleMessageSkipsBridgeMarkedText(t *testing.T) {
	st := newTestStore(t)
	hub := bridge.NewHub(1, 1)
	o := NewObserver(nil, radio.NewKeyRing(), "LongFast", st, hub, func() int64 { return 1000 })

	payload := envelopeFor(t, 0x42, 0, &meshtastic.Data{
		Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte(bridge.MarkerTelegram + "alice] hi"),
	})

	require.NoError(t, o.tryHandleMessage(Message{Payload: payload}))

	select {
	case <-hub.MeshMessages():
		t.Fatal("bridge-marked text should not be re-published to the hub")
	default:
	}
}

func TestTryHandleMessageUpsertsNodeInfo(t *testing.T) {
	st := newTestStore(t)
	hub := bridge.NewHub(1, 1)
	o := NewObserver(nil, radio.NewKeyRing(), "LongFast", st, hub, func() int64 { return 1000 })

	user := &meshtastic.User{LongName: "Alice", ShortName: "ALI"}
	userPayload, err := proto.Marshal(user)
	require.NoError(t, err)

	payload := envelopeFor(t, 0x42, 0, &meshtastic.Data{
		Portnum: meshtastic.PortNum_NODEINFO_APP,
		Payload: userPayload,
	})

	require.NoError(t, o.tryHandleMessage(Message{Payload: payload}))

	node, err := st.GetNode(context.Background(), 0x42)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, "Alice", node.LongName)
	require.True(t, node.ViaMQTT)
}

func TestTryHandleMessageRejectsMissingPacket(t *testing.T) {
	st := newTestStore(t)
	hub := bridge.NewHub(1, 1)
	o := NewObserver(nil, radio.NewKeyRing(), "LongFast", st, hub, func() int64 { return 1000 })

	payload, err := proto.Marshal(&meshtastic.ServiceEnvelope{})
	require.NoError(t, err)

	require.Error(t, o.tryHandleMessage(Message{Payload: payload}))
}
