package radio

import (
	"testing"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestKeyForFallsBackToDefaultKey(t *testing.T) {
	k := NewKeyRing()
	require.Equal(t, DefaultKey, k.KeyFor("UnknownChannel"))
}

func TestSetKeyOverridesChannel(t *testing.T) {
	k := NewKeyRing()
	custom := []byte{0x01, 0x02}
	k.SetKey("Custom", custom)
	require.Equal(t, custom, k.KeyFor("Custom"))
	require.Equal(t, DefaultKey, k.KeyFor("LongFast"))
}

func TestKeyRingTryDecodeDecryptsWithChannelKey(t *testing.T) {
	k := NewKeyRing()
	data := &meshtastic.Data{Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP, Payload: []byte("hi")}
	plaintext, err := proto.Marshal(data)
	require.NoError(t, err)

	ciphertext, err := XOR(plaintext, DefaultKey, 7, 0x42)
	require.NoError(t, err)

	pkt := &meshtastic.MeshPacket{
		Id:   7,
		From: 0x42,
		PayloadVariant: &meshtastic.MeshPacket_Encrypted{
			Encrypted: ciphertext,
		},
	}

	decoded, err := k.TryDecode(pkt, "LongFast")
	require.NoError(t, err)
	require.Equal(t, meshtastic.PortNum_TEXT_MESSAGE_APP, decoded.GetPortnum())
	require.Equal(t, "hi", string(decoded.GetPayload()))
}
