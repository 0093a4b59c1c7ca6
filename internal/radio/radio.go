// Package radio decodes Meshtastic MeshPacket payloads: decrypting
// channel-encrypted packets, extracting RF metadata (RSSI, SNR, hop
// counters), and computing channel hashes for key-guessing on MQTT feeds.
package radio

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"
)

// DefaultKey is Meshtastic's well-known default channel PSK, commonly
// referenced by clients as "AQ==".
var DefaultKey = []byte{0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59, 0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01}

// ParseKey converts a channel key's URL-safe base64 representation to raw bytes.
func ParseKey(key string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(key)
}

// GenerateByteSlices produces every single-byte-distinguished 128/192/256-bit
// AES key: 256 keys of each length, with only the final byte varying. MQTT
// feeds carry no PSK, so when a topic's channel name is unknown, trying this
// set against the first packet on it will recover the key if it's one of
// Meshtastic's common single-byte-suffix PSKs.
func GenerateByteSlices() [][]byte {
	allSlices := make([][]byte, 256*3)
	for i := 0; i < 256; i++ {
		slice16 := make([]byte, 16)
		slice16[15] = byte(i)
		allSlices[i] = slice16

		slice24 := make([]byte, 24)
		slice24[23] = byte(i)
		allSlices[i+256] = slice24

		slice32 := make([]byte, 32)
		slice32[31] = byte(i)
		allSlices[i+512] = slice32
	}
	return allSlices
}

func xorHash(p []byte) uint8 {
	var code uint8
	for _, b := range p {
		code ^= b
	}
	return code
}

// ChannelHash returns the hash Meshtastic uses to route a packet to the
// right channel slot, derived by XORing the channel name and PSK.
func ChannelHash(channelName string, channelKey []byte) (uint32, error) {
	if len(channelKey) == 0 {
		return 0, fmt.Errorf("channel key cannot be empty")
	}
	h := xorHash([]byte(channelName))
	h ^= xorHash(channelKey)
	return uint32(h), nil
}

// TryDecode returns a packet's Data payload, decrypting with key first if
// the packet arrived encrypted.
func TryDecode(packet *meshtastic.MeshPacket, key []byte) (*meshtastic.Data, error) {
	switch packet.GetPayloadVariant().(type) {
	case *meshtastic.MeshPacket_Decoded:
		return packet.GetDecoded(), nil
	case *meshtastic.MeshPacket_Encrypted:
		decrypted, err := XOR(packet.GetEncrypted(), key, packet.Id, packet.From)
		if err != nil {
			log.Warn("failed decrypting packet", "err", err)
			return nil, ErrDecrypt
		}
		var data meshtastic.Data
		if err := proto.Unmarshal(decrypted, &data); err != nil {
			log.Warn("failed to unmarshal decrypted packet", "err", err, "plaintext_hex", hex.EncodeToString(decrypted))
			return nil, ErrDecrypt
		}
		return &data, nil
	default:
		return nil, ErrUnknownPayloadType
	}
}
