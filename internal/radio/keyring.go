package radio

import "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

// KeyRing tracks the decryption key configured for each channel name the
// gateway is bridging, falling back to DefaultKey for channels it has no
// explicit entry for.
type KeyRing struct {
	keys map[string][]byte
}

// NewKeyRing returns a KeyRing seeded with Meshtastic's three standard
// preset channel names, all using DefaultKey until overridden.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: map[string][]byte{
		"LongFast":  DefaultKey,
		"LongSlow":  DefaultKey,
		"VLongSlow": DefaultKey,
	}}
}

// SetKey registers the decryption key for a named channel.
func (k *KeyRing) SetKey(channelName string, key []byte) {
	k.keys[channelName] = key
}

// KeyFor returns the configured key for a channel, or DefaultKey if none
// has been set.
func (k *KeyRing) KeyFor(channelName string) []byte {
	if key, ok := k.keys[channelName]; ok {
		return key
	}
	return DefaultKey
}

// TryDecode decodes packet using the key registered for channelName.
func (k *KeyRing) TryDecode(packet *meshtastic.MeshPacket, channelName string) (*meshtastic.Data, error) {
	return TryDecode(packet, k.KeyFor(channelName))
}
