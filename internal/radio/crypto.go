package radio

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// XOR decrypts (or encrypts, being a stream cipher) Meshtastic's
// channel-encrypted packet payload using AES in CTR mode. The 16-byte
// nonce is the packet ID as a little-endian uint64 followed by the
// sending node's number as a little-endian uint32 and four zero bytes,
// per the Meshtastic wire protocol.
func XOR(ciphertext, key []byte, packetID uint32, fromNode uint32) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct aes cipher: %w", err)
	}

	nonce := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:12], fromNode)

	out := make([]byte, len(ciphertext))
	stream := cipher.NewCTR(block, nonce)
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}
