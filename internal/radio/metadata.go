package radio

import "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

// Metadata is the RF-layer information a MeshPacket carries alongside its
// payload: signal quality and how many hops it traveled.
type Metadata struct {
	RSSI     *int32
	SNR      *float32
	HopCount *uint32
	HopStart *uint32
}

// ExtractMetadata reads the RF fields off a MeshPacket. RSSI of 0 and SNR
// of 0 are both valid readings on real hardware, so both are reported
// whenever the packet's hop_start is present (the surest signal that this
// copy came in over RF rather than being synthesized locally or relayed
// over MQTT, where these fields are typically zeroed).
func ExtractMetadata(packet *meshtastic.MeshPacket) Metadata {
	var m Metadata
	hopStart := packet.GetHopStart()
	hopLimit := packet.GetHopLimit()

	if hopStart > 0 {
		start := hopStart
		m.HopStart = &start
		limit := hopLimit
		m.HopCount = hopCountFrom(start, limit)

		rssi := packet.GetRxRssi()
		m.RSSI = &rssi
		snr := packet.GetRxSnr()
		m.SNR = &snr
	}
	return m
}

// hopCountFrom derives how many hops a packet has actually taken from the
// radio-reported start and remaining-limit counters: hop_start is set once
// by the originator, and hop_limit is decremented by each relay.
func hopCountFrom(hopStart, hopLimit uint32) *uint32 {
	if hopLimit > hopStart {
		return nil
	}
	count := hopStart - hopLimit
	return &count
}
