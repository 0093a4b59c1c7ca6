package store

import (
	"context"
)

// PacketParams are the fields of an observed or self-originated packet, as
// passed by the incoming handler or the outgoing queue's send timer.
type PacketParams struct {
	Timestamp    int64
	FromNode     uint32
	ToNode       *uint32
	Channel      uint32
	Text         string
	Direction    PacketDirection
	ViaMQTT      bool
	RSSI         *int32
	SNR          *float32
	HopCount     *uint32
	HopStart     *uint32
	MeshPacketID *uint32
	PacketType   string
}

// LogPacketWithMeshID records one packet and returns its row ID, so callers
// (the traceroute correlator) can reference it from a session row.
func (s *Store) LogPacketWithMeshID(ctx context.Context, p PacketParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO packets (timestamp, from_node, to_node, channel, text, direction, via_mqtt,
		                      rssi, snr, hop_count, hop_start, mesh_packet_id, packet_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Timestamp, p.FromNode, p.ToNode, p.Channel, p.Text, string(p.Direction), boolToInt(p.ViaMQTT),
		p.RSSI, p.SNR, p.HopCount, p.HopStart, p.MeshPacketID, p.PacketType)
	if err != nil {
		return 0, wrap("log packet", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("log packet: last insert id", err)
}

// RecentRFNodesMissingHops returns, most-recently-seen first, up to limit
// node IDs that sent an RF (non-MQTT) inbound packet within the lookback
// window but whose hop_count has never been recorded — the probe
// selector's candidate pool.
func (s *Store) RecentRFNodesMissingHops(ctx context.Context, sinceTimestamp int64, excludeNode *uint32, limit int) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.from_node FROM packets p
		WHERE p.direction = ? AND p.via_mqtt = 0 AND p.timestamp >= ?
		  AND (? IS NULL OR p.from_node != ?)
		  AND NOT EXISTS (
		    SELECT 1 FROM packets h
		    WHERE h.from_node = p.from_node AND h.direction = ? AND h.via_mqtt = 0
		      AND h.hop_count IS NOT NULL)
		GROUP BY p.from_node
		ORDER BY MAX(p.timestamp) DESC
		LIMIT ?`,
		string(DirectionIn), sinceTimestamp, excludeNode, excludeNode, string(DirectionIn), limit)
	if err != nil {
		return nil, wrap("recent rf nodes missing hops", err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("recent rf nodes missing hops: scan", err)
		}
		out = append(out, id)
	}
	return out, wrap("recent rf nodes missing hops: rows", rows.Err())
}

// MessageCount returns the number of logged packets in the given direction
// whose packet_type is "text".
func (s *Store) MessageCount(ctx context.Context, direction PacketDirection) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packets WHERE direction = ? AND packet_type = 'text'`, string(direction)).Scan(&n)
	return n, wrap("message count", err)
}

// PacketCount returns the total number of logged packets in the given
// direction, of any type.
func (s *Store) PacketCount(ctx context.Context, direction PacketDirection) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packets WHERE direction = ?`, string(direction)).Scan(&n)
	return n, wrap("packet count", err)
}
