package store

import "context"

// Overview is the dashboard's top-of-page summary.
type Overview struct {
	NodeCount           uint64
	PacketsIn           uint64
	PacketsOut          uint64
	TracerouteSessions  uint64
	TracerouteComplete  uint64
	UnreadMailTotal     uint64
}

// Overview aggregates the counters a dashboard landing page needs in one
// round trip.
func (s *Store) Overview(ctx context.Context) (Overview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o Overview
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&o.NodeCount); err != nil {
		return o, wrap("overview: nodes", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets WHERE direction = ?`, string(DirectionIn)).Scan(&o.PacketsIn); err != nil {
		return o, wrap("overview: packets in", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets WHERE direction = ?`, string(DirectionOut)).Scan(&o.PacketsOut); err != nil {
		return o, wrap("overview: packets out", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traceroute_sessions`).Scan(&o.TracerouteSessions); err != nil {
		return o, wrap("overview: sessions", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traceroute_sessions WHERE status = ?`, string(StatusComplete)).Scan(&o.TracerouteComplete); err != nil {
		return o, wrap("overview: complete sessions", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mail WHERE read = 0`).Scan(&o.UnreadMailTotal); err != nil {
		return o, wrap("overview: unread mail", err)
	}
	return o, nil
}

// ThroughputBucket is one time-bucketed packet count, for a dashboard
// sparkline.
type ThroughputBucket struct {
	BucketStart int64
	In          uint64
	Out         uint64
}

// Throughput buckets packet counts into bucketSecs-wide windows covering
// the last sinceTimestamp..now, oldest bucket first.
func (s *Store) Throughput(ctx context.Context, sinceTimestamp int64, bucketSecs int64) ([]ThroughputBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT (timestamp / ?) * ? AS bucket, direction, COUNT(*)
		FROM packets
		WHERE timestamp >= ?
		GROUP BY bucket, direction
		ORDER BY bucket ASC`, bucketSecs, bucketSecs, sinceTimestamp)
	if err != nil {
		return nil, wrap("throughput", err)
	}
	defer rows.Close()

	byBucket := make(map[int64]*ThroughputBucket)
	var order []int64
	for rows.Next() {
		var bucket int64
		var direction string
		var count uint64
		if err := rows.Scan(&bucket, &direction, &count); err != nil {
			return nil, wrap("throughput: scan", err)
		}
		b, ok := byBucket[bucket]
		if !ok {
			b = &ThroughputBucket{BucketStart: bucket}
			byBucket[bucket] = b
			order = append(order, bucket)
		}
		if direction == string(DirectionIn) {
			b.In = count
		} else {
			b.Out = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("throughput: rows", err)
	}

	out := make([]ThroughputBucket, 0, len(order))
	for _, bucket := range order {
		out = append(out, *byBucket[bucket])
	}
	return out, nil
}

// HistogramBucket is one (label, count) pair for an RSSI/SNR/hop-count
// distribution chart.
type HistogramBucket struct {
	Label string
	Count uint64
}

// RSSIDistribution buckets inbound packets' RSSI into 10 dBm-wide bands.
func (s *Store) RSSIDistribution(ctx context.Context) ([]HistogramBucket, error) {
	return s.histogram(ctx, `
		SELECT CAST((rssi / 10) * 10 AS TEXT), COUNT(*)
		FROM packets WHERE direction = ? AND rssi IS NOT NULL
		GROUP BY (rssi / 10) ORDER BY (rssi / 10) ASC`, string(DirectionIn))
}

// SNRDistribution buckets inbound packets' SNR into whole-dB bands.
func (s *Store) SNRDistribution(ctx context.Context) ([]HistogramBucket, error) {
	return s.histogram(ctx, `
		SELECT CAST(CAST(snr AS INTEGER) AS TEXT), COUNT(*)
		FROM packets WHERE direction = ? AND snr IS NOT NULL
		GROUP BY CAST(snr AS INTEGER) ORDER BY CAST(snr AS INTEGER) ASC`, string(DirectionIn))
}

// HopsDistribution buckets inbound packets by recorded hop count.
func (s *Store) HopsDistribution(ctx context.Context) ([]HistogramBucket, error) {
	return s.histogram(ctx, `
		SELECT CAST(hop_count AS TEXT), COUNT(*)
		FROM packets WHERE direction = ? AND hop_count IS NOT NULL
		GROUP BY hop_count ORDER BY hop_count ASC`, string(DirectionIn))
}

func (s *Store) histogram(ctx context.Context, query string, args ...any) ([]HistogramBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("histogram", err)
	}
	defer rows.Close()

	var out []HistogramBucket
	for rows.Next() {
		var b HistogramBucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, wrap("histogram: scan", err)
		}
		out = append(out, b)
	}
	return out, wrap("histogram: rows", rows.Err())
}

// DestinationSummary is one row of the dashboard's per-destination traffic
// breakdown.
type DestinationSummary struct {
	NodeID      uint32
	PacketCount uint64
	LastSeen    int64
}

// TopDestinations returns the nodes we have sent the most outbound packets
// to, most-traffic first.
func (s *Store) TopDestinations(ctx context.Context, limit int) ([]DestinationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_node, COUNT(*), MAX(timestamp)
		FROM packets
		WHERE direction = ? AND to_node IS NOT NULL
		GROUP BY to_node
		ORDER BY COUNT(*) DESC
		LIMIT ?`, string(DirectionOut), limit)
	if err != nil {
		return nil, wrap("top destinations", err)
	}
	defer rows.Close()

	var out []DestinationSummary
	for rows.Next() {
		var d DestinationSummary
		if err := rows.Scan(&d.NodeID, &d.PacketCount, &d.LastSeen); err != nil {
			return nil, wrap("top destinations: scan", err)
		}
		out = append(out, d)
	}
	return out, wrap("top destinations: rows", rows.Err())
}
