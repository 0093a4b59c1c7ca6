package store

import (
	"context"
	"database/sql"
)

// UpsertNode records that nodeID was heard at seenAt, updating its names if
// non-empty and its via_mqtt flag to the latest observation. Returns
// whether the node was previously unknown.
func (s *Store) UpsertNode(ctx context.Context, nodeID uint32, shortName, longName string, viaMQTT bool, seenAt int64) (isNew bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("upsert node: begin", err)
	}
	defer tx.Rollback()

	var firstSeen int64
	err = tx.QueryRowContext(ctx, `SELECT first_seen FROM nodes WHERE node_id = ?`, nodeID).Scan(&firstSeen)
	switch {
	case err == sql.ErrNoRows:
		isNew = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (node_id, short_name, long_name, first_seen, last_seen, via_mqtt)
			VALUES (?, ?, ?, ?, ?, ?)`,
			nodeID, shortName, longName, seenAt, seenAt, boolToInt(viaMQTT))
		if err != nil {
			return false, wrap("upsert node: insert", err)
		}
	case err != nil:
		return false, wrap("upsert node: select", err)
	default:
		// Keep existing names when the new observation carries none (e.g. a
		// bare RF packet with no accompanying User payload).
		if shortName == "" && longName == "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET last_seen = ?, via_mqtt = ? WHERE node_id = ?`,
				seenAt, boolToInt(viaMQTT), nodeID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET short_name = COALESCE(NULLIF(?, ''), short_name),
				                 long_name = COALESCE(NULLIF(?, ''), long_name),
				                 last_seen = ?, via_mqtt = ?
				WHERE node_id = ?`,
				shortName, longName, seenAt, boolToInt(viaMQTT), nodeID)
		}
		if err != nil {
			return false, wrap("upsert node: update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrap("upsert node: commit", err)
	}
	return isNew, nil
}

// UpdatePosition records a node's latest reported coordinates.
func (s *Store) UpdatePosition(ctx context.Context, nodeID uint32, lat, lon float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET latitude = ?, longitude = ? WHERE node_id = ?`, lat, lon, nodeID)
	return wrap("update position", err)
}

// MarkWelcomed stamps the node's last_welcomed time so the welcome module
// does not resend its greeting on every subsequent packet.
func (s *Store) MarkWelcomed(ctx context.Context, nodeID uint32, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET last_welcomed = ? WHERE node_id = ?`, at, nodeID)
	return wrap("mark welcomed", err)
}

// LastWelcomed returns the node's last_welcomed timestamp, if any.
func (s *Store) LastWelcomed(ctx context.Context, nodeID uint32) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_welcomed FROM nodes WHERE node_id = ?`, nodeID).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last welcomed", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}

// PurgeNodesNotSeenWithin deletes nodes whose last_seen predates the given
// cutoff, returning the number of rows removed.
func (s *Store) PurgeNodesNotSeenWithin(ctx context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, wrap("purge stale nodes", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("purge stale nodes: rows affected", err)
}

// GetNodeName returns the best available display name for nodeID: long
// name if set, else short name, else a "!hex" fallback the caller can
// format from the ID itself (empty string signals "unknown node").
func (s *Store) GetNodeName(ctx context.Context, nodeID uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var short, long string
	err := s.db.QueryRowContext(ctx,
		`SELECT short_name, long_name FROM nodes WHERE node_id = ?`, nodeID).Scan(&short, &long)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrap("get node name", err)
	}
	if long != "" {
		return long, nil
	}
	return short, nil
}

// FindNodeByName looks up a node ID by exact short or long name match.
func (s *Store) FindNodeByName(ctx context.Context, name string) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id uint32
	err := s.db.QueryRowContext(ctx,
		`SELECT node_id FROM nodes WHERE short_name = ? OR long_name = ? LIMIT 1`, name, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("find node by name", err)
	}
	return id, true, nil
}

// NodeCount returns the total number of distinct nodes ever recorded.
func (s *Store) NodeCount(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n)
	return n, wrap("node count", err)
}

// GetNode returns the full row for nodeID, if known.
func (s *Store) GetNode(ctx context.Context, nodeID uint32) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n Node
	var lat, lon sql.NullFloat64
	var welcomed sql.NullInt64
	var viaMQTT int
	err := s.db.QueryRowContext(ctx, `
		SELECT node_id, short_name, long_name, first_seen, last_seen, last_welcomed, latitude, longitude, via_mqtt
		FROM nodes WHERE node_id = ?`, nodeID).Scan(
		&n.NodeID, &n.ShortName, &n.LongName, &n.FirstSeen, &n.LastSeen, &welcomed, &lat, &lon, &viaMQTT)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get node", err)
	}
	if welcomed.Valid {
		n.LastWelcomed = &welcomed.Int64
	}
	if lat.Valid {
		n.Latitude = &lat.Float64
	}
	if lon.Valid {
		n.Longitude = &lon.Float64
	}
	n.ViaMQTT = viaMQTT != 0
	return &n, nil
}

// GetRecentNodesWithLastHop returns up to limit nodes, most-recently-seen
// first, each paired with the hop_count of its most recent logged inbound
// RF packet (nil if no such packet was ever recorded).
func (s *Store) GetRecentNodesWithLastHop(ctx context.Context, limit int) ([]NodeWithLastHop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.node_id, n.short_name, n.long_name, n.last_seen,
		       (SELECT p.hop_count FROM packets p
		        WHERE p.from_node = n.node_id AND p.direction = 'in' AND p.hop_count IS NOT NULL
		        ORDER BY p.timestamp DESC LIMIT 1) AS last_hop
		FROM nodes n
		ORDER BY n.last_seen DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("recent nodes with last hop", err)
	}
	defer rows.Close()

	var out []NodeWithLastHop
	for rows.Next() {
		var n NodeWithLastHop
		var lastHop sql.NullInt64
		if err := rows.Scan(&n.NodeID, &n.ShortName, &n.LongName, &n.LastSeen, &lastHop); err != nil {
			return nil, wrap("recent nodes with last hop: scan", err)
		}
		if lastHop.Valid {
			v := uint32(lastHop.Int64)
			n.LastHop = &v
		}
		out = append(out, n)
	}
	return out, wrap("recent nodes with last hop: rows", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
