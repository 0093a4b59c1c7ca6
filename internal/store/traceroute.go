package store

import (
	"context"
	"database/sql"
)

// TracerouteObservation is one leg (request or response) of a traceroute
// exchange, as extracted from a RouteDiscovery payload.
type TracerouteObservation struct {
	TraceKey   string
	SrcNode    uint32
	DstNode    *uint32
	ViaMQTT    bool
	Direction  HopDirection
	SourceKind SourceKind
	Hops       []uint32
	HopCount   *uint32
	HopStart   *uint32
	PacketID   *int64
	ObservedAt int64
}

// LogTracerouteObservation upserts the session identified by obs.TraceKey
// and replaces that leg's hop rows, atomically. A session accumulates at
// most one request leg and one response leg; a later observation of the
// same leg replaces the earlier one's hop list rather than appending to it,
// since RouteDiscovery always reports the whole path, not an increment.
func (s *Store) LogTracerouteObservation(ctx context.Context, obs TracerouteObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("log traceroute: begin", err)
	}
	defer tx.Rollback()

	var sessionID int64
	var existingReqHops, existingRespHops sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT id, request_hops, response_hops FROM traceroute_sessions WHERE trace_key = ?`,
		obs.TraceKey).Scan(&sessionID, &existingReqHops, &existingRespHops)

	isNewSession := err == sql.ErrNoRows
	if err != nil && !isNewSession {
		return wrap("log traceroute: select session", err)
	}

	// A response leg whose RouteDiscovery carried no hops falls back to the
	// request leg's already-recorded outbound route (spec §4.8), but only
	// when a request leg could already exist — i.e. not on a brand new
	// session, whose only evidence is this very observation.
	hops := obs.Hops
	if !isNewSession && obs.Direction == HopDirectionResponse && len(hops) == 0 {
		fallbackRows, qErr := tx.QueryContext(ctx, `
			SELECT node_id FROM traceroute_hops WHERE session_id = ? AND direction = ? ORDER BY hop_index ASC`,
			sessionID, string(HopDirectionRequest))
		if qErr != nil {
			return wrap("log traceroute: query fallback hops", qErr)
		}
		for fallbackRows.Next() {
			var nodeID uint32
			if scanErr := fallbackRows.Scan(&nodeID); scanErr != nil {
				fallbackRows.Close()
				return wrap("log traceroute: scan fallback hop", scanErr)
			}
			hops = append(hops, nodeID)
		}
		fallbackRows.Close()
		if err := fallbackRows.Err(); err != nil {
			return wrap("log traceroute: fallback hops", err)
		}
	}
	obs.Hops = hops

	switch {
	case isNewSession:
		reqHops, reqStart, respHops, respStart := legColumns(obs)
		res, insErr := tx.ExecContext(ctx, `
			INSERT INTO traceroute_sessions
				(trace_key, first_seen, last_seen, src_node, dst_node, via_mqtt,
				 request_hops, request_hop_start, response_hops, response_hop_start,
				 request_packet_id, response_packet_id, status, sample_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			obs.TraceKey, obs.ObservedAt, obs.ObservedAt, obs.SrcNode, obs.DstNode, boolToInt(obs.ViaMQTT),
			reqHops, reqStart, respHops, respStart,
			packetIDIfDirection(obs, HopDirectionRequest), packetIDIfDirection(obs, HopDirectionResponse),
			string(statusFor(obs.Direction == HopDirectionRequest, obs.Direction == HopDirectionResponse, 1)))
		if insErr != nil {
			return wrap("log traceroute: insert session", insErr)
		}
		sessionID, err = res.LastInsertId()
		if err != nil {
			return wrap("log traceroute: last insert id", err)
		}
	default:
		hasRequest := existingReqHops.Valid || obs.Direction == HopDirectionRequest
		hasResponse := existingRespHops.Valid || obs.Direction == HopDirectionResponse

		var updErr error
		if obs.Direction == HopDirectionRequest {
			_, updErr = tx.ExecContext(ctx, `
				UPDATE traceroute_sessions SET
					last_seen = ?, dst_node = COALESCE(?, dst_node), via_mqtt = ?,
					request_hops = ?, request_hop_start = ?, request_packet_id = COALESCE(?, request_packet_id),
					sample_count = sample_count + 1, status = ?
				WHERE id = ?`,
				obs.ObservedAt, obs.DstNode, boolToInt(obs.ViaMQTT),
				nullableLen(obs.Hops), obs.HopStart, obs.PacketID,
				string(statusFor(true, hasResponse, 2)), sessionID)
		} else {
			_, updErr = tx.ExecContext(ctx, `
				UPDATE traceroute_sessions SET
					last_seen = ?, dst_node = COALESCE(?, dst_node), via_mqtt = ?,
					response_hops = ?, response_hop_start = ?, response_packet_id = COALESCE(?, response_packet_id),
					sample_count = sample_count + 1, status = ?
				WHERE id = ?`,
				obs.ObservedAt, obs.DstNode, boolToInt(obs.ViaMQTT),
				nullableLen(obs.Hops), obs.HopStart, obs.PacketID,
				string(statusFor(hasRequest, true, 2)), sessionID)
		}
		if updErr != nil {
			return wrap("log traceroute: update session", updErr)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM traceroute_hops WHERE session_id = ? AND direction = ?`,
		sessionID, string(obs.Direction)); err != nil {
		return wrap("log traceroute: clear hops", err)
	}

	for i, nodeID := range obs.Hops {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO traceroute_hops (session_id, direction, hop_index, node_id, observed_at, packet_id_ref, source_kind)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, string(obs.Direction), i, nodeID, obs.ObservedAt, obs.PacketID, string(obs.SourceKind)); err != nil {
			return wrap("log traceroute: insert hop", err)
		}
	}

	return wrap("log traceroute: commit", tx.Commit())
}

func legColumns(obs TracerouteObservation) (reqHops, reqStart, respHops, respStart *uint32) {
	if obs.Direction == HopDirectionRequest {
		reqHops, reqStart = nullableLen(obs.Hops), obs.HopStart
	} else {
		respHops, respStart = nullableLen(obs.Hops), obs.HopStart
	}
	return
}

func packetIDIfDirection(obs TracerouteObservation, dir HopDirection) *int64 {
	if obs.Direction == dir {
		return obs.PacketID
	}
	return nil
}

func nullableLen(hops []uint32) *uint32 {
	if len(hops) == 0 {
		return nil
	}
	n := uint32(len(hops))
	return &n
}

// statusFor recomputes a session's status from which legs are present and
// how many observations it has accumulated: a session with only one leg
// ever observed is "observed"; one still missing a leg after more than one
// sample is "partial"; one with both legs present is "complete".
func statusFor(hasRequest, hasResponse bool, sampleCount uint32) TracerouteStatus {
	switch {
	case hasRequest && hasResponse:
		return StatusComplete
	case sampleCount > 1:
		return StatusPartial
	default:
		return StatusObserved
	}
}

// TracerouteSessionRef is the minimal session identity returned by
// correlation lookups.
type TracerouteSessionRef struct {
	SessionID int64
	TraceKey  string
	SrcNode   uint32
	DstNode   *uint32
}

// FindTracerouteSessionByRequestMeshID locates the session whose request
// leg was logged from the packet carrying the given mesh (radio) packet
// ID, provided it was observed within the lookback window. Used to
// correlate an inbound RouteDiscovery reply back to the outbound probe or
// user-initiated request that triggered it.
func (s *Store) FindTracerouteSessionByRequestMeshID(ctx context.Context, requestMeshID uint32, sinceTimestamp int64) (*TracerouteSessionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ref TracerouteSessionRef
	var dst sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts.id, ts.trace_key, ts.src_node, ts.dst_node
		FROM traceroute_sessions ts
		JOIN packets p ON p.id = ts.request_packet_id
		WHERE p.mesh_packet_id = ? AND p.timestamp >= ?
		ORDER BY ts.last_seen DESC
		LIMIT 1`, requestMeshID, sinceTimestamp).Scan(&ref.SessionID, &ref.TraceKey, &ref.SrcNode, &dst)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find session by request mesh id", err)
	}
	if dst.Valid {
		v := uint32(dst.Int64)
		ref.DstNode = &v
	}
	return &ref, nil
}

// GetTracerouteSession returns a session row by ID, for dashboard detail views.
func (s *Store) GetTracerouteSession(ctx context.Context, id int64) (*TracerouteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanSession(ctx, `SELECT id, trace_key, first_seen, last_seen, src_node, dst_node, via_mqtt,
		request_hops, request_hop_start, response_hops, response_hop_start,
		request_packet_id, response_packet_id, status, sample_count
		FROM traceroute_sessions WHERE id = ?`, id)
}

func (s *Store) scanSession(ctx context.Context, query string, args ...any) (*TracerouteSession, error) {
	var t TracerouteSession
	var dst, reqHops, reqStart, respHops, respStart, reqPkt, respPkt sql.NullInt64
	var viaMQTT int
	var status string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.TraceKey, &t.FirstSeen, &t.LastSeen, &t.SrcNode, &dst, &viaMQTT,
		&reqHops, &reqStart, &respHops, &respStart, &reqPkt, &respPkt, &status, &t.SampleCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("scan session", err)
	}
	t.ViaMQTT = viaMQTT != 0
	t.Status = TracerouteStatus(status)
	if dst.Valid {
		v := uint32(dst.Int64)
		t.DstNode = &v
	}
	if reqHops.Valid {
		v := uint32(reqHops.Int64)
		t.RequestHops = &v
	}
	if reqStart.Valid {
		v := uint32(reqStart.Int64)
		t.RequestHopStart = &v
	}
	if respHops.Valid {
		v := uint32(respHops.Int64)
		t.ResponseHops = &v
	}
	if respStart.Valid {
		v := uint32(respStart.Int64)
		t.ResponseHopStart = &v
	}
	if reqPkt.Valid {
		t.RequestPacketID = &reqPkt.Int64
	}
	if respPkt.Valid {
		t.ResponsePacketID = &respPkt.Int64
	}
	return &t, nil
}

// ListRecentTracerouteSessions returns up to limit sessions, most recently
// updated first, for the dashboard's session list.
func (s *Store) ListRecentTracerouteSessions(ctx context.Context, limit int) ([]TracerouteSession, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM traceroute_sessions ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		s.mu.Unlock()
		return nil, wrap("list sessions", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.Unlock()
			return nil, wrap("list sessions: scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.Unlock()

	out := make([]TracerouteSession, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetTracerouteSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			out = append(out, *sess)
		}
	}
	return out, nil
}

// GetTracerouteHops returns the hop rows for one leg of a session, ordered
// by hop index.
func (s *Store) GetTracerouteHops(ctx context.Context, sessionID int64, direction HopDirection) ([]TracerouteHop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, direction, hop_index, node_id, observed_at, packet_id_ref, source_kind
		FROM traceroute_hops WHERE session_id = ? AND direction = ? ORDER BY hop_index ASC`,
		sessionID, string(direction))
	if err != nil {
		return nil, wrap("get hops", err)
	}
	defer rows.Close()

	var out []TracerouteHop
	for rows.Next() {
		var h TracerouteHop
		var dir string
		var pkt sql.NullInt64
		if err := rows.Scan(&h.ID, &h.SessionID, &dir, &h.HopIndex, &h.NodeID, &h.ObservedAt, &pkt, &h.SourceKind); err != nil {
			return nil, wrap("get hops: scan", err)
		}
		h.Direction = HopDirection(dir)
		if pkt.Valid {
			h.PacketIDRef = &pkt.Int64
		}
		out = append(out, h)
	}
	return out, wrap("get hops: rows", rows.Err())
}
