// Package store is the synchronous, single-connection relational store of
// everything the gateway has observed: nodes, packets, traceroute sessions
// and hops, and store-and-forward mail. All access goes through a single
// mutex: the workload is CPU-bound relational bookkeeping, not I/O-bound,
// so serializing it is simpler than connection pooling and cheap enough not
// to matter against the event loop's own pacing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/charmbracelet/log"
)

// Store wraps a single sqlite connection behind a mutex.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *log.Logger
}

// Open creates (or reuses) the sqlite database at path, runs schema
// creation and upgrade, and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// sqlite allows only one writer; a single physical connection avoids
	// SQLITE_BUSY from database/sql handing writes to different connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, wrap("pragma foreign_keys", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, wrap("pragma journal_mode", err)
	}

	s := &Store{db: db, logger: log.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id       INTEGER PRIMARY KEY,
	short_name    TEXT NOT NULL DEFAULT '',
	long_name     TEXT NOT NULL DEFAULT '',
	first_seen    INTEGER NOT NULL,
	last_seen     INTEGER NOT NULL,
	last_welcomed INTEGER,
	latitude      REAL,
	longitude     REAL,
	via_mqtt      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS packets (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      INTEGER NOT NULL,
	from_node      INTEGER NOT NULL,
	to_node        INTEGER,
	channel        INTEGER NOT NULL DEFAULT 0,
	text           TEXT NOT NULL DEFAULT '',
	direction      TEXT NOT NULL,
	via_mqtt       INTEGER NOT NULL DEFAULT 0,
	rssi           INTEGER,
	snr            REAL,
	hop_count      INTEGER,
	hop_start      INTEGER,
	mesh_packet_id INTEGER,
	packet_type    TEXT NOT NULL DEFAULT 'text'
);

CREATE INDEX IF NOT EXISTS idx_packets_from_recent
	ON packets (from_node, direction, via_mqtt, timestamp DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_packets_missing_hops
	ON packets (direction, via_mqtt, from_node, hop_count);

CREATE TABLE IF NOT EXISTS traceroute_sessions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_key          TEXT NOT NULL UNIQUE,
	first_seen         INTEGER NOT NULL,
	last_seen          INTEGER NOT NULL,
	src_node           INTEGER NOT NULL,
	dst_node           INTEGER,
	via_mqtt           INTEGER NOT NULL DEFAULT 0,
	request_hops       INTEGER,
	request_hop_start  INTEGER,
	response_hops      INTEGER,
	response_hop_start INTEGER,
	request_packet_id  INTEGER REFERENCES packets(id) ON DELETE SET NULL,
	response_packet_id INTEGER REFERENCES packets(id) ON DELETE SET NULL,
	status             TEXT NOT NULL DEFAULT 'observed',
	sample_count       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_recent ON traceroute_sessions (last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_pair ON traceroute_sessions (src_node, dst_node, last_seen DESC);

CREATE TABLE IF NOT EXISTS traceroute_hops (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     INTEGER NOT NULL REFERENCES traceroute_sessions(id) ON DELETE CASCADE,
	direction      TEXT NOT NULL,
	hop_index      INTEGER NOT NULL,
	node_id        INTEGER NOT NULL,
	observed_at    INTEGER NOT NULL,
	packet_id_ref  INTEGER,
	source_kind    TEXT NOT NULL DEFAULT 'route'
);

CREATE INDEX IF NOT EXISTS idx_hops_session ON traceroute_hops (session_id, direction, hop_index);

CREATE TABLE IF NOT EXISTS mail (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	from_node INTEGER NOT NULL,
	to_node   INTEGER NOT NULL,
	body      TEXT NOT NULL,
	read      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mail_unread ON mail (to_node, read, timestamp);
`

// migrate creates the schema if absent and applies additive column upgrades
// for databases created by older versions of this store.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return wrap("migrate: create schema", err)
	}
	return s.upgradeColumns()
}

// upgradeColumns adds columns introduced after the initial schema, detected
// via PRAGMA table_info so re-running migrate on an up-to-date database is
// a no-op.
func (s *Store) upgradeColumns() error {
	upgrades := []struct {
		table, column, ddl string
	}{
		{"nodes", "via_mqtt", "ALTER TABLE nodes ADD COLUMN via_mqtt INTEGER NOT NULL DEFAULT 0"},
		{"nodes", "last_welcomed", "ALTER TABLE nodes ADD COLUMN last_welcomed INTEGER"},
	}
	for _, u := range upgrades {
		has, err := s.hasColumn(u.table, u.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.Exec(u.ddl); err != nil {
			return wrap(fmt.Sprintf("upgrade %s.%s", u.table, u.column), err)
		}
		s.logger.Info("upgraded column", "table", u.table, "column", u.column)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, wrap("table_info", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, wrap("table_info scan", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Optimize runs sqlite's query-planner statistics refresh, called
// periodically by the runtime's optimize timer rather than on every write.
func (s *Store) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "PRAGMA optimize;")
	return wrap("optimize", err)
}
