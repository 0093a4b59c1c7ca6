package store

import (
	"context"
	"database/sql"
)

// StoreMail records a store-and-forward note for toNode, sent by fromNode.
func (s *Store) StoreMail(ctx context.Context, fromNode, toNode uint32, body string, at int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mail (timestamp, from_node, to_node, body, read) VALUES (?, ?, ?, ?, 0)`,
		at, fromNode, toNode, body)
	if err != nil {
		return 0, wrap("store mail", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("store mail: last insert id", err)
}

// UnreadMail returns a node's unread mail, oldest first, so a node's
// backlog delivers in the order it was left.
func (s *Store) UnreadMail(ctx context.Context, toNode uint32) ([]MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, from_node, to_node, body, read FROM mail
		WHERE to_node = ? AND read = 0 ORDER BY timestamp ASC`, toNode)
	if err != nil {
		return nil, wrap("unread mail", err)
	}
	defer rows.Close()

	var out []MailMessage
	for rows.Next() {
		var m MailMessage
		var read int
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.FromNode, &m.ToNode, &m.Body, &read); err != nil {
			return nil, wrap("unread mail: scan", err)
		}
		m.Read = read != 0
		out = append(out, m)
	}
	return out, wrap("unread mail: rows", rows.Err())
}

// CountUnreadMail returns how many unread messages are waiting for toNode.
func (s *Store) CountUnreadMail(ctx context.Context, toNode uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mail WHERE to_node = ? AND read = 0`, toNode).Scan(&n)
	return n, wrap("count unread mail", err)
}

// MarkMailRead flips the read flag for the given mail IDs belonging to
// toNode. IDs for other recipients are silently ignored, since a node can
// only ever mark its own mail read.
func (s *Store) MarkMailRead(ctx context.Context, toNode uint32, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("mark mail read: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE mail SET read = 1 WHERE id = ? AND to_node = ?`)
	if err != nil {
		return wrap("mark mail read: prepare", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, toNode); err != nil {
			return wrap("mark mail read: exec", err)
		}
	}
	return wrap("mark mail read: commit", tx.Commit())
}

// DeleteMail removes a mail row, scoped to its owning recipient so one node
// cannot delete another's mail by guessing IDs.
func (s *Store) DeleteMail(ctx context.Context, toNode uint32, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM mail WHERE id = ? AND to_node = ?`, id, toNode)
	if err != nil {
		return wrap("delete mail", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete mail: rows affected", err)
	}
	if n == 0 {
		return wrap("delete mail", sql.ErrNoRows)
	}
	return nil
}
