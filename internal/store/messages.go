package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertMessage creates a mesh message, defaulting MessageType to "handoff"
// and Status to MessagePending when unset.
func (s *Store) InsertMessage(ctx context.Context, m Message) (int64, error) {
	if m.MessageType == "" {
		m.MessageType = "handoff"
	}
	if m.Status == "" {
		m.Status = MessagePending
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(from_session, to_session, message_type, content, status)
		VALUES (?, ?, ?, ?, ?)`,
		m.FromSession, m.ToSession, m.MessageType, m.Content, m.Status)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return res.LastInsertId()
}

const messageColumns = `id, from_session, to_session, message_type, content,
	status, created_at, COALESCE(delivered_at, '')`

func scanMessage(row interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.FromSession, &m.ToSession, &m.MessageType,
		&m.Content, &m.Status, &m.CreatedAt, &m.DeliveredAt)
	return m, err
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages, optionally filtered by status, newest first.
func (s *Store) ListMessages(ctx context.Context, status string, limit int) ([]Message, error) {
	limit = clampLimit(limit, 50)
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE status = ? ORDER BY id DESC LIMIT ?", status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages ORDER BY id DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus transitions a message's status, optionally stamping
// delivered_at. Returns ErrNotFound if no row matched.
func (s *Store) UpdateMessageStatus(ctx context.Context, id int64, status string, deliveredAt string) error {
	var res sql.Result
	var err error
	if deliveredAt != "" {
		res, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status = ?, delivered_at = ? WHERE id = ?", status, deliveredAt, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("store: update message status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
