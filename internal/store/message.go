package store

import (
	"context"
	"fmt"
)

const messageColumns = `id, room_id, sender_id, recipient_id, content, type, created_at, is_read, received, deleted, reply_to, call_type`

// PutMessage inserts or overwrites a message keyed by id.
func (db *DB) PutMessage(ctx context.Context, m *Message) error {
	return db.PutMessages(ctx, []Message{*m})
}

// PutMessages upserts a batch of messages in one transaction. A reused id
// overwrites the stored record, so writing the same batch twice is a no-op.
func (db *DB) PutMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (`+messageColumns+`, created_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			sender_id = excluded.sender_id,
			recipient_id = excluded.recipient_id,
			content = excluded.content,
			type = excluded.type,
			created_at = excluded.created_at,
			created_date = excluded.created_date,
			is_read = excluded.is_read,
			received = excluded.received,
			deleted = excluded.deleted,
			reply_to = excluded.reply_to,
			call_type = excluded.call_type,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := nowMillis()
	for i := range msgs {
		m := &msgs[i]
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.RoomID, m.SenderID, m.RecipientID, m.Content, string(m.Type),
			toMillis(m.CreatedAt), m.Read, m.Received, m.Deleted, m.ReplyTo, string(m.CallType),
			m.Date(), now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessagesByRoom returns all stored messages of a room. Callers sort.
func (db *DB) GetMessagesByRoom(ctx context.Context, roomID string) ([]Message, error) {
	return db.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE room_id = ?`, roomID)
}

// GetMessagesByRoomAndDate returns the messages of a room created on the
// given UTC day (YYYY-MM-DD).
func (db *DB) GetMessagesByRoomAndDate(ctx context.Context, roomID, date string) ([]Message, error) {
	return db.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE room_id = ? AND created_date = ?`, roomID, date)
}

// GetMessagesBySender returns all messages sent by the given participant.
func (db *DB) GetMessagesBySender(ctx context.Context, senderID string) ([]Message, error) {
	return db.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE sender_id = ?`, senderID)
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			msgType   string
			callType  string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.RecipientID, &m.Content, &msgType,
			&createdAt, &m.Read, &m.Received, &m.Deleted, &m.ReplyTo, &callType); err != nil {
			return nil, err
		}
		m.Type = MessageType(msgType)
		m.CallType = CallType(callType)
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
