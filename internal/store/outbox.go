package store

import "context"

// QueueOutbox records an outgoing message before it is dispatched.
func (db *DB) QueueOutbox(ctx context.Context, e *OutboxEntry) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	now := nowMillis()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO outbox (client_msg_id, room_id, recipient_id, content, type, media_ref, client_ts, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.RoomID, e.RecipientID, e.Content, string(e.Type), e.MediaRef, e.CreatedAt, now, now)
	return err
}

// MarkOutboxSent marks an entry as handed to the transport.
func (db *DB) MarkOutboxSent(ctx context.Context, clientMsgID string) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', attempts = attempts + 1, error_message = '', updated_at = ?
		WHERE client_msg_id = ?`, nowMillis(), clientMsgID)
	return err
}

// MarkOutboxFailed marks an entry as failed and counts the attempt.
func (db *DB) MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE outbox SET status = 'failed', attempts = attempts + 1, error_message = ?, updated_at = ?
		WHERE client_msg_id = ?`, errMsg, nowMillis(), clientMsgID)
	return err
}

// FailedOutbox returns failed entries that have been attempted fewer than
// maxAttempts times, oldest first.
func (db *DB) FailedOutbox(ctx context.Context, maxAttempts int) ([]OutboxEntry, error) {
	return db.queryOutbox(ctx, `status = 'failed' AND attempts < ?`, maxAttempts)
}

// GetOutbox returns a single entry by client message id, or nil.
func (db *DB) GetOutbox(ctx context.Context, clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(ctx, `client_msg_id = ?`, clientMsgID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (db *DB) queryOutbox(ctx context.Context, where string, args ...any) ([]OutboxEntry, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, client_msg_id, room_id, recipient_id, content, type, media_ref, client_ts, status, attempts, error_message
		FROM outbox WHERE `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e   OutboxEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.RoomID, &e.RecipientID, &e.Content, &typ,
			&e.MediaRef, &e.CreatedAt, &e.Status, &e.Attempts, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.Type = MessageType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
