package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutChatRoom inserts or updates a room keyed by room id. The participant
// list is replaced as a whole.
func (db *DB) PutChatRoom(ctx context.Context, r *ChatRoom) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (room_id, room_type, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			room_type = excluded.room_type,
			created_at = CASE WHEN excluded.created_at != 0 THEN excluded.created_at ELSE chat_rooms.created_at END,
			updated_at = excluded.updated_at`,
		r.RoomID, string(r.Type), toMillis(r.CreatedAt), nowMillis()); err != nil {
		return fmt.Errorf("upsert room %q: %w", r.RoomID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = ?`, r.RoomID); err != nil {
		return fmt.Errorf("clear participants %q: %w", r.RoomID, err)
	}
	for i, p := range r.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, position, user_id, phone)
			VALUES (?, ?, ?, ?)`, r.RoomID, i, p.ID, p.Phone); err != nil {
			return fmt.Errorf("insert participant %q: %w", p.Phone, err)
		}
	}
	return tx.Commit()
}

// GetChatRoom returns a room with its participants, or nil if unknown.
func (db *DB) GetChatRoom(ctx context.Context, roomID string) (*ChatRoom, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	var (
		r         ChatRoom
		roomType  string
		createdAt int64
	)
	err = conn.QueryRowContext(ctx, `SELECT room_id, room_type, created_at FROM chat_rooms WHERE room_id = ?`, roomID).
		Scan(&r.RoomID, &roomType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Type = RoomType(roomType)
	r.CreatedAt = fromMillis(createdAt)

	rooms := []ChatRoom{r}
	if err := db.loadParticipants(ctx, conn, rooms); err != nil {
		return nil, err
	}
	return &rooms[0], nil
}

// GetChatRoomsByType returns all rooms of the given type.
func (db *DB) GetChatRoomsByType(ctx context.Context, t RoomType) ([]ChatRoom, error) {
	return db.listRooms(ctx, `
		SELECT room_id, room_type, created_at FROM chat_rooms
		WHERE room_type = ?
		ORDER BY created_at`, string(t))
}

// GetChatRoomsByParticipant returns all rooms the phone participates in.
func (db *DB) GetChatRoomsByParticipant(ctx context.Context, phone string) ([]ChatRoom, error) {
	return db.listRooms(ctx, `
		SELECT c.room_id, c.room_type, c.created_at FROM chat_rooms c
		WHERE c.room_id IN (SELECT room_id FROM room_participants WHERE phone = ?)
		ORDER BY c.created_at`, phone)
}

func (db *DB) listRooms(ctx context.Context, query string, args ...any) ([]ChatRoom, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var rooms []ChatRoom
	for rows.Next() {
		var (
			r         ChatRoom
			roomType  string
			createdAt int64
		)
		if err := rows.Scan(&r.RoomID, &roomType, &createdAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.Type = RoomType(roomType)
		r.CreatedAt = fromMillis(createdAt)
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := db.loadParticipants(ctx, conn, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (db *DB) loadParticipants(ctx context.Context, conn *sql.DB, rooms []ChatRoom) error {
	for i := range rooms {
		rows, err := conn.QueryContext(ctx, `
			SELECT user_id, phone FROM room_participants
			WHERE room_id = ?
			ORDER BY position`, rooms[i].RoomID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var p Participant
			if err := rows.Scan(&p.ID, &p.Phone); err != nil {
				_ = rows.Close()
				return err
			}
			rooms[i].Participants = append(rooms[i].Participants, p)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
