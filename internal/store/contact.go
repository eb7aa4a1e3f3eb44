package store

import (
	"context"
	"database/sql"
	"fmt"
)

const upsertContactSQL = `
	INSERT INTO contacts (phone, name, profile, room_id, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(phone) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
		profile = CASE WHEN excluded.profile != '' THEN excluded.profile ELSE contacts.profile END,
		room_id = CASE WHEN excluded.room_id != '' THEN excluded.room_id ELSE contacts.room_id END,
		updated_at = excluded.updated_at`

// PutContact inserts or updates a contact keyed by phone. Empty fields do
// not overwrite known values.
func (db *DB) PutContact(ctx context.Context, c *Contact) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, upsertContactSQL, c.Phone, c.Name, c.Profile, c.RoomID, nowMillis())
	return err
}

// PutContacts upserts multiple contacts in a single transaction.
func (db *DB) PutContacts(ctx context.Context, contacts []Contact) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	for _, c := range contacts {
		if _, err := tx.ExecContext(ctx, upsertContactSQL, c.Phone, c.Name, c.Profile, c.RoomID, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.Phone, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by phone, or nil if unknown.
func (db *DB) GetContact(ctx context.Context, phone string) (*Contact, error) {
	return db.getContact(ctx, `SELECT phone, name, profile, room_id FROM contacts WHERE phone = ?`, phone)
}

// GetContactByRoom returns the contact linked to a room, or nil.
func (db *DB) GetContactByRoom(ctx context.Context, roomID string) (*Contact, error) {
	return db.getContact(ctx, `SELECT phone, name, profile, room_id FROM contacts WHERE room_id = ? LIMIT 1`, roomID)
}

func (db *DB) getContact(ctx context.Context, query string, arg string) (*Contact, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	var c Contact
	err = conn.QueryRowContext(ctx, query, arg).Scan(&c.Phone, &c.Name, &c.Profile, &c.RoomID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetAllContacts returns every stored contact. No order is guaranteed.
func (db *DB) GetAllContacts(ctx context.Context) ([]Contact, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `SELECT phone, name, profile, room_id FROM contacts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Phone, &c.Name, &c.Profile, &c.RoomID); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
