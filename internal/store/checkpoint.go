package store

import (
	"context"
	"database/sql"
)

// SetCheckpoint stores a sync checkpoint value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowMillis())
	return err
}

// GetCheckpoint returns a sync checkpoint value. ok is false when unset.
func (db *DB) GetCheckpoint(ctx context.Context, key string) (value string, ok bool, err error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return "", false, err
	}
	err = conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
