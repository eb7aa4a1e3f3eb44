package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// driverName is go-sqlite3 with a Unicode-aware fold(text) function.
// SQLite's built-in lower() only folds ASCII.
const driverName = "sqlite3_chatsync"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

// ErrUnavailable is returned when the database cannot be opened or migrated.
var ErrUnavailable = errors.New("storage unavailable")

// DB is the on-device SQLite store for contacts, chat rooms, messages and
// communities. It opens lazily: every operation calls Init first.
type DB struct {
	path string

	mu        sync.Mutex
	conn      *sql.DB
	migration *MigrateResult

	// clearTables lists the tables emptied by ClearAll, children first.
	clearTables []string
}

// New returns a store for the database file at path without opening it.
func New(path string) *DB {
	return &DB{
		path: path,
		clearTables: []string{
			"room_participants",
			"messages",
			"chat_rooms",
			"contacts",
			"communities",
			"outbox",
			"sync_state",
		},
	}
}

// Open creates a store and initializes it immediately.
func Open(path string) (*DB, error) {
	db := New(path)
	if err := db.Init(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// Init opens the database in WAL mode and applies pending migrations.
// It is safe to call repeatedly and concurrently; after a failure the next
// call retries.
func (db *DB) Init(ctx context.Context) error {
	_, err := db.handle(ctx)
	return err
}

// Migration returns the result of the migration run by Init, or nil if the
// store has not been initialized.
func (db *DB) Migration() *MigrateResult {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.migration
}

// Close closes the underlying connection. A later operation reopens it.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}

func (db *DB) handle(ctx context.Context) (*sql.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn != nil {
		return db.conn, nil
	}

	conn, err := sql.Open(driverName, db.path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrUnavailable, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping db: %v", ErrUnavailable, err)
	}
	result, err := migrateConn(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	db.conn = conn
	db.migration = result
	return conn, nil
}

// Counts returns the number of stored rows per collection.
func (db *DB) Counts(ctx context.Context) (*Counts, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	var c Counts
	err = conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM contacts),
			(SELECT COUNT(*) FROM chat_rooms),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM communities)`).
		Scan(&c.Contacts, &c.ChatRooms, &c.Messages, &c.Communities)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearAll empties every collection in one transaction. On any failure
// nothing is deleted.
func (db *DB) ClearAll(ctx context.Context) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range db.clearTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
