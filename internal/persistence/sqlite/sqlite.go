package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection handle shared by the repositories.
type DB struct {
	conn *sql.DB
}

// Open establishes a SQLite connection for the given DSN and applies the
// pragmas the repositories rely on (foreign keys, WAL, busy timeout).
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}

	// modernc's driver serialises writes per connection; a single writer
	// connection avoids SQLITE_BUSY churn under concurrent appends.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying handle for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close releases the connection handle.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping verifies the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS consultations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	astrologer_id TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('scheduled', 'live', 'completed', 'canceled')),
	communication_type TEXT NOT NULL CHECK (communication_type IN ('chat', 'video')),
	user_public_key TEXT NOT NULL,
	astrologer_public_key TEXT NOT NULL,
	shared_secret TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consultations_due
	ON consultations (status, scheduled_at);

CREATE INDEX IF NOT EXISTS idx_consultations_user
	ON consultations (user_id);

CREATE INDEX IF NOT EXISTS idx_consultations_astrologer
	ON consultations (astrologer_id);

CREATE TABLE IF NOT EXISTS chat_threads (
	consultation_id TEXT PRIMARY KEY REFERENCES consultations (id),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	consultation_id TEXT NOT NULL REFERENCES chat_threads (consultation_id),
	sender_id TEXT NOT NULL,
	sender_role TEXT NOT NULL CHECK (sender_role IN ('user', 'astrologer')),
	receiver_id TEXT NOT NULL,
	receiver_role TEXT NOT NULL CHECK (receiver_role IN ('user', 'astrologer')),
	ciphertext BLOB NOT NULL,
	iv BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_thread
	ON messages (consultation_id, seq);
`

// Migrate applies the schema. Every statement is idempotent, so running it
// on an already-migrated database is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// WithTransaction executes fn inside a transaction, rolling back on error or
// panic and committing otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit transaction: %w", err)
	}

	return nil
}
