// Package store persists clients and their latest metric values in SQLite.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS clients (
	id          INTEGER PRIMARY KEY,
	source      TEXT NOT NULL,
	uuid        TEXT NOT NULL,
	last_update TIMESTAMP NOT NULL,
	UNIQUE(source, uuid)
);

CREATE TABLE IF NOT EXISTS metrics (
	client_id    INTEGER NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value TEXT NOT NULL,
	FOREIGN KEY (client_id) REFERENCES clients (id) ON DELETE CASCADE,
	UNIQUE(client_id, metric_name)
);

CREATE INDEX IF NOT EXISTS idx_clients_source ON clients(source);
`

// DB wraps a sql.DB with metrics-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// Transactions begin immediate so the reconcile read-modify-write sequence
// is serialized per database, not just per statement.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
