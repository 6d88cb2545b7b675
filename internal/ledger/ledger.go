// Package ledger provides a SQLite-backed record of which understanding
// notes have been synchronized to the remote index, keyed by content
// checksum. It exists so the daemon can reconcile after a restart: notes
// edited or removed while it was down are detected by diffing the ledger
// against the vault.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS synced_notes (
	path      TEXT PRIMARY KEY,
	checksum  TEXT NOT NULL DEFAULT '',
	synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the ledger database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record stores (or replaces) the synced checksum for a path.
func (db *DB) Record(path, checksum string) error {
	_, err := db.conn.Exec(`
		INSERT INTO synced_notes (path, checksum, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum  = excluded.checksum,
			synced_at = excluded.synced_at
	`, path, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", path, err)
	}
	return nil
}

// Forget removes a path from the ledger. Unknown paths are a no-op.
func (db *DB) Forget(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM synced_notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("ledger: forget %s: %w", path, err)
	}
	return nil
}

// Checksum returns the recorded checksum for a path, or empty string when
// the path has never been synced.
func (db *DB) Checksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM synced_notes WHERE path = ?`, path).Scan(&cs)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: checksum %s: %w", path, err)
	}
	return cs, nil
}

// AllChecksums returns every recorded path with its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM synced_notes`)
	if err != nil {
		return nil, fmt.Errorf("ledger: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Count returns the number of recorded paths.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM synced_notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}
