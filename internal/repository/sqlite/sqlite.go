package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order. The database records how many ran in
// PRAGMA user_version, so a journal created by an older build is upgraded in place.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		sensor TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		filepath TEXT NOT NULL DEFAULT '',
		filesize INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_sensor ON events(sensor);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_message ON events(message);`,

	// Detector score and bounding box of the reported detection. The box is
	// NULL for events without one, e.g. rows rebuilt from image files.
	`ALTER TABLE events ADD COLUMN confidence REAL NOT NULL DEFAULT 0;
	ALTER TABLE events ADD COLUMN x INTEGER;
	ALTER TABLE events ADD COLUMN y INTEGER;
	ALTER TABLE events ADD COLUMN width INTEGER;
	ALTER TABLE events ADD COLUMN height INTEGER;`,
}

// DB is the journal database. Writers are serialized through mu; sqlite in
// WAL mode still lets readers proceed.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates the parent directory if needed, opens the database and brings
// its schema up to date.
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Version returns the number of migrations applied to the database.
func (db *DB) Version() (int, error) {
	var version int
	err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version)
	return version, err
}

func (db *DB) migrate() error {
	version, err := db.Version()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
