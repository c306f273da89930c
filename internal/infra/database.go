// Package infra implements infrastructure concerns (storage, processes, signals).
package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const sharedDBName = "shared.db"

// Database is the SQLCipher-encrypted SQLite file in the shared data
// directory. Both processes open it independently; SQLite's own locking
// serializes individual statements, and nothing above it provides
// cross-key transactions.
type Database struct {
	db     *sql.DB
	dbPath string
}

// OpenDatabase opens (or creates) the encrypted shared database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenDatabase(dataDir string, key []byte) (*Database, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sharedDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	d := &Database{db: db, dbPath: dbPath}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return d, nil
}

func (d *Database) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shared_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS time_limits (
		id                   TEXT PRIMARY KEY,
		display_name         TEXT NOT NULL,
		kind                 TEXT NOT NULL,
		daily_budget_minutes INTEGER NOT NULL,
		schedule             TEXT,
		is_active            INTEGER NOT NULL DEFAULT 1,
		app_tokens           TEXT NOT NULL DEFAULT '[]',
		category_tokens      TEXT NOT NULL DEFAULT '[]',
		created_at           TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS monitor_registrations (
		activity      TEXT PRIMARY KEY,
		events        TEXT NOT NULL,
		registered_at TEXT NOT NULL
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

// DB exposes the underlying handle for stores living in other packages.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path (for status output and tests).
func (d *Database) Path() string {
	return d.dbPath
}

// Close releases the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
