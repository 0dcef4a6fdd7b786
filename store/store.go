// Package store provides persistent server state backed by an embedded SQLite
// database. It owns the database lifecycle and exposes a minimal API used by
// the rest of the server: the operator-facing display name and a persisted
// list of extra ICE servers. It deliberately does not persist the lobby
// roster, the chat log, or session identifiers.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — extra ICE servers, offered to clients in position order
	`CREATE TABLE IF NOT EXISTS ice_servers (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		position   INTEGER NOT NULL DEFAULT 0,
		urls_json  TEXT NOT NULL,
		username   TEXT NOT NULL DEFAULT '',
		credential TEXT NOT NULL DEFAULT ''
	)`,
	// v3 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// DisplayNameKey is the settings key under which the operator-facing server
// name is stored.
const DisplayNameKey = "display_name"

// Store wraps a SQLite database and exposes server-state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	// Enable WAL mode for concurrent readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	// Busy timeout to avoid SQLITE_BUSY on concurrent access.
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// GetSetting returns the value stored under key. The second return value is
// false when the key does not exist; an error is only returned for real I/O
// failures.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSetting upserts key → value in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetAllSettings returns all key/value pairs from the settings table, used
// by the "settings" CLI subcommand.
func (s *Store) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// DisplayName returns the configured display name, or def if unset.
func (s *Store) DisplayName(def string) string {
	v, ok, err := s.GetSetting(DisplayNameKey)
	if err != nil || !ok {
		return def
	}
	return v
}

// ICEServer is one entry of the ICE server list persisted by this package.
// Conversion to webrtc.ICEServer happens in the caller, keeping this
// package free of the webrtc import.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// SetICEServers replaces the entire extra ICE server list atomically.
func (s *Store) SetICEServers(servers []ICEServer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ice_servers`); err != nil {
		return err
	}
	for i, srv := range servers {
		urlsJSON, err := json.Marshal(srv.URLs)
		if err != nil {
			return fmt.Errorf("marshal urls: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO ice_servers(position, urls_json, username, credential) VALUES(?,?,?,?)`,
			i, string(urlsJSON), srv.Username, srv.Credential,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetICEServers returns the configured extra ICE server list in position
// order.
func (s *Store) GetICEServers() ([]ICEServer, error) {
	rows, err := s.db.Query(
		`SELECT urls_json, username, credential FROM ice_servers ORDER BY position ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ICEServer
	for rows.Next() {
		var urlsJSON, username, credential string
		if err := rows.Scan(&urlsJSON, &username, &credential); err != nil {
			return nil, err
		}
		var urls []string
		if err := json.Unmarshal([]byte(urlsJSON), &urls); err != nil {
			return nil, fmt.Errorf("unmarshal urls: %w", err)
		}
		out = append(out, ICEServer{URLs: urls, Username: username, Credential: credential})
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SQLite optimization
// ---------------------------------------------------------------------------

// Optimize runs PRAGMA optimize for SQLite query planner statistics. Called
// hourly by a background ticker in main.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup creates a copy of the database at the given path using SQLite's
// VACUUM INTO statement.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}
