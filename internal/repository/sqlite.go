package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// sqlite allows one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent webhook writes and keeps
	// :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			staff_id TEXT NOT NULL,
			coordinator_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			call_sid TEXT,
			initiated_at DATETIME NOT NULL,
			answered_at DATETIME,
			escalated_at DATETIME,
			resolved_at DATETIME,
			outcome TEXT NOT NULL DEFAULT '',
			deleted_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS coordinators (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			zone TEXT NOT NULL,
			phone TEXT NOT NULL,
			backup_id TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS message_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_sid TEXT NOT NULL,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rate_limits (
			key TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (key, window_start)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_call_sid
			ON alerts(call_sid) WHERE call_sid IS NOT NULL AND deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_initiated_at ON alerts(initiated_at);
		CREATE INDEX IF NOT EXISTS idx_message_log_sid ON message_log(message_sid);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
