package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite-backed persistent queue store. It satisfies
// repository.Store and survives process restarts; secondary indexes on
// status and next_retry_at keep candidate gathering off full scans.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDB opens (creating if needed) the queue database at path. Use
// ":memory:" in tests.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}
	log.Info().Str("path", path).Msg("queue database initialized")

	return &DB{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_requests (
            queue_id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL,
            date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            requester_id TEXT NOT NULL,
            purpose TEXT,
            queued_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending-validation',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_attempt DATETIME,
            last_error TEXT,
            conflict_message TEXT,
            conflict_ids TEXT,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_next_retry ON queue_requests(next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_room_date ON queue_requests(room_id, date)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
