package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"graphqueue/internal/db/migrate"
)

type DB struct {
	conn *sql.DB
}

// New opens (creating if absent) the local SQLite database at path,
// retrying with exponential backoff on a cold/contended file, and enables
// the pragmas the worker's single-writer discipline depends on.
func New(path string) (*DB, error) {
	dbDir := filepath.Dir(path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dbDir, err)
		}
	}

	var conn *sql.DB
	var err error

	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}

		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("pinging database after %d attempts: %w", maxRetries, err)
			}
			conn.Close()
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		break
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate applies every pending embedded migration.
func (db *DB) Migrate() error {
	return migrate.Up(db.conn)
}
