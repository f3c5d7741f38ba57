package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store interface for SQLite
type SQLiteStore struct {
	db   *sql.DB
	tx   *sql.Tx
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists. WAL mode keeps committed rows durable
// across a power cut without serializing every write behind fsync.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between the ingest path and
	// the background flush/cleanup timers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sensor_data (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        device_id TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        location TEXT NOT NULL DEFAULT '',
        sensor_values TEXT NOT NULL,
        transmitted INTEGER NOT NULL DEFAULT 0,
        transmitted_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_sensor_data_transmitted
        ON sensor_data (transmitted, id);
    CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp
        ON sensor_data (timestamp);

    CREATE TABLE IF NOT EXISTS transmission_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL,
        device_id TEXT NOT NULL,
        payload_size INTEGER NOT NULL,
        success INTEGER NOT NULL,
        error TEXT NOT NULL DEFAULT '',
        retry_count INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_transmission_log_timestamp
        ON transmission_log (timestamp);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (Store, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: s.db, tx: tx, path: s.path}, nil
}

// Commit commits the transaction
func (s *SQLiteStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *SQLiteStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// StorageBytes reports the on-disk size of the database file.
func (s *SQLiteStore) StorageBytes() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// getDB returns tx if in transaction, otherwise db
func (s *SQLiteStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}
