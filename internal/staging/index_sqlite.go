package staging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"speelycaptor/internal/logging"
)

// Default timeout for index statements
const sqliteTimeout = 5 * time.Second

// SQLiteIndex stores the mapping in a single SQLite table.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

// OpenSQLiteIndex opens (creating if needed) the SQLite index at path.
func OpenSQLiteIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	// Full sync: an acknowledged allocation must survive a power loss.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// Writes are serialized by the store; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	initCtx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);`

	if _, err := db.ExecContext(initCtx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close index database after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// Backend implements Index.
func (s *SQLiteIndex) Backend() string {
	return BackendSQLite
}

// Load implements Index.
func (s *SQLiteIndex) Load(ctx context.Context) (map[string]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key, expires_at FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn("failed to close index rows: %v", err)
		}
	}()

	entries := make(map[string]time.Time)
	for rows.Next() {
		var (
			key string
			ms  int64
		)
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		entries[key] = time.UnixMilli(ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents with entries in one transaction.
func (s *SQLiteIndex) Save(ctx context.Context, entries map[string]time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (key, expires_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare index insert: %w", err)
	}
	defer stmt.Close()

	for key, exp := range entries {
		if _, err := stmt.ExecContext(ctx, key, exp.UnixMilli()); err != nil {
			return fmt.Errorf("insert index row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

// Close implements Index.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
