package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS server_configs (
  key        TEXT PRIMARY KEY,
  config     TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`

// SQLiteStore serves configuration records from a single-file SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= sqliteSchemaVersion {
		return nil
	}

	if version < 1 {
		if _, err := s.db.Exec(sqliteSchemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var config string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM server_configs WHERE key = ?`, key).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return json.RawMessage(config), true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, config json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO server_configs (key, config, updated_at) VALUES (?, ?, unixepoch())
ON CONFLICT(key) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		key, string(config))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
