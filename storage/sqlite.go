package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/awantoch/flowhook/utils"
	_ "modernc.org/sqlite"
)

// SqliteStorage implements Storage using SQLite as the backend.
type SqliteStorage struct {
	*sqlStore
}

var _ Storage = (*SqliteStorage)(nil)

func NewSqliteStorage(dsn string) (*SqliteStorage, error) {
	// Only create parent directories if not using in-memory SQLite (":memory:").
	if dsn != ":memory:" && dsn != "" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, utils.Errorf("failed to create db directory %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, err
	}
	store, err := newSQLStore(context.Background(), db, dialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStorage{sqlStore: store}, nil
}
