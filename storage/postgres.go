package storage

import (
	"context"
	"database/sql"

	"github.com/awantoch/flowhook/utils"
	_ "github.com/lib/pq"
)

// PostgresStorage implements Storage on PostgreSQL through lib/pq.
type PostgresStorage struct {
	*sqlStore
}

var _ Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, utils.Errorf("failed to connect to postgres: %w", err)
	}
	store, err := newSQLStore(ctx, db, dialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStorage{sqlStore: store}, nil
}
