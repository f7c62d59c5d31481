package db

import (
	"context"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies all pending migrations from the embedded FS. goose needs a
// database/sql handle, so one is adapted from the pgx pool for the duration
// of the call.
func Migrate(ctx context.Context, pool *Pool, migrationsFS fs.FS) error {
	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	defer func() { _ = sqlDB.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrationsFS)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}
