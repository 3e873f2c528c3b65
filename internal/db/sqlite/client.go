package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

// NewSQLiteClient opens dir/fileName and applies the embedded migrations.
func NewSQLiteClient(ctx context.Context, dir, fileName string) (*sqliteClient, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %w", errs.ErrStorage, err)
	}
	dsn := filepath.Join(dir, fileName) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", errs.ErrStorage, err)
	}
	dbx.SetMaxOpenConns(42)
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("%w: ping db: %w", errs.ErrStorage, err)
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations/sqlite",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("%w: migrate up: %w", errs.ErrStorage, err)
	}
	if n > 0 {
		log.WithField("count", n).Info("applied migrations")
	}

	return &sqliteClient{db: dbx}, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}
