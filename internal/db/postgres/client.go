package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/db"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/resources"
)

type postgresClient struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MinConns = 0
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	return pool, nil
}

// NewPostgresClient connects to dsn and applies the embedded migrations.
func NewPostgresClient(ctx context.Context, dsn string) (*postgresClient, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", errs.ErrStorage, err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations/postgres",
	}
	n, err := migrate.ExecContext(ctx, sqlDB, "postgres", migrationsSource, migrate.Up)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migrate up: %w", errs.ErrStorage, err)
	}
	if n > 0 {
		log.WithField("count", n).Info("applied migrations")
	}

	return &postgresClient{pool: pool}, nil
}

func (c *postgresClient) Close() error {
	c.pool.Close()
	return nil
}

func (c *postgresClient) UpsertUser(ctx context.Context, id int64, username, displayName string) (bool, error) {
	tag, err := c.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, id, username, displayName)
	if err != nil {
		return false, fmt.Errorf("%w: upsert user %d: %w", errs.ErrStorage, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (c *postgresClient) GetUser(ctx context.Context, id int64) (*db.User, error) {
	user := &db.User{}
	err := c.pool.QueryRow(ctx, `
		SELECT user_id, username, display_name, join_date, is_approved, warnings
		FROM users WHERE user_id = $1
	`, id).Scan(&user.ID, &user.UserName, &user.DisplayName, &user.JoinDate, &user.IsApproved, &user.Warnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get user %d: %w", errs.ErrStorage, id, err)
	}
	return user, nil
}

func (c *postgresClient) SetApproved(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, `UPDATE users SET is_approved = TRUE WHERE user_id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: approve user %d: %w", errs.ErrStorage, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: approve user %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
	}
	return nil
}

func (c *postgresClient) IncrementWarnings(ctx context.Context, id int64) (int, error) {
	var warnings int
	err := c.pool.QueryRow(ctx, `
		UPDATE users SET warnings = warnings + 1 WHERE user_id = $1 RETURNING warnings
	`, id).Scan(&warnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: increment warnings %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
		}
		return 0, fmt.Errorf("%w: increment warnings %d: %w", errs.ErrStorage, id, err)
	}
	return warnings, nil
}

func (c *postgresClient) AppendMessageLog(ctx context.Context, userID int64, text string, isSpam bool) (int64, error) {
	var id int64
	err := c.pool.QueryRow(ctx, `
		INSERT INTO messages (user_id, message_text, is_spam)
		VALUES ($1, $2, $3)
		RETURNING message_id
	`, userID, text, isSpam).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: append message log: %w", errs.ErrStorage, err)
	}
	return id, nil
}

func (c *postgresClient) GetUserStats(ctx context.Context) (*db.UserStats, error) {
	stats := &db.UserStats{}
	err := c.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_approved),
			COUNT(*) FILTER (WHERE warnings > 0),
			COUNT(*) FILTER (WHERE NOT is_approved)
		FROM users
	`).Scan(&stats.Total, &stats.Approved, &stats.WithWarnings, &stats.Pending)
	if err != nil {
		return nil, fmt.Errorf("%w: get user stats: %w", errs.ErrStorage, err)
	}
	return stats, nil
}
