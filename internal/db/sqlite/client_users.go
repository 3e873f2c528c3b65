package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/gatewarden/internal/db"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
)

type userRow struct {
	ID          int64  `db:"user_id"`
	UserName    string `db:"username"`
	DisplayName string `db:"display_name"`
	JoinDate    int64  `db:"join_date"`
	IsApproved  bool   `db:"is_approved"`
	Warnings    int    `db:"warnings"`
}

func (r userRow) user() *db.User {
	return &db.User{
		ID:          r.ID,
		UserName:    r.UserName,
		DisplayName: r.DisplayName,
		JoinDate:    time.Unix(r.JoinDate, 0),
		IsApproved:  r.IsApproved,
		Warnings:    r.Warnings,
	}
}

func (c *sqliteClient) UpsertUser(ctx context.Context, id int64, username, displayName string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, display_name, join_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, id, username, displayName, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("%w: upsert user %d: %w", errs.ErrStorage, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: upsert user %d: %w", errs.ErrStorage, id, err)
	}
	return affected > 0, nil
}

func (c *sqliteClient) GetUser(ctx context.Context, id int64) (*db.User, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var row userRow
	err := c.db.GetContext(ctx, &row, `
		SELECT user_id, username, display_name, join_date, is_approved, warnings
		FROM users WHERE user_id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get user %d: %w", errs.ErrStorage, id, err)
	}
	return row.user(), nil
}

func (c *sqliteClient) SetApproved(ctx context.Context, id int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `UPDATE users SET is_approved = 1 WHERE user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: approve user %d: %w", errs.ErrStorage, id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: approve user %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
	}
	return nil
}

func (c *sqliteClient) IncrementWarnings(ctx context.Context, id int64) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var warnings int
	err := c.db.GetContext(ctx, &warnings, `
		UPDATE users SET warnings = warnings + 1 WHERE user_id = ? RETURNING warnings
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: increment warnings %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
		}
		return 0, fmt.Errorf("%w: increment warnings %d: %w", errs.ErrStorage, id, err)
	}
	return warnings, nil
}
