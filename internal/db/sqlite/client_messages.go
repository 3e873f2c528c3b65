package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iamwavecut/gatewarden/internal/db"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
)

func (c *sqliteClient) AppendMessageLog(ctx context.Context, userID int64, text string, isSpam bool) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, message_text, is_spam, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, text, isSpam, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: append message log: %w", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: append message log: %w", errs.ErrStorage, err)
	}
	return id, nil
}

func (c *sqliteClient) GetUserStats(ctx context.Context) (*db.UserStats, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := &db.UserStats{}
	err := c.db.GetContext(ctx, stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_approved = 1 THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN warnings > 0 THEN 1 ELSE 0 END), 0) AS with_warnings,
			COALESCE(SUM(CASE WHEN is_approved = 0 THEN 1 ELSE 0 END), 0) AS pending
		FROM users
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: get user stats: %w", errs.ErrStorage, err)
	}
	return stats, nil
}
