package db

import "context"

// Client is the user and message store. Implementations must be safe for
// concurrent use.
type Client interface {
	// UpsertUser registers a user seen joining. It is a no-op for known users
	// and reports whether the user was created.
	UpsertUser(ctx context.Context, id int64, username, displayName string) (bool, error)
	// GetUser returns nil without an error when the user is unknown.
	GetUser(ctx context.Context, id int64) (*User, error)
	SetApproved(ctx context.Context, id int64) error
	// IncrementWarnings atomically adds one warning and returns the new count.
	IncrementWarnings(ctx context.Context, id int64) (int, error)
	AppendMessageLog(ctx context.Context, userID int64, text string, isSpam bool) (int64, error)
	GetUserStats(ctx context.Context) (*UserStats, error)
	Close() error
}
