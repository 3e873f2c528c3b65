package moderator

import (
	"context"

	"github.com/iamwavecut/gatewarden/internal/db"
	"github.com/iamwavecut/gatewarden/internal/verdict"
)

type (
	Store interface {
		UpsertUser(ctx context.Context, id int64, username, displayName string) (bool, error)
		GetUser(ctx context.Context, id int64) (*db.User, error)
		SetApproved(ctx context.Context, id int64) error
		IncrementWarnings(ctx context.Context, id int64) (int, error)
		AppendMessageLog(ctx context.Context, userID int64, text string, isSpam bool) (int64, error)
	}

	Classifier interface {
		ClassifyText(ctx context.Context, text string) verdict.Verdict
		ClassifyImage(ctx context.Context, image []byte) verdict.Verdict
	}
)
