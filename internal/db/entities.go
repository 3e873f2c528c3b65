package db

import "time"

type (
	User struct {
		ID          int64     `db:"user_id"`
		UserName    string    `db:"username"`
		DisplayName string    `db:"display_name"`
		JoinDate    time.Time `db:"join_date"`
		IsApproved  bool      `db:"is_approved"`
		Warnings    int       `db:"warnings"`
	}

	MessageRecord struct {
		ID        int64     `db:"message_id"`
		UserID    int64     `db:"user_id"`
		Text      string    `db:"message_text"`
		IsSpam    bool      `db:"is_spam"`
		CreatedAt time.Time `db:"created_at"`
	}

	UserStats struct {
		Total        int `db:"total"`
		Approved     int `db:"approved"`
		WithWarnings int `db:"with_warnings"`
		Pending      int `db:"pending"`
	}
)
