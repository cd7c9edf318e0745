package membership

import (
	"context"
	"database/sql"
	"fmt"
)

// Checker answers whether a user may read a channel. Membership is
// owned by the messaging side of the CMS; this engine only reads it.
type Checker interface {
	IsMember(ctx context.Context, userID, channelID int64) (bool, error)
}

type PostgresChecker struct {
	db *sql.DB
}

func NewChecker(db *sql.DB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) IsMember(ctx context.Context, userID, channelID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_channel_members
			WHERE channel_id = $1 AND user_id = $2
		)
	`

	var member bool
	if err := c.db.QueryRowContext(ctx, query, channelID, userID).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check channel membership: %w", err)
	}
	return member, nil
}
