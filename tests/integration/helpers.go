package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/circuitbreaker"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestBreaker(name string) *circuitbreaker.Wrapper {
	return circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig(name))
}

func truncateTables(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := db.ExecContext(context.Background(), "TRUNCATE TABLE "+table); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

func resetRolloutConfig(t *testing.T, db *sql.DB) {
	t.Helper()
	query := `
		UPDATE chat_rollout_config
		SET stage = 'disabled', rollout_percentage = 0,
		    beta_user_ids = '[]', feature_flags = '{}',
		    version = 1, updated_at = now()
		WHERE id = 1
	`
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		t.Fatalf("failed to reset rollout config: %v", err)
	}
}

func addMember(t *testing.T, db *sql.DB, channelID, userID int64) {
	t.Helper()
	query := `
		INSERT INTO chat_channel_members (channel_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := db.ExecContext(context.Background(), query, channelID, userID); err != nil {
		t.Fatalf("failed to add channel member: %v", err)
	}
}

func makeEvent(eventType event.Type, channelID int64, expiresIn time.Duration) *event.Event {
	now := time.Now().UTC()
	return &event.Event{
		Type:      eventType,
		Priority:  event.PriorityNormal,
		ChannelID: channelID,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}
