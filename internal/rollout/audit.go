package rollout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one control action against the rollout record.
type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditRepository interface {
	Insert(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func NewAuditEntry(action, actor, detail string) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *PostgresAuditRepository) Insert(ctx context.Context, entry AuditEntry) error {
	query := `
		INSERT INTO chat_rollout_audit (id, action, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.Action, entry.Actor, entry.Detail, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	query := `
		SELECT id, action, actor, detail, created_at
		FROM chat_rollout_audit
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}
