package event

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Repository is the durable event store: an append-only Postgres table
// that is the single source of truth for delivery.
type Repository interface {
	Append(ctx context.Context, e *Event) (int64, error)
	Query(ctx context.Context, q Query) ([]Event, error)
	DeleteExpired(ctx context.Context, batchSize int) (int64, error)
	Compact(ctx context.Context) error
}

// Query describes one poll check: events after the cursor, in scope,
// of the requested types, not expired. AfterTime is the fallback
// cursor for clients that hold a timestamp but no event id yet.
type Query struct {
	Scope       Scope
	AfterID     int64
	AfterTime   time.Time
	Types       []Type
	Limit       int
	ExcludeUser int64 // 0 = no self-delivery suppression
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *Event) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("invalid event: %w", err)
	}

	query := `
		INSERT INTO chat_events
			(event_type, priority, channel_id, thread_id, message_id, actor_user_id, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		string(e.Type),
		int(e.Priority),
		e.ChannelID,
		e.ThreadID,
		e.MessageID,
		e.ActorUserID,
		nullableJSON(e.Payload),
		e.CreatedAt,
		e.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	e.ID = id
	return id, nil
}

func (r *PostgresRepository) Query(ctx context.Context, q Query) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	typeNames := make([]string, len(q.Types))
	for i, t := range q.Types {
		typeNames[i] = string(t)
	}

	query := `
		SELECT id, event_type, priority, channel_id, thread_id, message_id, actor_user_id, payload, created_at, expires_at
		FROM chat_events
		WHERE channel_id = $1
		  AND id > $2
		  AND expires_at > now()
		  AND event_type = ANY($3)
	`
	args := []interface{}{q.Scope.ChannelID, q.AfterID, pq.Array(typeNames)}

	if !q.AfterTime.IsZero() {
		args = append(args, q.AfterTime)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	if q.Scope.ThreadID > 0 {
		args = append(args, q.Scope.ThreadID)
		query += fmt.Sprintf(" AND thread_id = $%d", len(args))
	}
	if q.ExcludeUser > 0 {
		args = append(args, q.ExcludeUser)
		query += fmt.Sprintf(" AND actor_user_id <> $%d", len(args))
	}

	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY priority ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			typeName string
			priority int
			payload  sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&typeName,
			&priority,
			&e.ChannelID,
			&e.ThreadID,
			&e.MessageID,
			&e.ActorUserID,
			&payload,
			&e.CreatedAt,
			&e.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = Type(typeName)
		e.Priority = Priority(priority)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	// Batched so a large backlog never holds a long transaction.
	query := `
		DELETE FROM chat_events
		WHERE id IN (
			SELECT id FROM chat_events
			WHERE expires_at <= now()
			LIMIT $1
		)
	`

	res, err := r.db.ExecContext(ctx, query, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete count: %w", err)
	}
	return deleted, nil
}

func (r *PostgresRepository) Compact(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `VACUUM (ANALYZE) chat_events`); err != nil {
		return fmt.Errorf("failed to compact event table: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
