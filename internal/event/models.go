package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type enumerates every chat mutation the engine delivers. The wire
// names are shared with the browser client and must not change.
type Type string

const (
	TypeMessageCreate        Type = "message_create"
	TypeMessageDelete        Type = "message_delete"
	TypeDateSeparatorDelete  Type = "date_separator_delete"
	TypeReactionUpdate       Type = "reaction_update"
	TypeThreadCreate         Type = "thread_create"
	TypeThreadDelete         Type = "thread_delete"
	TypeThreadReactionUpdate Type = "thread_reaction_update"
	TypeThreadSummaryUpdate  Type = "thread_summary_update"
)

var allTypes = []Type{
	TypeMessageCreate,
	TypeMessageDelete,
	TypeDateSeparatorDelete,
	TypeReactionUpdate,
	TypeThreadCreate,
	TypeThreadDelete,
	TypeThreadReactionUpdate,
	TypeThreadSummaryUpdate,
}

func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AllTypes returns a copy of every known event type.
func AllTypes() []Type {
	types := make([]Type, len(allTypes))
	copy(types, allTypes)
	return types
}

// ParseTypes parses the event_types request parameter: "all", empty, or
// a comma-separated list of type names.
func ParseTypes(raw string) ([]Type, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return AllTypes(), nil
	}

	parts := strings.Split(raw, ",")
	types := make([]Type, 0, len(parts))
	for _, part := range parts {
		t := Type(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type %q", part)
		}
		types = append(types, t)
	}
	return types, nil
}

// Priority is a serve-order hint. Lower values sort first, so critical
// events lead a batch. It never causes an event to be dropped.
type Priority int

const (
	PriorityCritical Priority = 10
	PriorityHigh     Priority = 20
	PriorityNormal   Priority = 30
	PriorityLow      Priority = 40
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// defaultPriority assigns the serve-order hint per event type: deletes
// must land before anything rendered on top of them, reaction and
// summary churn can trail.
func defaultPriority(t Type) Priority {
	switch t {
	case TypeMessageDelete, TypeThreadDelete, TypeDateSeparatorDelete:
		return PriorityHigh
	case TypeReactionUpdate, TypeThreadReactionUpdate, TypeThreadSummaryUpdate:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Event is an immutable record of a chat state change. Delivery is
// observation, not consumption: the same row is served to every client
// whose cursor precedes it until expires_at passes.
type Event struct {
	ID          int64           `json:"id"`
	Type        Type            `json:"type"`
	Priority    Priority        `json:"priority"`
	ChannelID   int64           `json:"channel_id"`
	ThreadID    int64           `json:"thread_id,omitempty"`
	MessageID   int64           `json:"message_id,omitempty"`
	ActorUserID int64           `json:"user_id,omitempty"`
	Payload     json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"timestamp"`
	ExpiresAt   time.Time       `json:"-"`
}

func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.ChannelID <= 0 {
		return fmt.Errorf("channel_id must be positive, got %d", e.ChannelID)
	}
	if e.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at must be set")
	}
	return nil
}

// Scope narrows a query to a channel and optionally one thread.
// ThreadID 0 means channel-wide.
type Scope struct {
	ChannelID int64
	ThreadID  int64
}

// Cursor is the client-held resumption marker. It has no server-side
// identity; every request rebuilds it from parameters.
type Cursor struct {
	LastEventID   int64
	LastTimestamp time.Time
}
