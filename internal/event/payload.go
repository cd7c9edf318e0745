package event

import (
	"encoding/json"
	"time"
)

// Payload variants, one per event type. The engine treats the encoded
// form as opaque; these structs exist so producers build well-formed
// data instead of the stringly-typed maps the old implementations used.

type MessageCreatedPayload struct {
	Body        string `json:"body"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	HasAttach   bool   `json:"has_attachment,omitempty"`
}

type MessageDeletedPayload struct {
	DeletedAt time.Time `json:"deleted_at"`
}

type DateSeparatorDeletedPayload struct {
	Date string `json:"date"` // YYYY-MM-DD
}

type ReactionUpdatedPayload struct {
	Reactions map[string][]int64 `json:"reactions"` // emoji -> reacting user ids
}

type ThreadCreatedPayload struct {
	Body        string `json:"body"`
	DisplayName string `json:"display_name,omitempty"`
}

type ThreadDeletedPayload struct {
	DeletedAt time.Time `json:"deleted_at"`
}

type ThreadReactionUpdatedPayload struct {
	Reactions map[string][]int64 `json:"reactions"`
}

type ThreadSummaryUpdatedPayload struct {
	ReplyCount   int       `json:"reply_count"`
	LastReplyAt  time.Time `json:"last_reply_at"`
	Participants []int64   `json:"participants,omitempty"`
}

func encodePayload(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
