package poll

import (
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/event"
)

// Request is one long-poll attempt, rebuilt from client parameters on
// every request. The cursor lives entirely on the client.
type Request struct {
	UserID      int64
	ChannelID   int64
	ThreadID    int64
	Cursor      event.Cursor
	Timeout     time.Duration
	Types       []event.Type
	ExcludeSelf bool
}

// Response is the poll endpoint's success shape. LastEventID is the
// highest id observed and becomes the client's next cursor.
type Response struct {
	Events      []event.Event `json:"events"`
	Timestamp   time.Time     `json:"timestamp"`
	LatencyMs   int64         `json:"latency_ms"`
	Timeout     bool          `json:"timeout"`
	LastEventID int64         `json:"last_event_id"`
}
