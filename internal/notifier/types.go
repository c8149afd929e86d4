package notifier

import (
	"time"

	kit "relaybot/internal/transport"
)

// Event types published on the bus.
const (
	EventSent   = "delivery.sent"
	EventFailed = "delivery.failed"
)

// Config controls delivery pacing and retries.
type Config struct {
	Target  kit.ChatTarget
	Options kit.SendOptions

	RatePerSec int
	// RetryMax is the number of extra attempts after the first one.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single SendText call.
	SendTimeout time.Duration
}

// Message is one relayed post.
type Message struct {
	PostID    string
	AccountID string
	Text      string
}

// Stats counts messages by final outcome. Retries counts extra attempts.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Retries uint64 `json:"retries"`
}

// DeliveryEvent is the Data of EventSent/EventFailed.
type DeliveryEvent struct {
	PostID    string    `json:"post_id"`
	AccountID string    `json:"account_id"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
