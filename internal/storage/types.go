package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the delivery journal.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records the outcome of relaying one post.
type Delivery struct {
	At        time.Time `json:"at"`
	PostID    string    `json:"post_id"`
	AccountID string    `json:"account_id"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Attempts  int       `json:"attempts"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}
