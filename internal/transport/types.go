package transport

import (
	"context"
	"fmt"
	"time"
)

// ChatTarget addresses a chat and, for forum groups, a topic thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions apply to plain-text messages; no parse mode is used, so post
// text is sent verbatim.
type SendOptions struct {
	DisablePreview bool
	Silent         bool
}

// Sender delivers text messages to a chat platform.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender with a lifecycle.
type Adapter interface {
	Sender
	Stop(ctx context.Context) error
}

// RetryAfterError is returned by a Sender when the platform asks the caller
// to back off before sending again.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }
