// Package source defines the post model and the client surface the relay
// consumes from a social platform.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Resolve when a handle does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrRateLimited is matched (errors.Is) by every rate-limit error.
	ErrRateLimited = errors.New("rate limited")
)

// Account is a platform account resolved from a handle.
type Account struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`
}

// Post is a single published item.
type Post struct {
	ID        string
	Text      string
	AuthorID  string
	CreatedAt time.Time
}

// FetchParams selects posts of one account.
type FetchParams struct {
	AccountID string
	// SinceID restricts results to ids strictly greater than it ("" = unbounded).
	SinceID    string
	MaxResults int
	// StartTime drops posts created before it (zero = unbounded).
	StartTime time.Time
}

// Client is the source platform API used by the relay.
type Client interface {
	Resolve(ctx context.Context, handle string) (Account, error)
	// FetchRecent returns posts newest-first.
	FetchRecent(ctx context.Context, p FetchParams) ([]Post, error)
}

// RateLimitError reports an HTTP 429 from the source platform.
type RateLimitError struct {
	// Reset is when the platform says the window resets (zero if unknown).
	Reset time.Time
	// Limit and Remaining mirror the x-rate-limit-* headers (-1 if absent).
	Limit     int
	Remaining int
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited until %s", e.Reset.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// APIError is a non-success response that is not a rate limit.
type APIError struct {
	Op     string
	Status int
	Header http.Header
	Body   string
	// Title/Detail come from the problem document when the API returns one.
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": status ")
	b.WriteString(fmt.Sprint(e.Status))
	if e.Title != "" {
		b.WriteString(": ")
		b.WriteString(e.Title)
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// CompareIDs orders numeric post ids. Ids are decimal strings that may not fit
// in an int64 on every platform, so they are compared by length then digits.
// It returns -1, 0 or +1.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Oldest returns a copy of newest-first posts in chronological order.
func Oldest(posts []Post) []Post {
	out := make([]Post, len(posts))
	for i, p := range posts {
		out[len(posts)-1-i] = p
	}
	return out
}
