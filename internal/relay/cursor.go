package relay

import (
	"maps"

	"relaybot/internal/source"
)

// Cursors maps an account id to the id of its most recently relayed post.
// A missing entry means no baseline yet.
//
// It is owned by the relay goroutine and is not safe for concurrent use.
type Cursors struct {
	m map[string]string
}

func NewCursors() *Cursors {
	return &Cursors{m: map[string]string{}}
}

// Get returns the cursor of accountID and whether one is set.
func (c *Cursors) Get(accountID string) (string, bool) {
	id, ok := c.m[accountID]
	return id, ok
}

// Advance moves the cursor of accountID to postID. Cursors never move
// backwards: an older or equal id is ignored and Advance reports false.
func (c *Cursors) Advance(accountID, postID string) bool {
	if postID == "" {
		return false
	}
	if cur, ok := c.m[accountID]; ok && source.CompareIDs(postID, cur) <= 0 {
		return false
	}
	c.m[accountID] = postID
	return true
}

// Len returns the number of accounts with a baseline.
func (c *Cursors) Len() int { return len(c.m) }

// Snapshot returns a copy of all cursors.
func (c *Cursors) Snapshot() map[string]string {
	return maps.Clone(c.m)
}
