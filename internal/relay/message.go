package relay

import (
	"fmt"

	"relaybot/internal/source"
)

// FormatMessage renders the chat message for a relayed post.
func FormatMessage(acc source.Account, p source.Post) string {
	return fmt.Sprintf("New post by account %s:\n\n%s", acc.ID, p.Text)
}
