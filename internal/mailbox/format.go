package mailbox

import (
	"fmt"
	"strings"
	"time"
)

// FormatForInbox renders messages as a human-readable block suitable for an
// agent to consume from its terminal. Messages are grouped by sender,
// preserving arrival order within each group.
//
// Returns an empty string if there are no messages.
func FormatForInbox(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	groups := make(map[string][]Message)
	var senderOrder []string
	for _, msg := range messages {
		if _, exists := groups[msg.From]; !exists {
			senderOrder = append(senderOrder, msg.From)
		}
		groups[msg.From] = append(groups[msg.From], msg)
	}

	var b strings.Builder
	b.WriteString("<mailbox-messages>\n")

	for i, from := range senderOrder {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("[FROM %s]\n", strings.ToUpper(from)))
		for _, msg := range groups[from] {
			if msg.IsBroadcast() {
				b.WriteString("  (broadcast)\n")
			}
			b.WriteString(fmt.Sprintf("  %s\n", msg.Body))
			b.WriteString("\n")
		}
	}

	b.WriteString("</mailbox-messages>")
	return b.String()
}

// FilterOptions controls which messages are included by FormatFiltered.
type FilterOptions struct {
	Since       time.Time // Only messages after this time (zero = all)
	From        string    // Only messages from this sender (empty = all)
	Unread      bool      // Only undelivered messages
	MaxMessages int       // Maximum messages to include (0 = unlimited)
}

// FormatFiltered applies filters to messages and formats the result using
// FormatForInbox. Filters are applied in order: unread, since, from, then
// max messages (keeping the most recent).
func FormatFiltered(messages []Message, opts FilterOptions) string {
	return FormatForInbox(filterMessages(messages, opts))
}

// filterMessages applies FilterOptions to a slice of messages and returns
// the matching subset.
func filterMessages(messages []Message, opts FilterOptions) []Message {
	var result []Message

	for _, msg := range messages {
		if opts.Unread && msg.Delivered() {
			continue
		}
		if !opts.Since.IsZero() && !msg.CreatedAt.After(opts.Since) {
			continue
		}
		if opts.From != "" && msg.From != opts.From {
			continue
		}
		result = append(result, msg)
	}

	if opts.MaxMessages > 0 && len(result) > opts.MaxMessages {
		result = result[len(result)-opts.MaxMessages:]
	}

	return result
}
