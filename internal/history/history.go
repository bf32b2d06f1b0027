// Package history bounds conversation history before it is handed to a
// chat model.
package history

import (
	"slices"
	"time"
)

// Role values used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment is a file reference carried on a message. The agent core
// passes attachments through untouched.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Trim returns at most limit messages from the tail of messages,
// beginning with a user turn. Chat APIs reject histories that open with
// an assistant or system message, and a plain suffix can land on one.
//
// The result is a fresh slice; messages is never modified. An empty
// result is valid and means there is no usable history.
func Trim(messages []Message, limit int) []Message {
	if limit <= 0 || len(messages) == 0 {
		return []Message{}
	}

	start := len(messages) - limit
	if start < 0 {
		start = 0
	}
	for start < len(messages) && messages[start].Role != RoleUser {
		start++
	}

	out := make([]Message, 0, len(messages)-start)
	for _, m := range messages[start:] {
		m.Attachments = slices.Clone(m.Attachments)
		out = append(out, m)
	}
	return out
}

// Bytes returns the total content length of messages, the unit the
// budget manager converts into tokens.
func Bytes(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Role) + len(m.Content)
	}
	return n
}
