// ABOUTME: Core domain types for ragline conversations.
// ABOUTME: Messages, cited sources, and session summaries shared across the engine.

package chat

import "time"

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Source is a cited reference attached to an assistant reply.
type Source struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once stored;
// identity is ID, which may be assigned client-side (optimistic user messages)
// or server-side (everything delivered over the push channel).
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
}

// SessionSummary describes a conversation without materializing its messages.
// Only the active session's messages are held in memory; everything else is
// browsed through summaries fetched on demand.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
