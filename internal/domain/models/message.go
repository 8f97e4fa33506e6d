package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored turn. Messages are never mutated; they are removed
// only when their chat is deleted.
type Message struct {
	ID        string                 `json:"id"`
	ChatID    string                 `json:"chat_id"`
	Owner     string                 `json:"owner"`
	Role      string                 `json:"role"` // "user" or "assistant"
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Sequence  int64                  `json:"sequence"` // Per-chat, strictly increasing
	Metadata  map[string]interface{} `json:"metadata"`
}

// Before reports whether m sorts before other in chronological order
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.Sequence < other.Sequence
}
