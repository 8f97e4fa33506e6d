package models

import (
	"time"
)

// ChatStatus is the soft-delete state of a chat record
type ChatStatus string

const (
	ChatStatusActive  ChatStatus = "active"
	ChatStatusDeleted ChatStatus = "deleted"
)

// Chat is one owned conversation partition.
// Deleted chats keep their record (status=deleted) so ids are never reused.
type Chat struct {
	ID            string                 `json:"id"`
	Owner         string                 `json:"owner"`
	Name          string                 `json:"name"`
	NameIsUserSet bool                   `json:"name_is_user_set"`
	Status        ChatStatus             `json:"status"`
	Content       string                 `json:"content"` // Text embedded for the chat point
	Metadata      map[string]interface{} `json:"metadata"`
	CreatedAt     time.Time              `json:"created_at"`
	LastUpdate    time.Time              `json:"last_update"`
}

// IsActive reports whether the chat is visible to lookups
func (c *Chat) IsActive() bool {
	return c.Status == ChatStatusActive
}

// Clone returns a copy that shares no mutable state with c
func (c *Chat) Clone() *Chat {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
