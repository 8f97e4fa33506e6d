package services

import (
	"context"

	"multichat/internal/domain/models"
)

// ChatService defines the business logic for multi-chat operations.
// Every operation that targets an existing chat checks that requester owns it.
type ChatService interface {
	// CreateChat creates a new active chat for req.Owner
	// Fails with domain.ErrLimitExceeded when the owner is at max_chats
	CreateChat(ctx context.Context, req *CreateChatRequest) (*models.Chat, error)

	// GetChat retrieves an active chat
	GetChat(ctx context.Context, chatID, requester string) (*models.Chat, error)

	// ListChats returns the owner's active chats in creation order
	ListChats(ctx context.Context, owner string) ([]models.Chat, error)

	// RenameChat sets a user-chosen name. Metadata and creation time are untouched.
	RenameChat(ctx context.Context, chatID, requester string, req *RenameChatRequest) (*models.Chat, error)

	// DeleteChat soft-deletes a chat and synchronously removes its messages
	DeleteChat(ctx context.Context, chatID, requester string) error

	// IngestMessage stores a message, resolving or creating the target chat
	// when req.ChatID is empty. May trigger automatic naming in the background.
	IngestMessage(ctx context.Context, req *IngestMessageRequest) (*models.Message, error)

	// GetAllMessages returns every message of a chat in chronological order
	GetAllMessages(ctx context.Context, chatID, requester string) ([]models.Message, error)

	// SearchMessages returns the messages of one chat most similar to query
	SearchMessages(ctx context.Context, chatID, requester string, req *SearchMessagesRequest) ([]models.Message, error)
}

// CreateChatRequest is the DTO for creating a new chat
type CreateChatRequest struct {
	Owner    string                 `json:"-"` // Set by handler from auth context
	Name     string                 `json:"name,omitempty"`
	Content  string                 `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RenameChatRequest is the DTO for renaming a chat
type RenameChatRequest struct {
	Name string `json:"name"`
}

// IngestMessageRequest is the DTO for storing a message
type IngestMessageRequest struct {
	Owner    string                 `json:"-"` // Set by handler from auth context
	Text     string                 `json:"text"`
	ChatID   string                 `json:"chat_id,omitempty"`
	Role     string                 `json:"role,omitempty"` // Defaults to "user"
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchMessagesRequest is the DTO for similarity search within a chat
type SearchMessagesRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Summarizer turns a conversation excerpt into a short title
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
