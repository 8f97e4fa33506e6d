package auth

import (
	"context"
	"fmt"

	"multichat/internal/domain"
	"multichat/internal/domain/models"
)

// ChatReader loads active chats
type ChatReader interface {
	Get(ctx context.Context, chatID string) (*models.Chat, error)
}

// OwnerBasedAuthorizer implements ChatAuthorizer using ownership checks.
// A user can access a chat only if they created it.
type OwnerBasedAuthorizer struct {
	chats ChatReader
}

// NewOwnerBasedAuthorizer creates a new ownership-based authorizer
func NewOwnerBasedAuthorizer(chats ChatReader) *OwnerBasedAuthorizer {
	return &OwnerBasedAuthorizer{chats: chats}
}

// CanAccessChat checks if user owns the chat.
// A missing or deleted chat is reported as not found before ownership is considered.
func (a *OwnerBasedAuthorizer) CanAccessChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	chat, err := a.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if chat.Owner != userID {
		return nil, fmt.Errorf("access denied to chat %s: %w", chatID, domain.ErrForbidden)
	}
	return chat, nil
}
