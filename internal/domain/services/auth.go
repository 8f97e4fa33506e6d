package services

import (
	"context"

	"multichat/internal/domain/models"
)

// ChatAuthorizer checks whether a user may act on a chat.
// Current implementation: ownership (the creator is the only authorized user).
type ChatAuthorizer interface {
	// CanAccessChat returns the active chat when userID owns it.
	// domain.ErrNotFound if the chat is missing or deleted, domain.ErrForbidden otherwise.
	CanAccessChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
}
