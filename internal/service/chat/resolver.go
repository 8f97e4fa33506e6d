package chat

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"multichat/internal/domain/services"
)

// Resolver picks the chat an inbound message belongs to when the caller
// does not name one
type Resolver struct {
	registry   *Registry
	authorizer services.ChatAuthorizer
	group      singleflight.Group
	logger     *slog.Logger
}

// NewResolver creates a default-chat resolver
func NewResolver(registry *Registry, authorizer services.ChatAuthorizer, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry:   registry,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Resolve returns suppliedChatID after checking owner may use it, otherwise
// the owner's most recently created active chat, otherwise a newly created
// default chat. Concurrent calls for one owner share a single lookup.
func (r *Resolver) Resolve(ctx context.Context, owner, suppliedChatID string) (string, error) {
	if suppliedChatID != "" {
		if _, err := r.authorizer.CanAccessChat(ctx, owner, suppliedChatID); err != nil {
			return "", err
		}
		return suppliedChatID, nil
	}

	// The flight is shared by every concurrent caller for owner, so it must
	// not die with whichever request happened to start it
	flightCtx := context.WithoutCancel(ctx)

	v, err, shared := r.group.Do(owner, func() (interface{}, error) {
		chat, created, err := r.registry.CreateIfNoneActive(flightCtx, owner)
		if err != nil {
			return "", err
		}
		if created {
			r.logger.Info("default chat created", "chat_id", chat.ID, "owner", owner)
		}
		return chat.ID, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		r.logger.Debug("default chat resolution shared", "owner", owner)
	}
	return v.(string), nil
}
