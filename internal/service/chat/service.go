package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"multichat/internal/config"
	"multichat/internal/domain"
	"multichat/internal/domain/models"
	"multichat/internal/domain/services"
)

// Service implements the ChatService interface.
// It validates requests and orchestrates the registry, ledger, resolver and auto-namer.
type Service struct {
	registry   *Registry
	ledger     *Ledger
	resolver   *Resolver
	namer      *AutoNamer
	authorizer services.ChatAuthorizer
	logger     *slog.Logger
}

// NewService creates a new chat service
func NewService(
	registry *Registry,
	resolver *Resolver,
	namer *AutoNamer,
	authorizer services.ChatAuthorizer,
	logger *slog.Logger,
) services.ChatService {
	return &Service{
		registry:   registry,
		ledger:     registry.Ledger(),
		resolver:   resolver,
		namer:      namer,
		authorizer: authorizer,
		logger:     logger,
	}
}

// CreateChat creates a new chat
func (s *Service) CreateChat(ctx context.Context, req *services.CreateChatRequest) (*models.Chat, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateCreateChatRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return s.registry.Create(ctx, req.Owner, CreateOptions{
		Name:     req.Name,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
}

// GetChat retrieves an active chat owned by requester
func (s *Service) GetChat(ctx context.Context, chatID, requester string) (*models.Chat, error) {
	if err := validateIdentity(chatID, requester); err != nil {
		return nil, err
	}
	return s.authorizer.CanAccessChat(ctx, requester, chatID)
}

// ListChats returns the owner's active chats in creation order
func (s *Service) ListChats(ctx context.Context, owner string) ([]models.Chat, error) {
	if err := validation.Validate(owner, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: owner: %v", domain.ErrValidation, err)
	}
	return s.registry.ListActive(ctx, owner)
}

// RenameChat sets a user-chosen name
func (s *Service) RenameChat(ctx context.Context, chatID, requester string, req *services.RenameChatRequest) (*models.Chat, error) {
	if err := validateIdentity(chatID, requester); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateRenameChatRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return s.registry.Rename(ctx, chatID, req.Name, requester)
}

// DeleteChat soft-deletes a chat and removes its messages
func (s *Service) DeleteChat(ctx context.Context, chatID, requester string) error {
	if err := validateIdentity(chatID, requester); err != nil {
		return err
	}

	if err := s.registry.SoftDelete(ctx, chatID, requester); err != nil {
		return err
	}

	s.logger.Info("chat deleted", "chat_id", chatID, "owner", requester)
	return nil
}

// IngestMessage resolves the target chat, stores the message and, after an
// assistant turn, gives the auto-namer a chance to title the chat
func (s *Service) IngestMessage(ctx context.Context, req *services.IngestMessageRequest) (*models.Message, error) {
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if err := s.validateIngestMessageRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msg, err := s.appendResolved(ctx, req)
	if err != nil && req.ChatID == "" && errors.Is(err, domain.ErrChatNotFound) {
		// The resolved chat was deleted between resolution and append
		s.logger.Debug("resolved chat vanished, resolving again", "owner", req.Owner)
		msg, err = s.appendResolved(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if msg.Role == models.RoleAssistant {
		s.maybeAutoName(ctx, msg.ChatID)
	}

	return msg, nil
}

// GetAllMessages returns every message of a chat owned by requester
func (s *Service) GetAllMessages(ctx context.Context, chatID, requester string) ([]models.Message, error) {
	if err := validateIdentity(chatID, requester); err != nil {
		return nil, err
	}
	if _, err := s.authorizer.CanAccessChat(ctx, requester, chatID); err != nil {
		return nil, err
	}
	return s.ledger.ListByChat(ctx, chatID)
}

// SearchMessages returns the messages of one chat most similar to the query
func (s *Service) SearchMessages(ctx context.Context, chatID, requester string, req *services.SearchMessagesRequest) ([]models.Message, error) {
	if err := validateIdentity(chatID, requester); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = config.DefaultSearchLimit
	}
	if err := s.validateSearchMessagesRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if _, err := s.authorizer.CanAccessChat(ctx, requester, chatID); err != nil {
		return nil, err
	}
	return s.ledger.Search(ctx, chatID, req.Query, req.Limit)
}

func (s *Service) appendResolved(ctx context.Context, req *services.IngestMessageRequest) (*models.Message, error) {
	chatID, err := s.resolver.Resolve(ctx, req.Owner, req.ChatID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Append(ctx, chatID, req.Role, req.Text, req.Metadata)
}

// maybeAutoName hands the chat to the auto-namer when it still has the default name.
// Failures only cost the chance to rename, so they are logged.
func (s *Service) maybeAutoName(ctx context.Context, chatID string) {
	if s.namer == nil {
		return
	}

	chat, err := s.registry.Get(ctx, chatID)
	if err != nil {
		s.logger.Debug("auto-naming skipped", "chat_id", chatID, "error", err)
		return
	}
	if !s.registry.hasDefaultName(chat) {
		return
	}

	messages, err := s.ledger.ListByChat(ctx, chatID)
	if err != nil {
		s.logger.Warn("auto-naming skipped, cannot list messages", "chat_id", chatID, "error", err)
		return
	}

	if s.namer.MaybeRename(chat, messages) {
		s.logger.Debug("auto-naming started", "chat_id", chatID)
	}
}

// Validation methods

func (s *Service) validateCreateChatRequest(req *services.CreateChatRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Owner, validation.Required),
		validation.Field(&req.Name, validation.Length(0, config.MaxChatNameLength)),
		validation.Field(&req.Content, validation.Length(0, config.MaxChatContentLength)),
	)
}

func (s *Service) validateRenameChatRequest(req *services.RenameChatRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name,
			validation.Required,
			validation.Length(1, config.MaxChatNameLength),
		),
	)
}

func (s *Service) validateIngestMessageRequest(req *services.IngestMessageRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Owner, validation.Required),
		validation.Field(&req.Text,
			validation.Required,
			validation.By(notBlank),
			validation.Length(1, config.MaxMessageLength),
		),
		validation.Field(&req.Role, validation.In(models.RoleUser, models.RoleAssistant)),
	)
}

func (s *Service) validateSearchMessagesRequest(req *services.SearchMessagesRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Query, validation.Required, validation.By(notBlank)),
		validation.Field(&req.Limit, validation.Min(1), validation.Max(config.MaxSearchLimit)),
	)
}

func validateIdentity(chatID, requester string) error {
	if err := validation.Validate(chatID, validation.Required); err != nil {
		return fmt.Errorf("%w: chat_id: %v", domain.ErrValidation, err)
	}
	if err := validation.Validate(requester, validation.Required); err != nil {
		return fmt.Errorf("%w: requester: %v", domain.ErrValidation, err)
	}
	return nil
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}
