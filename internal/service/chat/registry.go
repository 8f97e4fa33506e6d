package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"multichat/internal/config"
	"multichat/internal/domain"
	"multichat/internal/domain/models"
	"multichat/internal/domain/repositories"
)

// RegistryConfig holds the collaborators shared by the registry and its ledger
type RegistryConfig struct {
	Store              repositories.MetadataStore
	Embedder           repositories.Embedder
	Settings           config.ChatSettings
	CascadeMaxAttempts int
	CacheSize          int64
	Logger             *slog.Logger
	Now                func() time.Time // Defaults to time.Now
}

// Registry manages chat records in the chat collection. It owns the message
// ledger so that soft delete can cascade under the same per-chat lock.
type Registry struct {
	store    repositories.MetadataStore
	embedder repositories.Embedder
	settings config.ChatSettings
	cache    *chatCache
	locks    *entityLocks
	ledger   *Ledger
	now      func() time.Time
	logger   *slog.Logger
}

// CreateOptions are the optional inputs of Create
type CreateOptions struct {
	Name     string
	Content  string
	Metadata map[string]interface{}
}

// NewRegistry creates a chat registry together with its message ledger
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("registry requires a store and an embedder")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("chat settings: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := newChatCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		settings: cfg.Settings,
		cache:    cache,
		locks:    newEntityLocks(),
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	r.ledger = newLedger(r, cfg.CascadeMaxAttempts)
	return r, nil
}

// Ledger returns the message ledger bound to this registry
func (r *Registry) Ledger() *Ledger {
	return r.ledger
}

// Settings returns the chat settings in effect
func (r *Registry) Settings() config.ChatSettings {
	return r.settings
}

// Close releases the chat cache
func (r *Registry) Close() {
	r.cache.close()
}

// Create creates a new active chat for owner.
// Fails with LimitExceeded when the owner already has max_chats active chats.
func (r *Registry) Create(ctx context.Context, owner string, opts CreateOptions) (*models.Chat, error) {
	unlock := r.locks.lockOwner(owner)
	defer unlock()

	if err := r.checkLimit(ctx, owner); err != nil {
		return nil, err
	}

	return r.insert(ctx, owner, opts)
}

// CreateIfNoneActive returns the owner's most recently created active chat,
// creating a default-named chat when there is none. The boolean reports
// whether a chat was created.
func (r *Registry) CreateIfNoneActive(ctx context.Context, owner string) (*models.Chat, bool, error) {
	unlock := r.locks.lockOwner(owner)
	defer unlock()

	active, err := r.listActive(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	if len(active) > 0 {
		latest := active[len(active)-1]
		return &latest, false, nil
	}

	if r.settings.MaxChats == 0 {
		return nil, false, &domain.LimitExceededError{Owner: owner, MaxChats: 0}
	}

	chat, err := r.insert(ctx, owner, CreateOptions{})
	if err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// Get returns an active chat or domain.ErrNotFound
func (r *Registry) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	if chat, ok := r.cache.get(chatID); ok {
		return chat, nil
	}

	unlock := r.locks.lockChat(chatID)
	defer unlock()

	return r.getLocked(ctx, chatID)
}

// Rename sets a user-chosen name. Only the name changes.
func (r *Registry) Rename(ctx context.Context, chatID, newName, requester string) (*models.Chat, error) {
	unlock := r.locks.lockChat(chatID)
	defer unlock()

	chat, err := r.authorizeLocked(ctx, chatID, requester)
	if err != nil {
		return nil, err
	}

	chat.Name = newName
	chat.NameIsUserSet = true
	if err := r.saveLocked(ctx, chat); err != nil {
		return nil, err
	}

	r.logger.Info("chat renamed",
		"chat_id", chatID,
		"owner", chat.Owner,
		"name", newName,
	)
	return chat, nil
}

// SoftDelete marks a chat deleted and synchronously removes its messages.
// A cascade failure is returned as *domain.CascadeIncompleteError; the chat
// stays deleted either way.
func (r *Registry) SoftDelete(ctx context.Context, chatID, requester string) error {
	unlock := r.locks.lockChat(chatID)
	defer unlock()

	chat, err := r.authorizeLocked(ctx, chatID, requester)
	if err != nil {
		return err
	}

	chat.Status = models.ChatStatusDeleted
	if err := r.saveLocked(ctx, chat); err != nil {
		return err
	}

	r.logger.Info("chat marked deleted", "chat_id", chatID, "owner", chat.Owner)

	return r.ledger.cascadeDeleteLocked(ctx, chatID)
}

// ListActive returns the owner's active chats, oldest first (ties by id)
func (r *Registry) ListActive(ctx context.Context, owner string) ([]models.Chat, error) {
	return r.listActive(ctx, owner)
}

// Touch refreshes the chat's last update time
func (r *Registry) Touch(ctx context.Context, chatID string) error {
	unlock := r.locks.lockChat(chatID)
	defer unlock()

	chat, err := r.getLocked(ctx, chatID)
	if err != nil {
		return err
	}
	return r.touchLocked(ctx, chat, r.now())
}

// autoRename applies a generated title if the chat still carries the
// default name and was never named by its owner. Returns whether it applied.
func (r *Registry) autoRename(ctx context.Context, chatID, title string) (bool, error) {
	unlock := r.locks.lockChat(chatID)
	defer unlock()

	chat, err := r.getLocked(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !r.hasDefaultName(chat) {
		return false, nil
	}

	chat.Name = title
	if err := r.saveLocked(ctx, chat); err != nil {
		return false, err
	}

	r.logger.Info("chat auto-named", "chat_id", chatID, "owner", chat.Owner, "name", title)
	return true, nil
}

// hasDefaultName reports whether the chat is still eligible for auto-naming
func (r *Registry) hasDefaultName(chat *models.Chat) bool {
	return !chat.NameIsUserSet && chat.Name == r.settings.DefaultChatName
}

func (r *Registry) checkLimit(ctx context.Context, owner string) error {
	if r.settings.MaxChats == config.UnlimitedChats {
		return nil
	}

	active, err := r.listActive(ctx, owner)
	if err != nil {
		return err
	}
	if len(active) >= r.settings.MaxChats {
		r.logger.Debug("chat limit reached", "owner", owner, "active", len(active), "max_chats", r.settings.MaxChats)
		return &domain.LimitExceededError{Owner: owner, MaxChats: r.settings.MaxChats}
	}
	return nil
}

// insert stores a new chat. Caller holds the owner lock.
func (r *Registry) insert(ctx context.Context, owner string, opts CreateOptions) (*models.Chat, error) {
	now := r.now()
	name := strings.TrimSpace(opts.Name)
	userSet := name != ""
	if !userSet {
		name = r.settings.DefaultChatName
	}

	// The embedded text is the caller's content when given, otherwise the name
	content := strings.TrimSpace(opts.Content)
	if content == "" {
		content = name
	}

	chat := &models.Chat{
		ID:            uuid.New().String(),
		Owner:         owner,
		Name:          name,
		NameIsUserSet: userSet,
		Status:        models.ChatStatusActive,
		Content:       content,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
		LastUpdate:    now,
	}

	metadata, err := encodeChat(chat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	embedding, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed chat: %w", err)
	}

	point := repositories.Point{
		ID:        chat.ID,
		Text:      content,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := r.store.Insert(ctx, repositories.CollectionChats, point); err != nil {
		r.logger.Error("failed to store chat", "owner", owner, "error", err)
		return nil, fmt.Errorf("store chat: %w", err)
	}

	r.cache.put(chat)

	r.logger.Info("chat created",
		"chat_id", chat.ID,
		"owner", owner,
		"name", name,
		"name_user_set", userSet,
	)
	return chat.Clone(), nil
}

// getLocked loads an active chat, reading through the cache. Caller holds the chat lock.
func (r *Registry) getLocked(ctx context.Context, chatID string) (*models.Chat, error) {
	if chat, ok := r.cache.get(chatID); ok {
		return chat, nil
	}

	chat, err := r.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive() {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}

	r.cache.put(chat)
	return chat, nil
}

// authorizeLocked loads an active chat and checks requester owns it.
// Absence is reported before ownership.
func (r *Registry) authorizeLocked(ctx context.Context, chatID, requester string) (*models.Chat, error) {
	chat, err := r.getLocked(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Owner != requester {
		r.logger.Warn("chat access denied", "chat_id", chatID, "requester", requester)
		return nil, &domain.ForbiddenError{Message: fmt.Sprintf("access denied to chat %s", chatID)}
	}
	return chat, nil
}

// load reads a chat record regardless of status
func (r *Registry) load(ctx context.Context, chatID string) (*models.Chat, error) {
	point, err := r.store.Get(ctx, repositories.CollectionChats, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return decodeChat(point)
}

// saveLocked writes the chat's metadata. Caller holds the chat lock.
func (r *Registry) saveLocked(ctx context.Context, chat *models.Chat) error {
	metadata, err := encodeChat(chat)
	if err != nil {
		return err
	}

	// Evict first so a failed write cannot leave the new state cached
	r.cache.evict(chat.ID)
	if err := r.store.UpdateMetadata(ctx, repositories.CollectionChats, chat.ID, metadata); err != nil {
		r.logger.Error("failed to update chat", "chat_id", chat.ID, "error", err)
		return fmt.Errorf("update chat: %w", err)
	}

	r.cache.put(chat)
	return nil
}

// touchLocked refreshes last_update. Caller holds the chat lock.
func (r *Registry) touchLocked(ctx context.Context, chat *models.Chat, at time.Time) error {
	if !at.After(chat.LastUpdate) {
		return nil
	}
	chat.LastUpdate = at
	return r.saveLocked(ctx, chat)
}

// listActive returns the owner's active chats, oldest first
func (r *Registry) listActive(ctx context.Context, owner string) ([]models.Chat, error) {
	points, err := r.store.QueryByMetadata(ctx, repositories.CollectionChats, repositories.Filter{
		keyOwner:  owner,
		keyStatus: string(models.ChatStatusActive),
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	chats := make([]models.Chat, 0, len(points))
	for i := range points {
		chat, err := decodeChat(&points[i])
		if err != nil {
			r.logger.Warn("skipping undecodable chat record", "chat_id", points[i].ID, "error", err)
			continue
		}
		chats = append(chats, *chat)
	}

	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].CreatedAt.Before(chats[j].CreatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	return chats, nil
}
