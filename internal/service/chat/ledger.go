package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"multichat/internal/domain"
	"multichat/internal/domain/models"
	"multichat/internal/domain/repositories"
)

// DefaultCascadeMaxAttempts bounds delete-then-verify rounds when unset
const DefaultCascadeMaxAttempts = 3

// Ledger stores and retrieves the messages of each chat in the episodic
// collection. Every stored point is tagged with its chat_id.
type Ledger struct {
	chats       *Registry
	store       repositories.MetadataStore
	embedder    repositories.Embedder
	locks       *entityLocks
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger

	seqMu sync.Mutex
	seqs  map[string]*chatSequence
}

// chatSequence is the ordering state of one chat. Guarded by the chat lock.
type chatSequence struct {
	last     int64
	lastTime time.Time
}

func newLedger(r *Registry, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultCascadeMaxAttempts
	}
	return &Ledger{
		chats:       r,
		store:       r.store,
		embedder:    r.embedder,
		locks:       r.locks,
		maxAttempts: maxAttempts,
		now:         r.now,
		logger:      r.logger,
		seqs:        make(map[string]*chatSequence),
	}
}

// Append stores a message in an active chat.
// Returns domain.ErrChatNotFound if the chat is missing or deleted.
func (l *Ledger) Append(ctx context.Context, chatID, role, content string, metadata map[string]interface{}) (*models.Message, error) {
	unlock := l.locks.lockChat(chatID)
	defer unlock()

	chat, err := l.chats.getLocked(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("append to chat %s: %w", chatID, domain.ErrChatNotFound)
		}
		return nil, err
	}

	seq, err := l.sequenceLocked(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// Clamp so timestamps never run backwards within a chat
	ts := l.now()
	if ts.Before(seq.lastTime) {
		ts = seq.lastTime
	}

	tagged := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		tagged[k] = v
	}
	tagged[keyChatID] = chatID

	msg := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Owner:     chat.Owner,
		Role:      role,
		Content:   content,
		Timestamp: ts,
		Sequence:  seq.last + 1,
		Metadata:  tagged,
	}

	encoded, err := encodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	embedding, err := l.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed message: %w", err)
	}

	point := repositories.Point{
		ID:        msg.ID,
		Text:      content,
		Embedding: embedding,
		Metadata:  encoded,
	}
	if err := l.store.Insert(ctx, repositories.CollectionMessages, point); err != nil {
		l.logger.Error("failed to store message", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("store message: %w", err)
	}

	seq.last = msg.Sequence
	seq.lastTime = ts

	// The message is stored; a stale last_update is not worth failing the append
	if err := l.chats.touchLocked(ctx, chat, ts); err != nil {
		l.logger.Warn("failed to touch chat", "chat_id", chatID, "error", err)
	}

	l.logger.Debug("message appended",
		"chat_id", chatID,
		"message_id", msg.ID,
		"role", role,
		"sequence", msg.Sequence,
	)
	return msg, nil
}

// ListByChat returns the chat's messages ordered by (timestamp, sequence)
func (l *Ledger) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	points, err := l.store.QueryByMetadata(ctx, repositories.CollectionMessages, repositories.Filter{keyChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := l.decodeAll(points)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(&messages[j])
	})
	return messages, nil
}

// Search returns up to limit messages of the chat most similar to query
func (l *Ledger) Search(ctx context.Context, chatID, query string, limit int) ([]models.Message, error) {
	embedding, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := l.store.QueryBySimilarity(ctx, repositories.CollectionMessages, embedding,
		repositories.Filter{keyChatID: chatID}, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	points := make([]repositories.Point, len(scored))
	for i, sp := range scored {
		points[i] = sp.Point
	}
	return l.decodeAll(points), nil
}

// CascadeDelete removes every message of the chat
func (l *Ledger) CascadeDelete(ctx context.Context, chatID string) error {
	unlock := l.locks.lockChat(chatID)
	defer unlock()

	return l.cascadeDeleteLocked(ctx, chatID)
}

// cascadeDeleteLocked deletes by filter and verifies nothing is left,
// repeating up to maxAttempts times. Caller holds the chat lock.
func (l *Ledger) cascadeDeleteLocked(ctx context.Context, chatID string) error {
	filter := repositories.Filter{keyChatID: chatID}
	remaining := 0
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		deleted, err := l.store.Delete(ctx, repositories.CollectionMessages, filter)
		if err != nil {
			lastErr = err
			l.logger.Warn("cascade delete attempt failed", "chat_id", chatID, "attempt", attempt, "error", err)
			continue
		}

		left, err := l.store.QueryByMetadata(ctx, repositories.CollectionMessages, filter)
		if err != nil {
			lastErr = err
			l.logger.Warn("cascade verify failed", "chat_id", chatID, "attempt", attempt, "error", err)
			continue
		}

		if len(left) == 0 {
			l.forgetSequence(chatID)
			l.logger.Info("chat messages deleted", "chat_id", chatID, "deleted", deleted, "attempts", attempt)
			return nil
		}

		remaining = len(left)
		lastErr = nil
		l.logger.Warn("messages survived cascade delete", "chat_id", chatID, "attempt", attempt, "remaining", remaining)
	}

	cascadeErr := &domain.CascadeIncompleteError{
		ChatID:    chatID,
		Attempts:  l.maxAttempts,
		Remaining: remaining,
		Cause:     lastErr,
	}
	l.logger.Error("cascade delete incomplete",
		"chat_id", chatID,
		"attempts", l.maxAttempts,
		"remaining", remaining,
		"error", lastErr,
	)
	return cascadeErr
}

// sequenceLocked returns the chat's ordering state, recovering it from the
// store on first use. Caller holds the chat lock.
func (l *Ledger) sequenceLocked(ctx context.Context, chatID string) (*chatSequence, error) {
	l.seqMu.Lock()
	seq, ok := l.seqs[chatID]
	l.seqMu.Unlock()
	if ok {
		return seq, nil
	}

	points, err := l.store.QueryByMetadata(ctx, repositories.CollectionMessages, repositories.Filter{keyChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("load message sequence: %w", err)
	}

	seq = &chatSequence{}
	for _, m := range l.decodeAll(points) {
		if m.Sequence > seq.last {
			seq.last = m.Sequence
		}
		if m.Timestamp.After(seq.lastTime) {
			seq.lastTime = m.Timestamp
		}
	}

	l.seqMu.Lock()
	l.seqs[chatID] = seq
	l.seqMu.Unlock()
	return seq, nil
}

func (l *Ledger) forgetSequence(chatID string) {
	l.seqMu.Lock()
	delete(l.seqs, chatID)
	l.seqMu.Unlock()
}

func (l *Ledger) decodeAll(points []repositories.Point) []models.Message {
	messages := make([]models.Message, 0, len(points))
	for i := range points {
		msg, err := decodeMessage(&points[i])
		if err != nil {
			l.logger.Warn("skipping undecodable message", "message_id", points[i].ID, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}
	return messages
}
