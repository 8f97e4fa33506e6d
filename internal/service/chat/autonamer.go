package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"multichat/internal/config"
	"multichat/internal/domain/models"
	"multichat/internal/domain/services"
)

// DefaultSummarizeTimeout bounds one title generation when unset
const DefaultSummarizeTimeout = 30 * time.Second

// AutoNamer replaces a chat's default name with a generated title once the
// first user/assistant exchange exists. Work runs detached from the request.
type AutoNamer struct {
	registry   *Registry
	summarizer services.Summarizer
	timeout    time.Duration
	logger     *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewAutoNamer creates an auto-namer. A nil summarizer disables naming.
func NewAutoNamer(registry *Registry, summarizer services.Summarizer, timeout time.Duration, logger *slog.Logger) *AutoNamer {
	if timeout <= 0 {
		timeout = DefaultSummarizeTimeout
	}
	return &AutoNamer{
		registry:   registry,
		summarizer: summarizer,
		timeout:    timeout,
		logger:     logger,
		pending:    make(map[string]struct{}),
	}
}

// MaybeRename starts background naming when chat still has the default name,
// was never named by its owner and messages contain a user turn followed by
// an assistant turn. Reports whether a job was started.
func (a *AutoNamer) MaybeRename(chat *models.Chat, messages []models.Message) bool {
	if a.summarizer == nil || !a.registry.hasDefaultName(chat) {
		return false
	}

	userText, botText, ok := firstExchange(messages)
	if !ok {
		return false
	}

	a.mu.Lock()
	if _, running := a.pending[chat.ID]; running {
		a.mu.Unlock()
		return false
	}
	a.pending[chat.ID] = struct{}{}
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.release(chat.ID)
		a.run(chat.ID, userText, botText)
	}()
	return true
}

// Wait blocks until every started naming job has finished
func (a *AutoNamer) Wait() {
	a.wg.Wait()
}

func (a *AutoNamer) release(chatID string) {
	a.mu.Lock()
	delete(a.pending, chatID)
	a.mu.Unlock()
}

func (a *AutoNamer) run(chatID, userText, botText string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	raw, err := a.summarizer.Summarize(ctx, conversationExcerpt(userText, botText))
	if err != nil {
		a.logger.Warn("chat title generation failed", "chat_id", chatID, "error", err)
		return
	}

	title := cleanTitle(raw)
	if title == "" {
		a.logger.Warn("chat title generation returned nothing usable", "chat_id", chatID, "raw", raw)
		return
	}

	applied, err := a.registry.autoRename(ctx, chatID, title)
	if err != nil {
		a.logger.Error("failed to apply generated chat title", "chat_id", chatID, "error", err)
		return
	}
	if !applied {
		a.logger.Debug("generated chat title discarded", "chat_id", chatID, "title", title)
	}
}

// firstExchange finds the first user turn that is followed by an assistant turn
func firstExchange(messages []models.Message) (string, string, bool) {
	userText := ""
	haveUser := false
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			if !haveUser {
				userText = m.Content
				haveUser = true
			}
		case models.RoleAssistant:
			if haveUser {
				return userText, m.Content, true
			}
		}
	}
	return "", "", false
}

func conversationExcerpt(userText, botText string) string {
	return fmt.Sprintf("- User: %q\n- Bot: %q", userText, botText)
}

// cleanTitle trims whitespace and surrounding quotes and clamps the length
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)

	// Titles are single-line
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}

	if len(title) > config.MaxChatNameLength {
		title = title[:config.MaxChatNameLength]
		for !utf8.ValidString(title) {
			title = title[:len(title)-1]
		}
		title = strings.TrimSpace(title)
	}
	return title
}
