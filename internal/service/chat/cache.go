package chat

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"multichat/internal/domain/models"
)

// chatCache holds active chats by id. Entries are only written by holders of
// the chat's lock, and deleted chats are evicted before the lock is released,
// so a cached chat is never staler than the last committed write.
type chatCache struct {
	cache *ristretto.Cache
}

func newChatCache(maxChats int64) (*chatCache, error) {
	if maxChats <= 0 {
		maxChats = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxChats * 10,
		MaxCost:     maxChats,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat cache: %w", err)
	}
	return &chatCache{cache: cache}, nil
}

// get returns a copy of the cached chat
func (c *chatCache) get(chatID string) (*models.Chat, bool) {
	v, ok := c.cache.Get(chatID)
	if !ok {
		return nil, false
	}
	chat, ok := v.(*models.Chat)
	if !ok {
		return nil, false
	}
	return chat.Clone(), true
}

// put stores an active chat and waits for the write to become visible.
// Inactive chats are evicted instead.
func (c *chatCache) put(chat *models.Chat) {
	if !chat.IsActive() {
		c.evict(chat.ID)
		return
	}
	c.cache.Set(chat.ID, chat.Clone(), 1)
	c.cache.Wait()
}

func (c *chatCache) evict(chatID string) {
	c.cache.Del(chatID)
}

func (c *chatCache) close() {
	c.cache.Close()
}
