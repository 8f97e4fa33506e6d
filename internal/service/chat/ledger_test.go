package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"multichat/internal/domain"
	"multichat/internal/domain/models"
	"multichat/internal/domain/repositories"
	"multichat/internal/domain/services"
)

func TestLedger_AppendTagsChatID(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	chat, _ := env.registry.Create(ctx, "alice", CreateOptions{})
	msg, err := env.ledger.Append(ctx, chat.ID, models.RoleUser, "hi", map[string]interface{}{
		"chat_id": "spoofed",
		"source":  "web",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if msg.Metadata["chat_id"] != chat.ID {
		t.Errorf("metadata chat_id = %v, want %s", msg.Metadata["chat_id"], chat.ID)
	}
	if msg.Metadata["source"] != "web" {
		t.Errorf("caller metadata lost: %v", msg.Metadata)
	}

	points, err := env.store.QueryByMetadata(ctx, repositories.CollectionMessages, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 {
		t.Fatalf("stored %d points, want 1", len(points))
	}
	for _, p := range points {
		if p.Metadata[keyChatID] != chat.ID {
			t.Errorf("point %s chat_id = %q, want %s", p.ID, p.Metadata[keyChatID], chat.ID)
		}
	}
}

func TestLedger_AppendToMissingOrDeletedChat(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	if _, err := env.ledger.Append(ctx, "missing", models.RoleUser, "hi", nil); !errors.Is(err, domain.ErrChatNotFound) {
		t.Errorf("Append(missing) error = %v, want ErrChatNotFound", err)
	}

	chat, _ := env.registry.Create(ctx, "alice", CreateOptions{})
	if err := env.registry.SoftDelete(ctx, chat.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := env.ledger.Append(ctx, chat.ID, models.RoleUser, "hi", nil)
	if !errors.Is(err, domain.ErrChatNotFound) {
		t.Errorf("Append(deleted) error = %v, want ErrChatNotFound", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ErrChatNotFound should also match ErrNotFound")
	}

	points, _ := env.store.QueryByMetadata(ctx, repositories.CollectionMessages, repositories.Filter{keyChatID: chat.ID})
	if len(points) != 0 {
		t.Errorf("orphaned messages stored: %d", len(points))
	}
}

func TestLedger_OrderingWithEqualAndBackwardsTimestamps(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{
		base,                       // chat created_at
		base.Add(time.Second),      // msg 1
		base.Add(time.Second),      // msg 2 (same instant)
		base.Add(-time.Hour),       // msg 3 (clock stepped back)
		base.Add(2 * time.Second), // msg 4
	}}
	env := newTestEnv(t, envOptions{now: clock.Now})
	ctx := context.Background()

	chat, err := env.registry.Create(ctx, "alice", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		if _, err := env.ledger.Append(ctx, chat.ID, models.RoleUser, text, nil); err != nil {
			t.Fatalf("Append(%s) error = %v", text, err)
		}
	}

	msgs, err := env.ledger.ListByChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(texts) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(texts))
	}
	for i, m := range msgs {
		if m.Content != texts[i] {
			t.Errorf("msgs[%d] = %q, want %q", i, m.Content, texts[i])
		}
		if m.Sequence != int64(i+1) {
			t.Errorf("msgs[%d].Sequence = %d, want %d", i, m.Sequence, i+1)
		}
		if i > 0 {
			prev := msgs[i-1]
			if m.Timestamp.Before(prev.Timestamp) {
				t.Errorf("timestamp decreased at %d: %v < %v", i, m.Timestamp, prev.Timestamp)
			}
			if !prev.Before(&m) {
				t.Errorf("msgs[%d] not strictly after msgs[%d]", i, i-1)
			}
		}
	}

	// Listing is stable across calls
	again, _ := env.ledger.ListByChat(ctx, chat.ID)
	for i := range msgs {
		if again[i].ID != msgs[i].ID {
			t.Fatalf("order changed between listings at %d", i)
		}
	}
}

func TestLedger_SequenceRecoveredAfterRestart(t *testing.T) {
	store := newChromemStore(t)
	ctx := context.Background()

	first := newTestEnvOnStore(t, store, envOptions{})
	chat, _ := first.registry.Create(ctx, "alice", CreateOptions{})
	for _, text := range []string{"a", "b"} {
		if _, err := first.ledger.Append(ctx, chat.ID, models.RoleUser, text, nil); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh registry over the same store has no in-memory sequence state
	second := newTestEnvOnStore(t, store, envOptions{now: func() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) }})
	msg, err := second.ledger.Append(ctx, chat.ID, models.RoleUser, "c", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if msg.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", msg.Sequence)
	}

	msgs, _ := second.ledger.ListByChat(ctx, chat.ID)
	if len(msgs) != 3 || msgs[2].Content != "c" {
		t.Errorf("new message not last: %v", messageContents(msgs))
	}
}

func TestLedger_ListByChatEmpty(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	msgs, err := env.ledger.ListByChat(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("ListByChat() error = %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("ListByChat() = %v, want empty non-nil slice", msgs)
	}
}

func TestLedger_CascadeDeleteRetriesUntilClean(t *testing.T) {
	stubborn := &stubbornStore{ignoreDeletes: 2}
	env := newTestEnv(t, envOptions{store: func(base repositories.MetadataStore) repositories.MetadataStore {
		stubborn.MetadataStore = base
		return stubborn
	}})
	ctx := context.Background()

	chat, _ := env.registry.Create(ctx, "alice", CreateOptions{})
	for _, text := range []string{"x", "y", "z"} {
		if _, err := env.ledger.Append(ctx, chat.ID, models.RoleUser, text, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := env.registry.SoftDelete(ctx, chat.ID, "alice"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if stubborn.deleteCalls != 3 {
		t.Errorf("delete calls = %d, want 3", stubborn.deleteCalls)
	}

	msgs, _ := env.ledger.ListByChat(ctx, chat.ID)
	if len(msgs) != 0 {
		t.Errorf("%d messages survived", len(msgs))
	}
}

func TestLedger_CascadeDeleteIncomplete(t *testing.T) {
	tests := []struct {
		name          string
		store         *stubbornStore
		wantRemaining int
	}{
		{"deletes silently ignored", &stubbornStore{ignoreDeletes: 100}, 2},
		{"deletes always fail", &stubbornStore{failDeletes: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{store: func(base repositories.MetadataStore) repositories.MetadataStore {
				tt.store.MetadataStore = base
				return tt.store
			}})
			ctx := context.Background()

			chat, _ := env.registry.Create(ctx, "alice", CreateOptions{})
			for _, text := range []string{"x", "y"} {
				if _, err := env.ledger.Append(ctx, chat.ID, models.RoleUser, text, nil); err != nil {
					t.Fatal(err)
				}
			}

			err := env.registry.SoftDelete(ctx, chat.ID, "alice")
			if !errors.Is(err, domain.ErrCascadeIncomplete) {
				t.Fatalf("SoftDelete() error = %v, want ErrCascadeIncomplete", err)
			}

			var cascadeErr *domain.CascadeIncompleteError
			if !errors.As(err, &cascadeErr) {
				t.Fatalf("error %T is not *CascadeIncompleteError", err)
			}
			if cascadeErr.ChatID != chat.ID || cascadeErr.Attempts != 3 || cascadeErr.Remaining != tt.wantRemaining {
				t.Errorf("cascade error = %+v", cascadeErr)
			}

			// The chat itself never resurfaces
			if _, err := env.registry.Get(ctx, chat.ID); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("Get() after failed cascade = %v, want ErrNotFound", err)
			}
			active, _ := env.registry.ListActive(ctx, "alice")
			if len(active) != 0 {
				t.Errorf("ListActive() = %v, want empty", chatNames(active))
			}
		})
	}
}

func TestLedger_Search(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	travel, _ := env.registry.Create(ctx, "alice", CreateOptions{Name: "Travel"})
	food, _ := env.registry.Create(ctx, "alice", CreateOptions{Name: "Food"})

	for _, text := range []string{"book a flight to lisbon", "hotel near the beach"} {
		if _, err := env.ledger.Append(ctx, travel.ID, models.RoleUser, text, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.ledger.Append(ctx, food.ID, models.RoleUser, "flight of wine tasting in lisbon", nil); err != nil {
		t.Fatal(err)
	}

	got, err := env.ledger.Search(ctx, travel.ID, "flight to lisbon", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (search must stay inside the chat)", len(got))
	}
	if got[0].Content != "book a flight to lisbon" {
		t.Errorf("top result = %q", got[0].Content)
	}
	for _, m := range got {
		if m.ChatID != travel.ID {
			t.Errorf("result from chat %s leaked into search", m.ChatID)
		}
	}
}

func messageContents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestLedger_AppendsRacingDeleteLeaveNoOrphans(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	chat, err := env.service.CreateChat(ctx, &services.CreateChatRequest{Owner: "alice", Name: "Doomed"})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := env.service.IngestMessage(ctx, &services.IngestMessageRequest{
				Owner:  "alice",
				ChatID: chat.ID,
				Text:   fmt.Sprintf("message %d", i),
			})
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				errs <- err
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if err := env.service.DeleteChat(ctx, chat.ID, "alice"); err != nil {
			errs <- err
		}
	}()

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	msgs, err := env.ledger.ListByChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("%d messages outlived their chat", len(msgs))
	}
	if _, err := env.registry.Get(ctx, chat.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
}
