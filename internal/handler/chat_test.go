package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"multichat/internal/config"
	"multichat/internal/domain"
	"multichat/internal/domain/models"
	"multichat/internal/embedding"
	"multichat/internal/httputil"
	chromemstore "multichat/internal/repository/chromem"
	"multichat/internal/service/auth"
	"multichat/internal/service/chat"
)

type staticSummarizer struct{}

func (staticSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return "Summarized", nil
}

// tickingNow advances one millisecond per reading so creation order is
// reflected in timestamps
func tickingNow() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

// newTestServer builds the full service stack over an in-memory store.
// Requests carry the caller identity in the X-Test-User header.
func newTestServer(t *testing.T, maxChats int) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := chromemstore.New(32, logger)
	if err != nil {
		t.Fatal(err)
	}
	settings := config.DefaultChatSettings()
	settings.MaxChats = maxChats

	registry, err := chat.NewRegistry(chat.RegistryConfig{
		Store:    store,
		Embedder: embedding.NewHashEmbedder(32),
		Settings: settings,
		Logger:   logger,
		Now:      tickingNow(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(registry.Close)

	authorizer := auth.NewOwnerBasedAuthorizer(registry)
	namer := chat.NewAutoNamer(registry, staticSummarizer{}, time.Second, logger)
	t.Cleanup(namer.Wait)
	svc := chat.NewService(registry, chat.NewResolver(registry, authorizer, logger), namer, authorizer, logger)

	mux := http.NewServeMux()
	NewChatHandler(svc, logger).Register(mux)

	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			r = httputil.WithOwner(r, user)
		}
		mux.ServeHTTP(w, r)
	})

	srv := httptest.NewServer(withUser)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, user string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestChatHandler_Lifecycle(t *testing.T) {
	srv := newTestServer(t, 2)

	var a models.Chat
	if status := doJSON(t, srv, http.MethodPost, "/api/chats", "alice", map[string]string{"name": "A"}, &a); status != http.StatusCreated {
		t.Fatalf("create A status = %d", status)
	}
	if status := doJSON(t, srv, http.MethodPost, "/api/chats", "alice", map[string]string{"name": "B"}, nil); status != http.StatusCreated {
		t.Fatalf("create B status = %d", status)
	}

	var problem map[string]interface{}
	if status := doJSON(t, srv, http.MethodPost, "/api/chats", "alice", map[string]string{"name": "C"}, &problem); status != http.StatusConflict {
		t.Fatalf("create C status = %d, want 409", status)
	}
	if problem["max_chats"] != float64(2) {
		t.Errorf("problem max_chats = %v", problem["max_chats"])
	}

	var chats []models.Chat
	doJSON(t, srv, http.MethodGet, "/api/chats", "alice", nil, &chats)
	if len(chats) != 2 || chats[0].Name != "A" || chats[1].Name != "B" {
		t.Fatalf("list = %+v", chats)
	}

	var msg models.Message
	status := doJSON(t, srv, http.MethodPost, "/api/messages", "alice", map[string]string{"text": "hello", "chat_id": a.ID}, &msg)
	if status != http.StatusCreated || msg.ChatID != a.ID {
		t.Fatalf("ingest = (%d, %+v)", status, msg)
	}

	var renamed models.Chat
	doJSON(t, srv, http.MethodPatch, "/api/chats/"+a.ID, "alice", map[string]string{"name": "Renamed"}, &renamed)
	if renamed.Name != "Renamed" || !renamed.NameIsUserSet {
		t.Errorf("rename = %+v", renamed)
	}

	var found []models.Message
	if status := doJSON(t, srv, http.MethodGet, "/api/chats/"+a.ID+"/search?q=hello&limit=3", "alice", nil, &found); status != http.StatusOK {
		t.Fatalf("search status = %d", status)
	}
	if len(found) != 1 {
		t.Errorf("search results = %d, want 1", len(found))
	}

	var history ChatMessagesResponse
	if status := doJSON(t, srv, http.MethodGet, "/api/chats/"+a.ID+"/messages", "alice", nil, &history); status != http.StatusOK {
		t.Fatalf("messages status = %d", status)
	}
	if history.Chat == nil || history.Chat.Name != "Renamed" {
		t.Errorf("history chat = %+v, want Renamed", history.Chat)
	}
	if len(history.Messages) != 1 || history.Messages[0].Content != "hello" {
		t.Errorf("history messages = %+v", history.Messages)
	}

	if status := doJSON(t, srv, http.MethodDelete, "/api/chats/"+a.ID, "bob", nil, nil); status != http.StatusForbidden {
		t.Errorf("delete by non-owner status = %d, want 403", status)
	}
	if status := doJSON(t, srv, http.MethodDelete, "/api/chats/"+a.ID, "alice", nil, nil); status != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", status)
	}
	if status := doJSON(t, srv, http.MethodGet, "/api/chats/"+a.ID+"/messages", "alice", nil, nil); status != http.StatusNotFound {
		t.Errorf("messages of deleted chat status = %d, want 404", status)
	}
}

func TestChatHandler_RequestErrors(t *testing.T) {
	srv := newTestServer(t, config.DefaultMaxChats)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"no identity", http.MethodGet, "/api/chats", "", nil, http.StatusUnauthorized},
		{"blank message", http.MethodPost, "/api/messages", "alice", map[string]string{"text": " "}, http.StatusBadRequest},
		{"bad role", http.MethodPost, "/api/messages", "alice", map[string]string{"text": "hi", "role": "system"}, http.StatusBadRequest},
		{"unknown chat", http.MethodGet, "/api/chats/nope", "alice", nil, http.StatusNotFound},
		{"non-integer limit", http.MethodGet, "/api/chats/nope/search?q=x&limit=ten", "alice", nil, http.StatusBadRequest},
		{"missing query", http.MethodGet, "/api/chats/nope/search", "alice", nil, http.StatusBadRequest},
		{"health", http.MethodGet, "/health", "", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doJSON(t, srv, tt.method, tt.path, tt.user, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestChatHandler_IngestCreatesDefaultChat(t *testing.T) {
	srv := newTestServer(t, config.DefaultMaxChats)

	var msg models.Message
	if status := doJSON(t, srv, http.MethodPost, "/api/messages", "carol", map[string]string{"text": "first"}, &msg); status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}

	var c models.Chat
	doJSON(t, srv, http.MethodGet, "/api/chats/"+msg.ChatID, "carol", nil, &c)
	if c.Name != config.DefaultChatName {
		t.Errorf("Name = %q, want default", c.Name)
	}
}

func TestChatHandler_RequestBodyLimits(t *testing.T) {
	h := NewChatHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"oversized", `{"text":"` + strings.Repeat("a", httputil.MaxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"two values", `{"text":"a"}{"text":"b"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(tt.body))
			req = httputil.WithOwner(req, "alice")
			rec := httptest.NewRecorder()

			h.IngestMessage(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: name required", domain.ErrValidation), http.StatusBadRequest},
		{"not found", &domain.NotFoundError{Message: "chat x not found"}, http.StatusNotFound},
		{"chat not found", domain.ErrChatNotFound, http.StatusNotFound},
		{"forbidden", fmt.Errorf("access denied: %w", domain.ErrForbidden), http.StatusForbidden},
		{"limit", &domain.LimitExceededError{Owner: "a", MaxChats: 4}, http.StatusConflict},
		{"cascade", &domain.CascadeIncompleteError{ChatID: "c", Attempts: 3, Remaining: 1}, http.StatusInternalServerError},
		{"upstream", &domain.UpstreamError{Upstream: "store", Op: "insert", Err: io.ErrUnexpectedEOF}, http.StatusServiceUnavailable},
		{"unknown", io.ErrClosedPipe, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
