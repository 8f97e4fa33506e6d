package handler

import (
	"log/slog"
	"net/http"
	"time"

	"multichat/internal/config"
	"multichat/internal/domain/models"
	"multichat/internal/domain/services"
	"multichat/internal/httputil"
)

// ChatHandler handles chat and message HTTP requests.
// Handlers only communicate with the chat service, never the store.
type ChatHandler struct {
	chatService services.ChatService
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService services.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// Register mounts the chat routes on mux (Go 1.22+ patterns)
func (h *ChatHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/chats", h.CreateChat)
	mux.HandleFunc("GET /api/chats", h.ListChats)
	mux.HandleFunc("GET /api/chats/{id}", h.GetChat)
	mux.HandleFunc("PATCH /api/chats/{id}", h.RenameChat)
	mux.HandleFunc("DELETE /api/chats/{id}", h.DeleteChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.GetAllMessages)
	mux.HandleFunc("GET /api/chats/{id}/search", h.SearchMessages)

	mux.HandleFunc("POST /api/messages", h.IngestMessage)
}

// HealthCheck is a simple health check endpoint
// GET /health
func (h *ChatHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// CreateChat creates a new chat for the caller
// POST /api/chats
// Returns 201, or 409 with max_chats when the caller is at the limit
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req services.CreateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		h.badRequestBody(w, r, err)
		return
	}
	req.Owner = userID

	chat, err := h.chatService.CreateChat(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, chat)
}

// ListChats returns the caller's active chats in creation order
// GET /api/chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chats)
}

// GetChat retrieves a single chat by ID
// GET /api/chats/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(r.Context(), chatID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// RenameChat sets a user-chosen chat name
// PATCH /api/chats/{id}
func (h *ChatHandler) RenameChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req services.RenameChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		h.badRequestBody(w, r, err)
		return
	}

	chat, err := h.chatService.RenameChat(r.Context(), chatID, userID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// DeleteChat soft-deletes a chat and removes its messages
// DELETE /api/chats/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	if err := h.chatService.DeleteChat(r.Context(), chatID, userID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChatMessagesResponse is a chat with its full history
type ChatMessagesResponse struct {
	Chat     *models.Chat     `json:"chat"`
	Messages []models.Message `json:"messages"`
}

// GetAllMessages returns the chat and every message in chronological order
// GET /api/chats/{id}/messages
func (h *ChatHandler) GetAllMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(r.Context(), chatID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	msgs, err := h.chatService.GetAllMessages(r.Context(), chatID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, ChatMessagesResponse{Chat: chat, Messages: msgs})
}

// SearchMessages ranks a chat's messages by similarity to q
// GET /api/chats/{id}/search?q=...&limit=...
func (h *ChatHandler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	limit, err := httputil.QueryInt(r, "limit", config.DefaultSearchLimit)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.chatService.SearchMessages(r.Context(), chatID, userID, &services.SearchMessagesRequest{
		Query: r.URL.Query().Get("q"),
		Limit: limit,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, msgs)
}

// IngestMessage stores a message, resolving the caller's chat when
// chat_id is omitted
// POST /api/messages
func (h *ChatHandler) IngestMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req services.IngestMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		h.badRequestBody(w, r, err)
		return
	}
	req.Owner = userID

	msg, err := h.chatService.IngestMessage(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, msg)
}
