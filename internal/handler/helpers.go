package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"multichat/internal/domain"
	"multichat/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var limitErr *domain.LimitExceededError
	var cascadeErr *domain.CascadeIncompleteError
	var upstreamErr *domain.UpstreamError
	var httpErr domain.HTTPError

	switch {
	case errors.As(err, &limitErr):
		httputil.RespondErrorWithExtras(w, http.StatusConflict, limitErr.Error(), map[string]interface{}{
			"max_chats": limitErr.MaxChats,
		})
	case errors.As(err, &cascadeErr):
		slog.Error("cascade delete incomplete",
			"chat_id", cascadeErr.ChatID,
			"attempts", cascadeErr.Attempts,
			"remaining", cascadeErr.Remaining,
			"error", cascadeErr.Cause,
		)
		httputil.RespondErrorWithExtras(w, http.StatusInternalServerError, "chat deleted but its messages could not all be removed", map[string]interface{}{
			"chat_id":   cascadeErr.ChatID,
			"remaining": cascadeErr.Remaining,
		})
	case errors.As(err, &upstreamErr):
		slog.Error("upstream unavailable", "upstream", upstreamErr.Upstream, "op", upstreamErr.Op, "error", upstreamErr.Err)
		httputil.RespondError(w, http.StatusServiceUnavailable, upstreamErr.Upstream+" unavailable, retry later")
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &httpErr) && httpErr.StatusCode() < http.StatusInternalServerError:
		httputil.RespondError(w, httpErr.StatusCode(), httpErr.Error())
	default:
		slog.Error("unhandled error", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// badRequestBody answers a ParseJSON failure: 413 when the body hit the size
// cap, 400 otherwise
func (h *ChatHandler) badRequestBody(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("rejected request body", "method", r.Method, "path", r.URL.Path, "error", err)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
}

// PathParam reads a required path value, writing a 400 when it is missing
func PathParam(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	value := r.PathValue(name)
	if value == "" {
		httputil.RespondError(w, http.StatusBadRequest, label+" is required")
		return "", false
	}
	return value, true
}

// requireUser reads the authenticated user, writing a 401 when absent
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := httputil.Owner(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
