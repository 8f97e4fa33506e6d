package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling (OCP compliance).
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}
)

// Error implementations
func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }

// StatusCode implementations (HTTPError interface)
func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }

// Is allows errors.Is() to match the typed errors against their sentinels
func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }
func (e *ForbiddenError) Is(target error) bool    { return target == ErrForbidden }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrLimitExceeded is returned when an owner already has max_chats active chats.
	ErrLimitExceeded = errors.New("chat limit exceeded")

	// ErrChatNotFound is returned by message writes against a missing or deleted chat.
	// It matches ErrNotFound as well.
	ErrChatNotFound error = &chatNotFound{}

	// ErrCascadeIncomplete marks a failed cascading message delete.
	// It is a consistency failure and must never be reported as success.
	ErrCascadeIncomplete = errors.New("cascade delete incomplete")

	// ErrUpstreamUnavailable is returned when the store or summarizer cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

type chatNotFound struct{}

func (*chatNotFound) Error() string          { return "chat not found" }
func (*chatNotFound) Is(target error) bool   { return target == ErrNotFound }
func (*chatNotFound) StatusCode() int        { return http.StatusNotFound }

// LimitExceededError reports the owner and the configured limit
type LimitExceededError struct {
	Owner    string
	MaxChats int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("too many chats created, you can have a maximum of %d", e.MaxChats)
}

func (e *LimitExceededError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrLimitExceeded
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// CascadeIncompleteError carries the chat and the number of messages still
// retrievable after the last delete attempt.
type CascadeIncompleteError struct {
	ChatID    string
	Attempts  int
	Remaining int
	Cause     error
}

func (e *CascadeIncompleteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cascade delete for chat %s incomplete after %d attempts (%d remaining): %v",
			e.ChatID, e.Attempts, e.Remaining, e.Cause)
	}
	return fmt.Sprintf("cascade delete for chat %s incomplete after %d attempts (%d remaining)",
		e.ChatID, e.Attempts, e.Remaining)
}

func (e *CascadeIncompleteError) StatusCode() int { return http.StatusInternalServerError }

func (e *CascadeIncompleteError) Is(target error) bool {
	return target == ErrCascadeIncomplete
}

func (e *CascadeIncompleteError) Unwrap() error { return e.Cause }

// UpstreamError wraps a failure of an external collaborator (store, summarizer)
type UpstreamError struct {
	Upstream string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Upstream, e.Op, e.Err)
}

func (e *UpstreamError) StatusCode() int { return http.StatusServiceUnavailable }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *UpstreamError) Unwrap() error { return e.Err }
