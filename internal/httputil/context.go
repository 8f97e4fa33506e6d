package httputil

import (
	"context"
	"net/http"
)

type ownerKey struct{}

// WithOwner records the authenticated caller on the request. Every chat and
// message the request touches is scoped to this owner.
func WithOwner(r *http.Request, owner string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner))
}

// Owner returns the caller set by WithOwner, or "" for anonymous requests
func Owner(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}
