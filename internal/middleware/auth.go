package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"multichat/internal/auth"
	"multichat/internal/httputil"
)

// DevUserHeader carries the caller identity when no JWT verifier is configured
const DevUserHeader = "X-User-ID"

// publicPaths skip authentication
var publicPaths = map[string]bool{
	"/health": true,
}

// AuthMiddleware validates the Bearer token and stores the subject as the
// request's user ID
func AuthMiddleware(verifier auth.JWTVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipAuth(r) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				httputil.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, httputil.WithOwner(r, claims.GetUserID()))
		})
	}
}

// DevAuthMiddleware trusts the X-User-ID header. Only for local development.
func DevAuthMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	logger.Warn("DEV AUTH: trusting " + DevUserHeader + " header (NEVER use in production!)")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipAuth(r) {
				next.ServeHTTP(w, r)
				return
			}

			userID := strings.TrimSpace(r.Header.Get(DevUserHeader))
			if userID == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "missing "+DevUserHeader+" header")
				return
			}

			next.ServeHTTP(w, httputil.WithOwner(r, userID))
		})
	}
}

func skipAuth(r *http.Request) bool {
	return r.Method == http.MethodOptions || publicPaths[r.URL.Path]
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
