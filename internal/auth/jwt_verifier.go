package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"multichat/internal/domain"
	"multichat/internal/domain/models"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// allowedAlgorithms prevents algorithm confusion attacks
var allowedAlgorithms = []string{"RS256", "ES256"}

// KeyJWTVerifier implements JWTVerifier on top of a key lookup function.
// In production the keys come from a JWKS endpoint.
type KeyJWTVerifier struct {
	keyFunc      jwt.Keyfunc
	requiredRole string
	cancel       context.CancelFunc
	logger       *slog.Logger
}

// NewJWTVerifier creates a verifier that fetches public keys from a JWKS endpoint.
// The JWKS keys are cached and refreshed in the background until Close.
// When requiredRole is non-empty, tokens must carry that role claim.
func NewJWTVerifier(jwksURL, requiredRole string, logger *slog.Logger) (JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)

	v := NewKeyJWTVerifier(jwks.Keyfunc, requiredRole, logger)
	v.cancel = cancel
	return v, nil
}

// NewKeyJWTVerifier creates a verifier from an arbitrary key function
func NewKeyJWTVerifier(keyFunc jwt.Keyfunc, requiredRole string, logger *slog.Logger) *KeyJWTVerifier {
	return &KeyJWTVerifier{
		keyFunc:      keyFunc,
		requiredRole: requiredRole,
		logger:       logger,
	}
}

// VerifyToken validates a JWT token and extracts its claims
func (v *KeyJWTVerifier) VerifyToken(tokenString string) (*models.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.Claims{}, v.keyFunc,
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		v.logger.Debug("token parse failed", "error", err)
		return nil, domain.ErrUnauthorized
	}
	if !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*models.Claims)
	if !ok {
		v.logger.Error("failed to extract claims from token")
		return nil, domain.ErrUnauthorized
	}

	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return nil, domain.ErrUnauthorized
	}

	if v.requiredRole != "" && claims.Role != v.requiredRole {
		v.logger.Warn("token has invalid role",
			"role", claims.Role,
			"expected", v.requiredRole,
			"user_id", claims.Subject,
		)
		return nil, domain.ErrUnauthorized
	}

	return claims, nil
}

// Close stops the background JWKS refresh
func (v *KeyJWTVerifier) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.logger.Info("JWT verifier closed")
	return nil
}
