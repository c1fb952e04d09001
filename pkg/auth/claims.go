// Package auth issues and validates access tokens for datasaki-engine.
// Tokens are HS256 JWTs signed by this service. RS256 tokens from federated
// issuers are accepted when JWKS endpoints are configured.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims is the access token payload. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email,omitempty"`
	CompanyID string   `json:"cid,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// HasRole reports whether the token grants role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok && claims != nil
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims returns a context carrying claims and the raw token.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// UserIDFromContext returns the authenticated user's id.
// Fails with ErrUnauthorized when the context carries no usable subject.
func UserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims.Subject == "" {
		return uuid.Nil, fmt.Errorf("no authenticated user: %w", apperrors.ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject %q: %w", claims.Subject, apperrors.ErrUnauthorized)
	}
	return id, nil
}
