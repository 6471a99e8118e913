package integrationapp

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TokenProvider = (*TokenSource)(nil)

// TokenSource mints short-lived workspace tokens for the integration
// platform: HS256 JWTs with the workspace key as issuer and the user as
// subject. An empty userID yields a workspace-level token.
type TokenSource struct {
	workspaceKey    string
	workspaceSecret []byte
	ttl             time.Duration
}

// NewTokenSource creates a new token source. ttl of zero defaults to two hours.
func NewTokenSource(workspaceKey, workspaceSecret string, ttl time.Duration) *TokenSource {
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	return &TokenSource{
		workspaceKey:    workspaceKey,
		workspaceSecret: []byte(workspaceSecret),
		ttl:             ttl,
	}
}

// Token mints a signed workspace token for the user.
func (s *TokenSource) Token(ctx context.Context, userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.workspaceKey,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.workspaceSecret)
	if err != nil {
		return "", fmt.Errorf("sign workspace token: %w", err)
	}
	return signed, nil
}
