// Package auth implements password hashing and opaque session tokens.
//
// Tokens are random UUIDs mapped to a username in a TokenStore. The store is
// either process-local (MemoryTokenStore) or shared (RedisTokenStore); the
// Service does not care which.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a token is unknown, revoked or expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenStore maps session tokens to usernames.
type TokenStore interface {
	// Save binds token to username. A zero ttl never expires.
	Save(ctx context.Context, token, username string, ttl time.Duration) error
	// Lookup returns the username for token or ErrInvalidToken.
	Lookup(ctx context.Context, token string) (string, error)
	// Delete removes token. Unknown tokens are not an error.
	Delete(ctx context.Context, token string) error
}

// Service hashes passwords and issues, resolves and revokes tokens.
type Service struct {
	cost   int
	ttl    time.Duration
	tokens TokenStore
}

// NewService returns a Service. Costs outside bcrypt's range fall back to
// bcrypt.DefaultCost.
func NewService(cost int, ttl time.Duration, tokens TokenStore) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{cost: cost, ttl: ttl, tokens: tokens}
}

// HashPassword returns the bcrypt hash of plain.
func (s *Service) HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash.
func (s *Service) VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// IssueToken creates a fresh token for username.
func (s *Service) IssueToken(ctx context.Context, username string) (string, error) {
	token := uuid.NewString()
	if err := s.tokens.Save(ctx, token, username, s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveToken returns the username bound to token.
func (s *Service) ResolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	return s.tokens.Lookup(ctx, token)
}

// RevokeToken invalidates token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.tokens.Delete(ctx, token)
}
