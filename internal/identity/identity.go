// Package identity supplies the current user identity to components that
// stamp ownership or scope queries.
//
// Anonymous operation is a first-class state: both accessors return ""
// and callers skip identity-dependent work (most notably metadata index
// upserts during sync, which leaves a documented staleness window).
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Provider answers who the current user is. Empty strings mean anonymous.
type Provider interface {
	CurrentUserID() string
	CurrentUserEmail() string
}

// Anonymous is the provider for sessions with no signed-in user.
type Anonymous struct{}

func (Anonymous) CurrentUserID() string    { return "" }
func (Anonymous) CurrentUserEmail() string { return "" }

// Static is a fixed-identity provider, used by tests and by tooling that
// knows the identity out of band.
type Static struct {
	ID    string
	Email string
}

func (s Static) CurrentUserID() string    { return s.ID }
func (s Static) CurrentUserEmail() string { return s.Email }

// tokenProvider reads identity claims from a stored session token.
type tokenProvider struct {
	userID string
	email  string
}

// FromToken extracts the user identity from a session JWT.
//
// The token is parsed WITHOUT signature verification: the backend
// verified it when it was issued, and locally it is only used to label
// pushed documents with their owner, never to grant access.
func FromToken(token string) (Provider, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	p := &tokenProvider{}
	if sub, err := claims.GetSubject(); err == nil {
		p.userID = sub
	}
	if email, ok := claims["email"].(string); ok {
		p.email = email
	}
	if p.userID == "" {
		return nil, fmt.Errorf("session token carries no subject claim")
	}
	return p, nil
}

func (p *tokenProvider) CurrentUserID() string    { return p.userID }
func (p *tokenProvider) CurrentUserEmail() string { return p.email }
