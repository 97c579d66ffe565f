package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a session token that failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrMissingClient indicates a token without a subject (client ID).
	ErrMissingClient = errors.New("session token has no client id")
)

type contextKey string

const (
	sessionContextKey    = contextKey("session")
	credentialContextKey = contextKey("bearerCredential")
)

// Session is what the external auth provider tells us about the caller.
type Session struct {
	ClientID    string
	PhoneNumber string
}

// SessionClaims are the JWT claims issued by the auth provider.
// The subject carries the client ID.
type SessionClaims struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// ParseSessionToken validates an HS256 token issued by the auth provider.
func ParseSessionToken(secret, tokenString string) (*Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingClient
	}
	return &Session{ClientID: claims.Subject, PhoneNumber: claims.PhoneNumber}, nil
}

// IssueSessionToken signs a token the way the auth provider does. Used by tests and local tooling.
func IssueSessionToken(secret string, s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		PhoneNumber: s.PhoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithSession stores the session and the raw bearer credential on ctx.
func WithSession(ctx context.Context, s Session, credential string) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, s)
	return context.WithValue(ctx, credentialContextKey, credential)
}

// SessionFromContext returns the session placed by the auth middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(Session)
	return s, ok
}

// CredentialFromContext returns the caller's bearer credential, forwarded to the backend.
func CredentialFromContext(ctx context.Context) string {
	c, _ := ctx.Value(credentialContextKey).(string)
	return c
}
