package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt"
)

// ErrMissingToken aborts a single operation that needs an auth token.
var ErrMissingToken = errors.New("auth: missing token")

type Client interface {
	// Auth authenticates the bearer of the request, return user id.
	Auth(r *http.Request) (string, error)
}

// TokenSource yields the current auth token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token. An empty value yields ErrMissingToken.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

// Holder is a TokenSource whose token can be replaced, e.g. after a re-login.
type Holder struct {
	mu    sync.RWMutex
	token string
}

func (h *Holder) Set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *Holder) Token(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", ErrMissingToken
	}
	return h.token, nil
}

var subjectClaims = []string{"sub", "userId", "user_id", "uid", "id"}

// Subject extracts the user id from a JWT without verifying it. The server is
// the verifier; the client only needs to know who it is.
func Subject(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range subjectClaims {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", fmt.Errorf("token has no subject claim")
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
