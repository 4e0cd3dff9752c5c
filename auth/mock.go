package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
)

// MockClient issues and verifies HS256 tokens for local development and tests.
type MockClient struct {
	Client

	Secret []byte
}

func (c *MockClient) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
}

func (c *MockClient) Auth(r *http.Request) (string, error) {
	raw := BearerToken(r)
	if raw == "" {
		return "", fmt.Errorf("empty bearer token")
	}

	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("error verify token: %v", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
