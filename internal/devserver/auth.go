package devserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const userIDKey ctxKey = 1

// Auth issues and verifies the bearer tokens the REST and push surfaces
// share. A token is also accepted as a websocket query parameter.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth creates an Auth with the given HMAC secret and token lifetime.
func NewAuth(secret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the user.
func (a *Auth) Issue(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	})
	return token.SignedString(a.secret)
}

// Verify parses a token and returns the user id it was issued to.
func (a *Auth) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stashes the
// authenticated user id in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authentication_failed", "missing bearer token")
			return
		}
		userID, err := a.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication_failed", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// authedUser returns the user id the middleware stored in the context.
func authedUser(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
