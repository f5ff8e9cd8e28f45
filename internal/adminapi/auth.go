// Package adminapi implements the read-only administrative HTTP
// surface: liveness/readiness, Prometheus metrics, and a JWT-protected
// view of the live session and share tables.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claimsContextKey is the context key under which validated claims are
// stored for a request.
type claimsContextKey struct{}

// Claims is the JWT payload an admin API bearer token carries. There is
// no role distinction: possession of a token signed with the
// configured secret grants read access to the whole surface.
type Claims struct {
	jwt.RegisteredClaims
}

// tokenValidator validates bearer tokens against a single HMAC secret.
type tokenValidator struct {
	secret []byte
}

func newTokenValidator(secret string) *tokenValidator {
	return &tokenValidator{secret: []byte(secret)}
}

// IssueToken mints a token for subject valid for ttl, for operator
// tooling to bootstrap a session against this server.
func (v *tokenValidator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *tokenValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// requireAuth validates the bearer token on every request, storing its
// claims in the request context on success.
func (v *tokenValidator) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := extractBearerToken(r)
		if !ok {
			http.Error(w, "authorization header required", http.StatusUnauthorized)
			return
		}
		claims, err := v.Validate(tokenString)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
