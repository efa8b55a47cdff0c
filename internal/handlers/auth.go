package handlers

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenAuth checks a shared access token against a bcrypt hash. A nil
// TokenAuth allows every request.
type TokenAuth struct {
	hash []byte
}

// NewTokenAuth returns nil when hash is empty.
func NewTokenAuth(hash string) *TokenAuth {
	if hash == "" {
		return nil
	}
	return &TokenAuth{hash: []byte(hash)}
}

// HashToken produces a value suitable for ACCESS_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *TokenAuth) Allow(r *http.Request) bool {
	if a == nil {
		return true
	}
	token := tokenFromRequest(r)
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// tokenFromRequest prefers the Authorization header over the query
// parameter, which exists for clients that cannot set headers.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
