package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuth(t *testing.T) {
	assert.Nil(t, NewTokenAuth(""))

	var open *TokenAuth
	assert.True(t, open.Allow(httptest.NewRequest(http.MethodGet, "/", nil)))

	hash, err := HashToken("fleet-token")
	require.NoError(t, err)
	auth := NewTokenAuth(hash)

	tests := []struct {
		name   string
		target string
		header string
		want   bool
	}{
		{"missing", "/ws/video/", "", false},
		{"query", "/ws/video/?token=fleet-token", "", true},
		{"bearer", "/ws/video/", "Bearer fleet-token", true},
		{"wrong bearer", "/ws/video/?token=fleet-token", "Bearer nope", false},
		{"other scheme", "/ws/video/?token=fleet-token", "Basic abc", true},
		{"wrong query", "/ws/video/?token=nope", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, auth.Allow(r))
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("wildcard", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		r := httptest.NewRequest(http.MethodGet, "/api/health/", nil)
		r.Header.Set("Origin", "http://dash.local")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("explicit origin allows credentials", func(t *testing.T) {
		h := CORS([]string{"http://dash.local"})(next)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "http://dash.local")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		h := CORS([]string{"http://dash.local"})(next)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		r := httptest.NewRequest(http.MethodOptions, "/api/metrics", nil)
		r.Header.Set("Origin", "http://dash.local")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})
}
