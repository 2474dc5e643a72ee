package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.Error(t, err)
}

func TestGenerateAndValidateJWT(t *testing.T) {
	m := newManager(t)

	token, err := m.GenerateJWT("user-1")
	require.NoError(t, err)

	claims, err := m.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateJWTRejects(t *testing.T) {
	m := newManager(t)

	other, err := NewTokenManager("other-secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.GenerateJWT("user-1")
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"wrong key":  foreign,
		"expired":    expired,
		"no user id": anonymous,
		"garbage":    "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.ValidateJWT(token)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticationMiddleware(t *testing.T) {
	m := newManager(t)
	h := m.AuthenticationMiddleware(http.HandlerFunc(StatusHandler))

	token, err := m.GenerateJWT("user-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"no bearer prefix", token, http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStatusHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req = req.WithContext(WithUserID(req.Context(), "user-7"))
	rec := httptest.NewRecorder()
	StatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID        string `json:"user_id"`
		Authenticated bool   `json:"authenticated"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "user-7", body.UserID)
	assert.True(t, body.Authenticated)

	rec = httptest.NewRecorder()
	StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRespondWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithDetails(rec, http.StatusUnprocessableEntity, "Limit exceeded", map[string]any{"limit": "5000"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Limit exceeded","details":{"limit":"5000"}}`, rec.Body.String())
}
