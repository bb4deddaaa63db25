package collab

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, secret []byte, userID, typ string, ttl time.Duration) string {
	t.Helper()
	claims := &TokenClaims{
		UserID:    userID,
		Email:     userID + "@example.com",
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")

	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get("X-User-Id")
		claims, ok := ClaimsFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, gotUserID, claims.UserID)
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuthMiddleware(secret)(next)

	send := func(authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/playlists/x", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("valid token resolves identity", func(t *testing.T) {
		tok := mintToken(t, secret, "alice", "access", time.Hour)
		rr := send("Bearer " + tok)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "alice", gotUserID)
	})

	t.Run("missing header", func(t *testing.T) {
		rr := send("")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		rr := send("Token abc")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := mintToken(t, []byte("other-secret"), "alice", "access", time.Hour)
		rr := send("Bearer " + tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		tok := mintToken(t, secret, "alice", "refresh", time.Hour)
		rr := send("Bearer " + tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		tok := mintToken(t, secret, "alice", "access", -time.Minute)
		rr := send("Bearer " + tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := CORSMiddleware("https://app.example.com")(next)

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/playlists", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("regular requests pass through with headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/playlists", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusTeapot, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}
