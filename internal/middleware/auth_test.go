package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := SignJWT("secret", TokenClaims{Sub: "acct-1", Locale: "id", Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	claims, err := VerifyJWT("secret", tok, now)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.Sub)
	assert.Equal(t, "id", claims.Locale)

	_, err = VerifyJWT("other", tok, now)
	assert.ErrorIs(t, err, errBadSignature)

	_, err = VerifyJWT("secret", tok, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, errExpiredToken)

	_, err = VerifyJWT("secret", "a.b", now)
	assert.ErrorIs(t, err, errMalformedToken)
}

func TestVerifyRejectsEmptySubject(t *testing.T) {
	tok, err := SignJWT("secret", TokenClaims{Sub: " "})
	require.NoError(t, err)
	_, err = VerifyJWT("secret", tok, time.Now())
	assert.ErrorIs(t, err, errMalformedToken)
}

func TestAuthRequired(t *testing.T) {
	var seen string
	h := AuthRequired("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/credits", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "auth_required", body["code"])
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := SignJWT("secret", TokenClaims{Sub: "acct-9", Exp: time.Now().Add(time.Minute).Unix()})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "acct-9", seen)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAdminToken(t *testing.T) {
	h := AdminToken("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/credits/add", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req.Header.Set("X-Admin-Token", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	disabled := AdminToken("")(h)
	req.Header.Set("X-Admin-Token", "")
	rr = httptest.NewRecorder()
	disabled.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, seen, 36)
}
