package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// captureHandler records whether the inner handler ran and with what context.
type captureHandler struct {
	called   bool
	identity Identity
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity = GetIdentity(r.Context())
	w.WriteHeader(http.StatusOK)
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func runAuth(t *testing.T, authHeader string) (*captureHandler, *httptest.ResponseRecorder) {
	t.Helper()
	inner := &captureHandler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Auth(testSigningKey, logger)(inner)

	req := httptest.NewRequest(http.MethodGet, "/permits", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return inner, rec
}

func TestAuth_ValidToken(t *testing.T) {
	token := signToken(t, testSigningKey, jwt.MapClaims{
		"sub":  "5f9c9be1-2a3f-4b53-9a27-0e8a3a4a61fd",
		"role": "applicant",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	inner, rec := runAuth(t, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, inner.called)
	assert.Equal(t, "5f9c9be1-2a3f-4b53-9a27-0e8a3a4a61fd", inner.identity.SubjectID)
	assert.Equal(t, "applicant", inner.identity.Role)
}

func TestAuth_Rejections(t *testing.T) {
	expired := signToken(t, testSigningKey, jwt.MapClaims{
		"sub":  "5f9c9be1-2a3f-4b53-9a27-0e8a3a4a61fd",
		"role": "applicant",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, []byte("other-key"), jwt.MapClaims{
		"sub":  "5f9c9be1-2a3f-4b53-9a27-0e8a3a4a61fd",
		"role": "applicant",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signToken(t, testSigningKey, jwt.MapClaims{
		"role": "applicant",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	noRole := signToken(t, testSigningKey, jwt.MapClaims{
		"sub": "5f9c9be1-2a3f-4b53-9a27-0e8a3a4a61fd",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer token", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
		{"missing subject claim", "Bearer " + noSubject},
		{"missing role claim", "Bearer " + noRole},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inner, rec := runAuth(t, tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, inner.called)
		})
	}
}

func TestGetIdentity_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/permits", nil)
	assert.Equal(t, Identity{}, GetIdentity(req.Context()))
}
