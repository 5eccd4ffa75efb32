package http

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/capacity-bookings/internal/domain"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, sub, role string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, actorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func authenticateWith(t *testing.T, a *Authenticator, header string) (int, domain.Actor, bool) {
	t.Helper()
	var (
		got domain.Actor
		ok  bool
	)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = actorFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, got, ok
}

func TestAuthenticator_JWT(t *testing.T) {
	key, pub := newKeyPair(t)
	a, err := NewAuthenticator(pub)
	require.NoError(t, err)
	user := uuid.New()

	code, actor, ok := authenticateWith(t, a, "Bearer "+sign(t, key, user.String(), "customer", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusOK, code)
	require.True(t, ok)
	assert.Equal(t, domain.Customer(user), actor)

	code, actor, ok = authenticateWith(t, a, "Bearer "+sign(t, key, "gateway", "system", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusOK, code)
	require.True(t, ok)
	assert.Equal(t, domain.System("gateway"), actor)

	code, _, ok = authenticateWith(t, a, "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, ok)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	key, pub := newKeyPair(t)
	other, _ := newKeyPair(t)
	a, err := NewAuthenticator(pub)
	require.NoError(t, err)
	user := uuid.NewString()

	for name, header := range map[string]string{
		"expired":      "Bearer " + sign(t, key, user, "customer", time.Now().Add(-time.Minute)),
		"wrong key":    "Bearer " + sign(t, other, user, "customer", time.Now().Add(time.Hour)),
		"unknown role": "Bearer " + sign(t, key, user, "owner", time.Now().Add(time.Hour)),
		"not a bearer": "Basic dXNlcjpwYXNz",
		"bad subject":  "Bearer " + sign(t, key, "bob", "customer", time.Now().Add(time.Hour)),
	} {
		t.Run(name, func(t *testing.T) {
			code, _, _ := authenticateWith(t, a, header)
			assert.Equal(t, http.StatusUnauthorized, code)
		})
	}
}

func TestAuthenticator_HeaderFallback(t *testing.T) {
	a, err := NewAuthenticator("")
	require.NoError(t, err)
	id := uuid.New()

	var got domain.Actor
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = actorFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, id.String())
	req.Header.Set(HeaderActorRole, "admin")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, domain.Admin(id), got)
}
