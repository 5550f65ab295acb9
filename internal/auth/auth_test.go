package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/users"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

func init() {
	logging.InitNop()
}

func identityHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(Identity(r.Context())))
	})
}

func TestIssueAndValidate(t *testing.T) {
	a := New("test-secret", time.Hour)

	token, expires, err := a.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	_, err = New("other-secret", time.Hour).Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	a := New("test-secret", time.Hour)
	claims := &Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = a.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	a := New("test-secret", time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Validate(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret", time.Hour)
	token, _, err := a.Issue("alice")
	require.NoError(t, err)
	h := a.Middleware(identityHandler())

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(SessionCookie(token, time.Now().Add(time.Hour), false))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body protocol.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusUnauthorized, body.Code)
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

type recordingAccounts struct {
	calls  []string
	refuse map[string]error
}

func (a *recordingAccounts) EnsureExternal(_ context.Context, username string) (*users.User, error) {
	a.calls = append(a.calls, username)
	if err := a.refuse[username]; err != nil {
		return nil, err
	}
	return &users.User{Username: username, PasswordHash: users.ExternalPasswordHash}, nil
}

const testIssuer = "https://id.example.test"

func newTestOIDC(t *testing.T, refuse map[string]error) (*OIDCProvider, *rsa.PrivateKey, *recordingAccounts) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: "files"})
	accounts := &recordingAccounts{refuse: refuse}
	return newOIDCProvider(verifier, accounts), key, accounts
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, username string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":                testIssuer,
		"aud":                "files",
		"sub":                "subject-1",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"preferred_username": username,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestOIDCMiddleware(t *testing.T) {
	provider, key, accounts := newTestOIDC(t, nil)
	a := New("test-secret", time.Hour)
	a.SetOIDCProvider(provider)
	assert.True(t, a.HasOIDC())
	h := a.Middleware(identityHandler())

	idToken := signIDToken(t, key, "carol")
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+idToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "carol", rec.Body.String())
	}
	assert.Equal(t, []string{"carol"}, accounts.calls, "linked once")
}

func TestOIDCRejectsUnlinkableIdentity(t *testing.T) {
	provider, key, accounts := newTestOIDC(t, map[string]error{
		"../root": errors.New("bad name"),
		"daniel":  users.ErrLocalAccount,
	})

	_, err := provider.ValidateToken(context.Background(), signIDToken(t, key, "../root"))
	assert.Error(t, err)

	_, err = provider.ValidateToken(context.Background(), signIDToken(t, key, "daniel"))
	assert.ErrorIs(t, err, users.ErrLocalAccount)

	// A refused identity is retried, not cached.
	_, err = provider.ValidateToken(context.Background(), signIDToken(t, key, "daniel"))
	assert.ErrorIs(t, err, users.ErrLocalAccount)

	_, err = provider.ValidateToken(context.Background(), signIDToken(t, key, ""))
	assert.Error(t, err)
	assert.Equal(t, []string{"../root", "daniel", "daniel"}, accounts.calls)

	h := New("test-secret", time.Hour)
	h.SetOIDCProvider(provider)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signIDToken(t, key, "daniel"))
	rec := httptest.NewRecorder()
	h.Middleware(identityHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOIDCRejectsForeignKey(t *testing.T) {
	provider, _, _ := newTestOIDC(t, nil)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = provider.ValidateToken(context.Background(), signIDToken(t, other, "carol"))
	assert.Error(t, err)
}

func TestNewOIDCProviderDisabled(t *testing.T) {
	p, err := NewOIDCProvider(context.Background(), OIDCConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}
