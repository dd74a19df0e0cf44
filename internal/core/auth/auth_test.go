package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/policydesk/internal/core/db"
)

const (
	secretA = "0190a1b2c3d4e5f60718293a4b5c6d7e"
	secretB = "0190ffffc3d4e5f60718293a4b5c6d7e"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	return NewAuthenticator(map[string][]byte{
		secretA: []byte(strings.Repeat("a", 32)),
		secretB: []byte(strings.Repeat("b", 32)),
	}, q)
}

func TestParseAPIKey(t *testing.T) {
	random := strings.Repeat("0f", 32)
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "pd-v1-" + secretA + "-" + random, false},
		{"wrong prefix", "tk-v1-" + secretA + "-" + random, true},
		{"wrong version", "pd-v2-" + secretA + "-" + random, true},
		{"short secret id", "pd-v1-abc-" + random, true},
		{"short random", "pd-v1-" + secretA + "-abcd", true},
		{"uppercase", "pd-v1-" + strings.ToUpper(secretA) + "-" + random, true},
		{"extra segment", "pd-v1-" + secretA + "-" + random + "-x", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, data, err := ParseAPIKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKeyFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, secretA, id)
			assert.Equal(t, random, data)
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	k1, err := GenerateAPIKey(secretA)
	require.NoError(t, err)
	k2, err := GenerateAPIKey(secretA)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	id, _, err := ParseAPIKey(k1)
	require.NoError(t, err)
	assert.Equal(t, secretA, id)

	assert.True(t, VerifyHMAC(ComputeHMAC([]byte("s"), k1), ComputeHMAC([]byte("s"), k1)))
	assert.False(t, VerifyHMAC(ComputeHMAC([]byte("s"), k1), ComputeHMAC([]byte("s"), k2)))
}

func TestAuthenticator_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	key, p, err := a.CreateKey(ctx, "ci-bot")
	require.NoError(t, err)
	id, _, err := ParseAPIKey(key)
	require.NoError(t, err)
	assert.Equal(t, secretB, id, "newest secret signs new keys")

	got, err := a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	// A second call inside the throttle window skips the last_used write.
	_, err = a.Authenticate(ctx, key)
	require.NoError(t, err)

	forged, err := GenerateAPIKey(secretB)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidKey)

	unknown, err := GenerateAPIKey(strings.Repeat("1", 32))
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, unknown)
	assert.ErrorIs(t, err, ErrUnknownKey)

	require.NoError(t, a.RevokeKey(ctx, p.KeyID))
	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.ErrorIs(t, a.RevokeKey(ctx, p.KeyID), ErrInvalidKey)

	_, _, err = a.CreateKey(ctx, "  ")
	assert.Error(t, err)

	empty := NewAuthenticator(nil, nil)
	_, _, err = empty.CreateKey(ctx, "x")
	assert.ErrorIs(t, err, ErrNoSecrets)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	a := newTestAuthenticator(t)

	key, _, err := a.CreateKey(ctx, "alice")
	require.NoError(t, err)
	revoked, rp, err := a.CreateKey(ctx, "mallory")
	require.NoError(t, err)
	require.NoError(t, a.RevokeKey(ctx, rp.KeyID))

	r := gin.New()
	r.Use(a.Middleware("/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, Actor(c, "anonymous")) })

	tests := []struct {
		name       string
		path       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{"skip path", "/healthz", "", "", http.StatusOK, "ok"},
		{"missing key", "/whoami", "", "", http.StatusUnauthorized, "API key required"},
		{"bearer", "/whoami", "Authorization", "Bearer " + key, http.StatusOK, "alice"},
		{"x-api-key", "/whoami", "X-API-Key", key, http.StatusOK, "alice"},
		{"malformed", "/whoami", "Authorization", "Bearer nope", http.StatusUnauthorized, "invalid API key format"},
		{"revoked", "/whoami", "X-API-Key", revoked, http.StatusForbidden, "revoked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrUnknownKey))
	assert.Equal(t, http.StatusForbidden, StatusFor(ErrKeyRevoked))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(assert.AnError))
}
