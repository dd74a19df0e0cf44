// Package auth provides HMAC-based API key authentication for the HTTP API.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// principalKey is the gin context key holding the authenticated Principal.
const principalKey = "policydesk.principal"

// Queries defines the database operations authentication needs.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Principal identifies the caller behind an API key. Name is recorded as the
// actor on policy versions and approvals.
type Principal struct {
	KeyID string `json:"key_id"`
	Name  string `json:"name"`
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{secrets: secrets, queries: queries, now: time.Now}
}

// Authenticate validates apiKey and returns its principal.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (Principal, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return Principal{}, err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return Principal{}, ErrUnknownKey
	}

	var row struct {
		APIKeyID   string       `db:"api_key_id"`
		Name       string       `db:"name"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return Principal{}, ErrInvalidKey
	}
	if err != nil {
		return Principal{}, fmt.Errorf("database error: %w", err)
	}
	if row.RevokedAt.Valid {
		return Principal{}, ErrKeyRevoked
	}

	// Throttled to once a minute per key to keep reads from turning into writes.
	if shouldUpdateLastUsed(row.LastUsedAt, a.now()) {
		_, _ = a.queries.Exec(ctx, "update-last-used", a.now().UTC(), row.APIKeyID)
	}

	return Principal{KeyID: row.APIKeyID, Name: row.Name}, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullTime, now time.Time) bool {
	if !lastUsed.Valid {
		return true
	}
	return now.Sub(lastUsed.Time) > time.Minute
}

// CreateKey issues a new API key for name, signed with the newest secret.
// The plaintext key is returned once and never stored.
func (a *Authenticator) CreateKey(ctx context.Context, name string) (string, Principal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Principal{}, fmt.Errorf("key name is required")
	}
	secretID, ok := a.newestSecret()
	if !ok {
		return "", Principal{}, ErrNoSecrets
	}

	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return "", Principal{}, err
	}
	p := Principal{KeyID: uuid.Must(uuid.NewV7()).String(), Name: name}
	if _, err := a.queries.Exec(ctx, "insert-api-key",
		p.KeyID, p.Name, secretID, ComputeHMAC(a.secrets[secretID], key), a.now().UTC(),
	); err != nil {
		return "", Principal{}, fmt.Errorf("store api key: %w", err)
	}
	return key, p, nil
}

// RevokeKey marks a key as revoked.
func (a *Authenticator) RevokeKey(ctx context.Context, keyID string) error {
	res, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UTC(), keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidKey
	}
	return nil
}

// newestSecret picks the highest secret id. Secret ids are UUIDv7, so that
// is the most recently minted one.
func (a *Authenticator) newestSecret() (string, bool) {
	if len(a.secrets) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(a.secrets))
	for id := range a.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[len(ids)-1], true
}

// KeyFromRequest reads the key from "Authorization: Bearer <key>" or X-API-Key.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// StatusFor maps an authentication error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return http.StatusForbidden
	case errors.Is(err, ErrMissingKey), errors.Is(err, ErrInvalidKeyFormat),
		errors.Is(err, ErrUnknownKey), errors.Is(err, ErrInvalidKey):
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// Middleware authenticates every request except skipPaths and stores the
// Principal on the gin context.
func (a *Authenticator) Middleware(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range skipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		key := KeyFromRequest(c.Request)
		var (
			p   Principal
			err = ErrMissingKey
		)
		if key != "" {
			p, err = a.Authenticate(c.Request.Context(), key)
		}
		if err != nil {
			status := StatusFor(err)
			c.AbortWithStatusJSON(status, gin.H{
				"code":        status,
				"message":     http.StatusText(status),
				"description": err.Error(),
			})
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// Actor returns the principal name, or fallback when the request is
// unauthenticated (auth disabled).
func Actor(c *gin.Context, fallback string) string {
	if p, ok := PrincipalFrom(c); ok && p.Name != "" {
		return p.Name
	}
	return fallback
}
