package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefixLen = 8
	rawKeyTag    = "sk_"
)

// Scopes understood by the router.
const (
	ScopeTranscribe = "transcribe"
	ScopeRead       = "read"
	ScopeAdmin      = "admin"
)

// DefaultScopes are granted to keys created without an explicit scope list.
var DefaultScopes = []string{ScopeTranscribe, ScopeRead}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	keys store.KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(keys store.KeyStore) *Auth {
	return &Auth{keys: keys}
}

// Authenticate validates the Bearer token, looks up the API key, and sets
// owner, key_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]
		candidates, err := a.keys.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "error", err, "request_id", RequestID(r))
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		key := matchKey(candidates, rawKey)
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		ctx := SetOwner(r.Context(), key.Owner)
		ctx = setKeyPrefix(ctx, prefix)
		ctx = setScopes(ctx, key.Scopes)

		go func(id uuid.UUID) {
			if err := a.keys.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
				slog.Warn("failed to record api key use", "key_id", id, "error", err)
			}
		}(key.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func matchKey(candidates []*models.APIKey, rawKey string) *models.APIKey {
	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			return key
		}
	}
	return nil
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope. Admin keys pass every scope check.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope || s == ScopeAdmin {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GenerateRawKey returns a new random API key. It is shown to the caller once
// and only its hash is stored.
func GenerateRawKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return rawKeyTag + hex.EncodeToString(buf), nil
}

// NewAPIKey hashes rawKey into a storable APIKey for owner.
func NewAPIKey(rawKey, owner, name string, scopes []string) (*models.APIKey, error) {
	if len(rawKey) < keyPrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", keyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Owner:     owner,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// EnsureAPIKey registers rawKey for owner unless an identical key already exists.
// It is used to seed the bootstrap admin key at startup.
func EnsureAPIKey(ctx context.Context, keys store.KeyStore, rawKey, owner, name string, scopes []string) error {
	if len(rawKey) < keyPrefixLen {
		return fmt.Errorf("api key must be at least %d characters", keyPrefixLen)
	}
	existing, err := keys.GetAPIKeyByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return fmt.Errorf("lookup api key: %w", err)
	}
	if matchKey(existing, rawKey) != nil {
		return nil
	}

	key, err := NewAPIKey(rawKey, owner, name, scopes)
	if err != nil {
		return err
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key %q: %w", name, err)
	}
	return nil
}
