package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/cache"
	"github.com/kiranshivaraju/scribe/internal/config"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error                   { return s.pingErr }
func (s *testStore) Close() error                                   { return nil }
func (s *testStore) SaveJob(_ context.Context, _ *models.Job) error { return nil }
func (s *testStore) GetJob(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListJobsByOwner(_ context.Context, _ string, _ int) ([]*models.Job, error) {
	return nil, nil
}
func (s *testStore) ListJobsByStatus(_ context.Context, _ ...models.JobStatus) ([]*models.Job, error) {
	return nil, nil
}
func (s *testStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *testStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *testStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Ping(_ context.Context) error                                      { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["store"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		store *testStore
		cache *testCache
	}{
		{"store", &testStore{pingErr: errors.New("connection refused")}, &testCache{}},
		{"cache", &testStore{}, &testCache{pingErr: errors.New("redis down")}},
		{"both", &testStore{pingErr: errors.New("db down")}, &testCache{pingErr: errors.New("redis down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := healthHandler(tt.store, tt.cache)

			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			w := httptest.NewRecorder()
			h(w, req)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
		})
	}
}

// ─── run() / openStore failure tests ────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WHISPER_SCRIPT", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("WHISPER_SCRIPT", "whisper_engine.py")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestRun_FailsOnInvalidRedisURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("BADGER_DIR", t.TempDir())
	t.Setenv("REDIS_URL", "://not-a-url")
	t.Setenv("WHISPER_SCRIPT", "whisper_engine.py")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestOpenStore_Badger(t *testing.T) {
	cfg := &config.Config{
		Store:  config.StoreConfig{Driver: config.StoreDriverBadger},
		Badger: config.BadgerConfig{Dir: t.TempDir()},
	}

	st, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()

	assert.NoError(t, st.Ping(context.Background()))
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
