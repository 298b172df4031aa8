package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// JobStore is the durable job record store, keyed by job id.
// SaveJob must be atomic per record; no cross-record transactions are needed.
type JobStore interface {
	Ping(ctx context.Context) error
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, owner string, limit int) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)
}

// KeyStore holds API keys used by the auth middleware.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	JobStore
	KeyStore
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
