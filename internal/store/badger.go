package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerStore implements the Store interface on an embedded Badger database.
// It is meant for single-node deployments that do not run Postgres.
type BadgerStore struct {
	db *badgerhold.Store
}

// OpenBadgerStore opens (creating if needed) a Badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.Badger().IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *BadgerStore) SaveJob(_ context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		return fmt.Errorf("save job: id is required")
	}
	if err := s.db.Upsert(job.ID.String(), job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *BadgerStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := s.db.Get(id.String(), &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *BadgerStore) ListJobsByOwner(_ context.Context, owner string, limit int) ([]*models.Job, error) {
	var found []models.Job
	if err := s.db.Find(&found, badgerhold.Where("Owner").Eq(owner)); err != nil {
		return nil, fmt.Errorf("list jobs by owner: %w", err)
	}

	jobs := toJobPointers(found)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	if n := normalizeLimit(limit); len(jobs) > n {
		jobs = jobs[:n]
	}
	return jobs, nil
}

func (s *BadgerStore) ListJobsByStatus(_ context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	if len(statuses) == 0 {
		return []*models.Job{}, nil
	}
	values := make([]interface{}, len(statuses))
	for i, st := range statuses {
		values[i] = st
	}

	var found []models.Job
	if err := s.db.Find(&found, badgerhold.Where("Status").In(values...)); err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}

	jobs := toJobPointers(found)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func toJobPointers(found []models.Job) []*models.Job {
	jobs := make([]*models.Job, len(found))
	for i := range found {
		jobs[i] = &found[i]
	}
	return jobs
}

// --- API Keys ---

func (s *BadgerStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var found []models.APIKey
	if err := s.db.Find(&found, badgerhold.Where("KeyPrefix").Eq(prefix)); err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}

	var keys []*models.APIKey
	for i := range found {
		if found[i].DeletedAt == nil {
			keys = append(keys, &found[i])
		}
	}
	return keys, nil
}

func (s *BadgerStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	var key models.APIKey
	if err := s.db.Get(id.String(), &key); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update api key last used: %w", err)
	}

	now := time.Now().UTC()
	key.LastUsedAt = &now
	key.UpdatedAt = now
	if err := s.db.Update(id.String(), &key); err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *BadgerStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	var existing []models.APIKey
	if err := s.db.Find(&existing, badgerhold.Where("Owner").Eq(key.Owner).And("Name").Eq(key.Name)); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	if len(existing) > 0 {
		return ErrDuplicateKey
	}

	if err := s.db.Insert(key.ID.String(), key); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
