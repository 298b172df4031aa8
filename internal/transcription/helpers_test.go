package transcription

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// mockStore keeps the latest record per job plus a copy of every save, in order.
type mockStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]models.Job
	history []models.Job
	saveErr error
	listErr error
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]models.Job)}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) SaveJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.jobs[job.ID] = *job
	s.history = append(s.history, *job)
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (s *mockStore) ListJobsByOwner(_ context.Context, owner string, _ int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Owner == owner {
			j := j
			out = append(out, &j)
		}
	}
	return out, nil
}

func (s *mockStore) ListJobsByStatus(_ context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Job
	for _, j := range s.jobs {
		for _, st := range statuses {
			if j.Status == st {
				j := j
				out = append(out, &j)
			}
		}
	}
	return out, nil
}

func (s *mockStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// historyFor returns every saved snapshot of one job, oldest first.
func (s *mockStore) historyFor(id uuid.UUID) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.history {
		if j.ID == id {
			out = append(out, j)
		}
	}
	return out
}

func (s *mockStore) current(t *testing.T, id uuid.UUID) models.Job {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	require.True(t, ok, "job %s not stored", id)
	return j
}

// fakeRunner stands in for the engine process.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Invocation
	run   func(ctx context.Context, inv Invocation, cb Callbacks) (int, error)
}

func (r *fakeRunner) Run(ctx context.Context, inv Invocation, cb Callbacks) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()
	if r.run == nil {
		return 0, nil
	}
	return r.run(ctx, inv, cb)
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// exitWith returns a runner body that replays lines through the real
// heuristic, then exits with code.
func exitWith(code int, lines ...string) func(context.Context, Invocation, Callbacks) (int, error) {
	return func(_ context.Context, _ Invocation, cb Callbacks) (int, error) {
		cb.OnMilestone(MilestoneLoading)
		p := NewLineHeuristic()
		for _, l := range lines {
			if m, ok := p.Parse(l); ok {
				cb.OnMilestone(m)
			}
		}
		return code, nil
	}
}

func newTestOrchestrator(t *testing.T, st store.JobStore, runner Runner, maxConcurrent int) (*Orchestrator, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "outputs")
	o := New(st, runner, NewRegistry(0), Config{
		Executable:    "python3",
		Script:        "transcribe.py",
		OutputDir:     dir,
		MaxConcurrent: maxConcurrent,
	}, nil)
	return o, dir
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job task to finish")
	}
}

// waitForStatus polls the store until the job reaches status.
func waitForStatus(t *testing.T, s *mockStore, id uuid.UUID, status models.JobStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		j, ok := s.jobs[id]
		s.mu.Unlock()
		if ok && j.Status == status {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %s", id, status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// assertLifecycleInvariants checks every persisted snapshot of a job against
// the state machine: statuses never move backwards, nothing skips PROCESSING,
// outputRef is present exactly when COMPLETED and completedAt exactly when terminal.
func assertLifecycleInvariants(t *testing.T, history []models.Job) {
	t.Helper()
	rank := map[models.JobStatus]int{
		models.JobStatusPending:    0,
		models.JobStatusProcessing: 1,
		models.JobStatusCompleted:  2,
		models.JobStatusFailed:     2,
	}
	require.NotEmpty(t, history)
	require.Equal(t, models.JobStatusPending, history[0].Status)

	var completedAt *time.Time
	for i, j := range history {
		if i > 0 {
			prev := history[i-1]
			require.GreaterOrEqual(t, rank[j.Status], rank[prev.Status], "status went backwards at save %d", i)
			require.False(t, prev.Status.IsTerminal(), "terminal job was modified at save %d", i)
			if j.Status.IsTerminal() {
				require.Equal(t, models.JobStatusProcessing, prev.Status, "terminal status skipped PROCESSING")
			}
		}
		require.Equal(t, j.Status == models.JobStatusCompleted, j.OutputRef != nil, "outputRef invariant at save %d", i)
		require.Equal(t, j.Status.IsTerminal(), j.CompletedAt != nil, "completedAt invariant at save %d", i)
		if j.CompletedAt != nil {
			require.Nil(t, completedAt, "completedAt set twice")
			completedAt = j.CompletedAt
		}
	}
}

// writeScript writes an executable shell script standing in for the engine.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}
