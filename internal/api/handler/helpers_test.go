package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/internal/transcription"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"github.com/stretchr/testify/require"
)

const testOwner = "alice"

// --- fake JobService ---

type submission struct {
	owner    string
	inputRef string
	params   models.Parameters
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	submitted []submission
	submitErr error
	getErr    error
	reg       *transcription.Registry
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs: make(map[uuid.UUID]*models.Job),
		reg:  transcription.NewRegistry(8),
	}
}

func (f *fakeJobs) Submit(_ context.Context, owner, inputRef string, params models.Parameters) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, submission{owner: owner, inputRef: inputRef, params: params})
	job := &models.Job{
		ID:         uuid.New(),
		Owner:      owner,
		Status:     models.JobStatusPending,
		Message:    transcription.MsgQueued,
		InputRef:   inputRef,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, transcription.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Subscribe(id uuid.UUID) *transcription.Subscription {
	return f.reg.Register(id)
}

func (f *fakeJobs) Unsubscribe(sub *transcription.Subscription) {
	f.reg.Remove(sub.JobID, sub)
}

// put stores a job with the given state and returns it.
func (f *fakeJobs) put(owner string, status models.JobStatus, msg string, outputRef *string) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &models.Job{
		ID:        uuid.New(),
		Owner:     owner,
		Status:    status,
		Message:   msg,
		InputRef:  "/uploads/x.mp3",
		OutputRef: outputRef,
		CreatedAt: time.Now().UTC(),
	}
	if status.IsTerminal() {
		done := job.CreatedAt.Add(time.Minute)
		job.CompletedAt = &done
	}
	f.jobs[job.ID] = job
	return job
}

// transition updates the stored job and broadcasts it, as the orchestrator does.
func (f *fakeJobs) transition(id uuid.UUID, status models.JobStatus, msg string) {
	f.mu.Lock()
	j := f.jobs[id]
	j.Status = status
	j.Message = msg
	ev := j.Event()
	f.mu.Unlock()
	f.reg.Push(ev)
}

// --- fake KeyStore ---

type fakeKeys struct {
	mu        sync.Mutex
	created   []*models.APIKey
	createErr error
}

func (k *fakeKeys) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}

func (k *fakeKeys) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (k *fakeKeys) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.createErr != nil {
		return k.createErr
	}
	k.created = append(k.created, key)
	return nil
}

var _ store.KeyStore = (*fakeKeys)(nil)

// --- fake HistoryStore ---

type fakeHistory struct {
	jobs     []*models.Job
	err      error
	gotOwner string
	gotLimit int
}

func (h *fakeHistory) ListJobsByOwner(_ context.Context, owner string, limit int) ([]*models.Job, error) {
	h.gotOwner = owner
	h.gotLimit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.jobs, nil
}

var errBoom = errors.New("boom")

// --- helpers ---

// asOwner injects the caller identity the auth middleware would set.
func asOwner(owner string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if owner != "" {
				r = r.WithContext(mw.SetOwner(r.Context(), owner))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// serve routes req through a chi router so URL parameters resolve.
func serve(owner, method, pattern string, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(asOwner(owner))
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Data
}

func decodeErrorCode(t *testing.T, body io.Reader) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env.Error.Code
}

func strPtr(s string) *string { return &s }
