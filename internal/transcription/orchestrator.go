package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/store"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"golang.org/x/sync/semaphore"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPatch      = errors.New("invalid status patch")
)

// validTransitions lists the statuses reachable from each non-terminal status.
// PROCESSING -> PROCESSING carries message-only progress updates.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
}

func canTransition(from, to models.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Patch is a partial update applied by UpdateStatus. A nil field leaves the
// stored value unchanged; a non-nil empty string overwrites it.
type Patch struct {
	Message   *string
	OutputRef *string
}

// PatchOption sets one field of a Patch.
type PatchOption func(*Patch)

// WithMessage overwrites the job's status message.
func WithMessage(msg string) PatchOption {
	return func(p *Patch) { p.Message = &msg }
}

// WithOutputRef sets the result location. Only valid together with COMPLETED.
func WithOutputRef(ref string) PatchOption {
	return func(p *Patch) { p.OutputRef = &ref }
}

// Config holds the engine invocation settings shared by every job.
type Config struct {
	Executable string
	Script     string
	OutputDir  string
	// MaxConcurrent bounds the number of engines running at once. Zero means unbounded.
	MaxConcurrent int
}

// Orchestrator owns the job lifecycle: it creates job records, runs one
// background task per job, persists every transition and pushes it to the
// job's live subscriber.
type Orchestrator struct {
	store    store.JobStore
	runner   Runner
	registry *Registry
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
	wg       sync.WaitGroup

	now      func() time.Time
	mkdirAll func(path string, perm os.FileMode) error
}

// New creates an Orchestrator.
func New(st store.JobStore, runner Runner, registry *Registry, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(cfg.OutputDir); err == nil {
		cfg.OutputDir = abs
	}
	o := &Orchestrator{
		store:    st,
		runner:   runner,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		mkdirAll: os.MkdirAll,
	}
	if cfg.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return o
}

// CreateJob persists a new PENDING job and returns it. It never touches the engine.
func (o *Orchestrator) CreateJob(ctx context.Context, owner, inputRef string, params models.Parameters) (*models.Job, error) {
	now := o.now()
	job := &models.Job{
		ID:         uuid.New(),
		Owner:      owner,
		Status:     models.JobStatusPending,
		Message:    MsgQueued,
		InputRef:   inputRef,
		Parameters: params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return job, nil
}

// Start launches the background task for a created job. The returned channel
// is closed once the task has finished, whatever its outcome.
func (o *Orchestrator) Start(jobID uuid.UUID, inputRef string, params models.Parameters) <-chan struct{} {
	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		o.runJob(jobID, inputRef, params)
	}()
	return done
}

// Submit creates a job and starts it. It returns as soon as the record is saved.
func (o *Orchestrator) Submit(ctx context.Context, owner, inputRef string, params models.Parameters) (*models.Job, error) {
	job, err := o.CreateJob(ctx, owner, inputRef, params)
	if err != nil {
		return nil, err
	}
	o.Start(job.ID, inputRef, params)
	return job, nil
}

// Wait blocks until every started job task has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers the live push channel for jobID, replacing any previous one.
// Only transitions after this call are delivered.
func (o *Orchestrator) Subscribe(jobID uuid.UUID) *Subscription {
	return o.registry.Register(jobID)
}

// Unsubscribe removes sub unless a newer subscriber has already replaced it.
func (o *Orchestrator) Unsubscribe(sub *Subscription) {
	o.registry.Remove(sub.JobID, sub)
}

// Get returns the current persisted state of a job.
func (o *Orchestrator) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// UpdateStatus is the only way a job record changes after creation. It loads
// the job, checks the transition, applies the patch, stamps CompletedAt on a
// terminal status, saves, and then pushes the new snapshot to the subscriber.
func (o *Orchestrator) UpdateStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, opts ...PatchOption) (*models.Job, error) {
	var p Patch
	for _, opt := range opts {
		opt(&p)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, status)
	}
	if (p.OutputRef != nil) != (status == models.JobStatusCompleted) {
		return nil, fmt.Errorf("%w: output ref must be set exactly when completing", ErrInvalidPatch)
	}

	job, err := o.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !canTransition(job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}

	now := o.now()
	job.Status = status
	if p.Message != nil {
		job.Message = *p.Message
	}
	if p.OutputRef != nil {
		job.OutputRef = p.OutputRef
	}
	job.UpdatedAt = now
	if status.IsTerminal() {
		job.CompletedAt = &now
	}

	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("saving job: %w", err)
	}
	o.registry.Push(job.Event())
	return job, nil
}

// FailInterrupted marks every job left PENDING or PROCESSING by a previous
// process as FAILED. It must run before any new job is started.
func (o *Orchestrator) FailInterrupted(ctx context.Context) (int, error) {
	jobs, err := o.store.ListJobsByStatus(ctx, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("listing unfinished jobs: %w", err)
	}
	failed := 0
	for _, job := range jobs {
		if err := o.fail(ctx, job.ID, MsgInterrupted); err != nil {
			o.logger.Error("failed to mark interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		failed++
	}
	return failed, nil
}

// runJob drives one job from PENDING to a terminal status. Any panic is
// converted into FAILED so one job can never take down another.
func (o *Orchestrator) runJob(jobID uuid.UUID, inputRef string, params models.Parameters) {
	ctx := context.Background()
	log := o.logger.With("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job task", "error", r, "stack", string(debug.Stack()))
			if err := o.fail(ctx, jobID, fmt.Sprintf("System Exception: %v", r)); err != nil {
				log.Error("failed to record job failure", "error", err)
			}
		}
	}()

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			_ = o.fail(ctx, jobID, fmt.Sprintf("System Exception: %v", err))
			return
		}
		defer o.sem.Release(1)
	}

	if _, err := o.UpdateStatus(ctx, jobID, models.JobStatusProcessing, WithMessage(MsgInitializing)); err != nil {
		log.Error("failed to start job", "error", err)
		if !errors.Is(err, ErrJobNotFound) {
			_ = o.fail(ctx, jobID, fmt.Sprintf("System Exception: %v", err))
		}
		return
	}

	if err := o.mkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		log.Error("failed to create output directory", "dir", o.cfg.OutputDir, "error", err)
		o.finish(ctx, log, jobID, models.JobStatusFailed, WithMessage(fmt.Sprintf("%s: %v", msgOutputDirFail, err)))
		return
	}

	var last Milestone
	cb := Callbacks{
		OnMilestone: func(m Milestone) {
			if m == last {
				return
			}
			last = m
			if _, err := o.UpdateStatus(ctx, jobID, models.JobStatusProcessing, WithMessage(m.Message())); err != nil {
				log.Warn("failed to record milestone", "milestone", m.String(), "error", err)
			}
		},
	}

	code, err := o.runner.Run(ctx, Invocation{
		Executable: o.cfg.Executable,
		Script:     o.cfg.Script,
		InputRef:   inputRef,
		OutputDir:  o.cfg.OutputDir,
		JobID:      jobID,
		Params:     params,
	}, cb)

	switch {
	case err != nil:
		log.Error("engine fault", "error", err)
		o.finish(ctx, log, jobID, models.JobStatusFailed, WithMessage(fmt.Sprintf("System Exception: %v", err)))
	case code != 0:
		log.Warn("engine exited with error", "exit_code", code)
		o.finish(ctx, log, jobID, models.JobStatusFailed, WithMessage(fmt.Sprintf("Process encountered an error (Code: %d)", code)))
	default:
		out := filepath.Join(o.cfg.OutputDir, jobID.String()+".txt")
		o.finish(ctx, log, jobID, models.JobStatusCompleted, WithMessage(MsgCompleted), WithOutputRef(out))
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, jobID uuid.UUID, status models.JobStatus, opts ...PatchOption) {
	job, err := o.UpdateStatus(ctx, jobID, status, opts...)
	if err != nil {
		log.Error("failed to record terminal status", "status", status, "error", err)
		return
	}
	log.Info("job finished", "status", job.Status, "message", job.Message)
}

// fail moves a job to FAILED, passing through PROCESSING first if it never got there.
func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, msg string) error {
	_, err := o.UpdateStatus(ctx, jobID, models.JobStatusFailed, WithMessage(msg))
	if !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	if _, err := o.UpdateStatus(ctx, jobID, models.JobStatusProcessing); err != nil {
		return err
	}
	_, err = o.UpdateStatus(ctx, jobID, models.JobStatusFailed, WithMessage(msg))
	return err
}
