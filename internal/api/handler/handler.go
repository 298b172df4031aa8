// Package handler contains the HTTP handlers for the transcription API.
// Handlers depend on small interfaces so they can be exercised with fakes.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/transcription"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

// JobService is the slice of the orchestrator the handlers need.
type JobService interface {
	Submit(ctx context.Context, owner, inputRef string, params models.Parameters) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Subscribe(jobID uuid.UUID) *transcription.Subscription
	Unsubscribe(sub *transcription.Subscription)
}

// HistoryStore lists a caller's past jobs.
type HistoryStore interface {
	ListJobsByOwner(ctx context.Context, owner string, limit int) ([]*models.Job, error)
}

// Transcripts resolves result files for completed jobs.
type Transcripts interface {
	Transcript(ctx context.Context, jobID uuid.UUID, outputRef string) (string, error)
	FormatPath(outputRef, format string) string
}

// FileSaver persists uploaded media and returns its input reference.
type FileSaver interface {
	Save(filename string, r io.Reader) (string, error)
}

func parseJobID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	return id, err == nil
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := mw.GetOwner(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
	}
	return owner, ok
}

func jobNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
}

// loadOwnedJob resolves the {jobID} path parameter to a job owned by the caller.
// Malformed ids, unknown ids and other owners' jobs are indistinguishable 404s.
func loadOwnedJob(w http.ResponseWriter, r *http.Request, jobs JobService) (*models.Job, bool) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return nil, false
	}
	id, ok := parseJobID(r)
	if !ok {
		jobNotFound(w)
		return nil, false
	}

	job, err := jobs.Get(r.Context(), id)
	switch {
	case errors.Is(err, transcription.ErrJobNotFound):
		jobNotFound(w)
		return nil, false
	case err != nil:
		slog.Error("load job", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return nil, false
	case job.Owner != owner:
		jobNotFound(w)
		return nil, false
	}
	return job, true
}
