package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

const transcriptReadError = "Error reading result file"

type statusResponse struct {
	JobID           uuid.UUID        `json:"job_id"`
	Status          models.JobStatus `json:"status"`
	Message         string           `json:"message"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Transcript      string           `json:"transcript,omitempty"`
	TranscriptError string           `json:"transcript_error,omitempty"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/status/{jobID}.
// Completed jobs carry their transcript inline.
func NewStatusHandler(jobs JobService, transcripts Transcripts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, jobs)
		if !ok {
			return
		}

		resp := statusResponse{
			JobID:       job.ID,
			Status:      job.Status,
			Message:     job.Message,
			CreatedAt:   job.CreatedAt,
			CompletedAt: job.CompletedAt,
		}

		if job.Status == models.JobStatusCompleted && job.OutputRef != nil {
			text, err := transcripts.Transcript(r.Context(), job.ID, *job.OutputRef)
			if err != nil {
				slog.Warn("read transcript", "job_id", job.ID, "error", err)
				resp.TranscriptError = transcriptReadError
			} else {
				resp.Transcript = text
			}
		}

		response.JSON(w, resp)
	}
}
