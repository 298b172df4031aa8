package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/transcription"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

// NewDownloadHandler returns an http.HandlerFunc for GET /api/v1/download/{jobID}.
// The optional "format" query parameter selects txt, srt or vtt.
func NewDownloadHandler(jobs JobService, transcripts Transcripts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, jobs)
		if !ok {
			return
		}
		if job.Status != models.JobStatusCompleted || job.OutputRef == nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Transcript not available", nil)
			return
		}

		format := transcription.NormalizeFormat(r.URL.Query().Get("format"))
		path := transcripts.FormatPath(*job.OutputRef, format)

		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Transcript file not found", nil)
				return
			}
			slog.Error("open transcript", "job_id", job.ID, "path", path, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			slog.Error("stat transcript", "job_id", job.ID, "path", path, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		name := fmt.Sprintf("transcript_%s.%s", job.ID, format)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
