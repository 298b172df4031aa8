package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/upload"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

const (
	defaultModel = "small"
	defaultTask  = "transcribe"

	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
)

type submitResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type linkRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
	Model    string `json:"model"`
	Task     string `json:"task"`
}

// buildParameters applies the engine defaults. An empty language means the
// engine detects it.
func buildParameters(language, model, task string) models.Parameters {
	p := models.Parameters{
		Language: strings.TrimSpace(language),
		Model:    strings.TrimSpace(model),
		Task:     strings.TrimSpace(task),
	}
	if p.Model == "" {
		p.Model = defaultModel
	}
	if p.Task == "" {
		p.Task = defaultTask
	}
	return p
}

// NewTranscribeHandler returns an http.HandlerFunc for POST /api/v1/transcribe.
// The media arrives as the multipart field "file".
func NewTranscribeHandler(jobs JobService, files FileSaver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		inputRef, err := files.Save(header.Filename, file)
		if err != nil {
			if errors.Is(err, upload.ErrEmptyFile) {
				response.Error(w, http.StatusBadRequest, "EMPTY_FILE", "Please select a file", nil)
				return
			}
			slog.Error("save upload", "filename", header.Filename, "error", err)
			response.Error(w, http.StatusInternalServerError, "UPLOAD_FAILED", "Could not store the uploaded file", nil)
			return
		}

		params := buildParameters(r.FormValue("language"), r.FormValue("model"), r.FormValue("task"))
		submit(w, r, jobs, owner, inputRef, params)
	}
}

// NewTranscribeLinkHandler returns an http.HandlerFunc for POST /api/v1/transcribe-link.
// The body is either JSON or a form with a "url" field.
func NewTranscribeLinkHandler(jobs JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		var req linkRequest
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		} else {
			req = linkRequest{
				URL:      r.FormValue("url"),
				Language: r.FormValue("language"),
				Model:    r.FormValue("model"),
				Task:     r.FormValue("task"),
			}
		}

		link, err := upload.ValidateLink(req.URL)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_URL", "A valid http or https URL is required", nil)
			return
		}

		submit(w, r, jobs, owner, link, buildParameters(req.Language, req.Model, req.Task))
	}
}

func submit(w http.ResponseWriter, r *http.Request, jobs JobService, owner, inputRef string, params models.Parameters) {
	job, err := jobs.Submit(r.Context(), owner, inputRef, params)
	if err != nil {
		slog.Error("create job", "owner", owner, "request_id", mw.RequestID(r), "error", err)
		response.Error(w, http.StatusInternalServerError, "JOB_CREATE_FAILED", "Could not create transcription job", nil)
		return
	}
	response.Accepted(w, submitResponse{JobID: job.ID, Status: job.Status})
}
