package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type historyItem struct {
	JobID       uuid.UUID         `json:"job_id"`
	Status      models.JobStatus  `json:"status"`
	Message     string            `json:"message"`
	Source      string            `json:"source"`
	Parameters  models.Parameters `json:"parameters"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/history.
func NewHistoryHandler(jobs HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		list, err := jobs.ListJobsByOwner(r.Context(), owner, limit)
		if err != nil {
			slog.Error("list history", "owner", owner, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		items := make([]historyItem, 0, len(list))
		for _, j := range list {
			items = append(items, historyItem{
				JobID:       j.ID,
				Status:      j.Status,
				Message:     j.Message,
				Source:      displaySource(j.InputRef),
				Parameters:  j.Parameters,
				CreatedAt:   j.CreatedAt,
				CompletedAt: j.CompletedAt,
			})
		}

		response.List(w, items, response.ListMeta{Limit: limit, Count: len(items)})
	}
}

// displaySource hides server paths: links are shown as-is, uploads by the
// name the client sent.
func displaySource(inputRef string) string {
	if strings.HasPrefix(inputRef, "http://") || strings.HasPrefix(inputRef, "https://") {
		return inputRef
	}
	base := filepath.Base(inputRef)
	if len(base) > 37 && base[36] == '_' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}
