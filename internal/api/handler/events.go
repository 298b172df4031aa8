package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

const (
	statusEventName   = "status-update"
	heartbeatInterval = 15 * time.Second
)

// EventsHandler streams job status transitions over Server-Sent Events.
type EventsHandler struct {
	jobs      JobService
	timeout   time.Duration
	heartbeat time.Duration
}

// NewEventsHandler creates an EventsHandler. A non-positive timeout leaves the
// stream open until the job terminates or the client goes away.
func NewEventsHandler(jobs JobService, timeout time.Duration) *EventsHandler {
	return &EventsHandler{jobs: jobs, timeout: timeout, heartbeat: heartbeatInterval}
}

// ServeHTTP handles GET /api/v1/status/{jobID}/events.
//
// The current state is sent first, so a client that connects after the last
// transition still learns the outcome. The stream ends after a terminal event.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming not supported", nil)
		return
	}

	job, ok := loadOwnedJob(w, r, h.jobs)
	if !ok {
		return
	}

	// Re-read after registering so no transition falls between snapshot and stream.
	sub := h.jobs.Subscribe(job.ID)
	defer h.jobs.Unsubscribe(sub)

	job, err := h.jobs.Get(r.Context(), job.ID)
	if err != nil {
		slog.Error("load job", "job_id", sub.JobID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// The server's WriteTimeout would otherwise cut long transcriptions short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := writeEvent(w, flusher, job.Event()); err != nil || job.Status.IsTerminal() {
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, ev); err != nil {
				slog.Debug("sse write failed", "job_id", ev.JobID, "error", err)
				return
			}
			if ev.Status.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev models.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", statusEventName, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
