package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Parameters are the engine selectors forwarded verbatim to the transcription process.
// Empty fields are omitted from the invocation.
type Parameters struct {
	Language string `db:"language" json:"language,omitempty"`
	Model    string `db:"model"    json:"model,omitempty"`
	Task     string `db:"task"     json:"task,omitempty"`
}

// Job is a single submitted transcription request. The API returns its id on
// POST /api/v1/transcribe; clients poll GET /api/v1/status/{job_id} or subscribe
// to GET /api/v1/status/{job_id}/events until status is COMPLETED or FAILED.
//
// OutputRef is non-nil only when Status is COMPLETED. CompletedAt is set once,
// on entering a terminal status.
type Job struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	Owner       string     `db:"owner"        json:"owner"`
	Status      JobStatus  `db:"status"       json:"status"`
	Message     string     `db:"message"      json:"message"`
	InputRef    string     `db:"input_ref"    json:"input_ref"`
	OutputRef   *string    `db:"output_ref"   json:"output_ref,omitempty"`
	Parameters  Parameters `json:"parameters"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// StatusEvent is the payload pushed to a live subscriber on every transition.
type StatusEvent struct {
	JobID   uuid.UUID `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// Event returns the broadcast snapshot of j.
func (j *Job) Event() StatusEvent {
	return StatusEvent{JobID: j.ID, Status: j.Status, Message: j.Message}
}
