package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	JobID        string          `json:"job_id,omitempty"        validate:"omitempty,max=128"`
	JobType      string          `json:"job_type"                validate:"required,max=64"`
	Input        json.RawMessage `json:"input"                   validate:"required"`
	ResourceType string          `json:"resource_type,omitempty" validate:"omitempty,max=64"`
	ResourceID   string          `json:"resource_id,omitempty"   validate:"omitempty,max=128"`
}

// EnqueueResponse acknowledges an accepted job.
type EnqueueResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// JobResponse is the representation returned by GET /jobs/{id}.
type JobResponse struct {
	JobID        string          `json:"job_id"`
	JobType      job.Kind        `json:"job_type"`
	Status       job.Status      `json:"status"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Progress     job.Progress    `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *job.Error      `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	JobID       string     `json:"job_id"`
	Status      job.Status `json:"status"`
	CancelledAt time.Time  `json:"cancelled_at"`

	// WorkerSignalled is true when the job was running and its worker has
	// been asked to stop.
	WorkerSignalled bool `json:"worker_signalled"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func jobToResponse(j *job.Job) JobResponse {
	return JobResponse{
		JobID:        j.ID,
		JobType:      j.Kind,
		Status:       j.Status,
		ResourceType: j.ResourceType,
		ResourceID:   j.ResourceID,
		Progress:     j.Progress,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
