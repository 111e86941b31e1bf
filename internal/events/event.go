package events

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
)

// Type identifies a lifecycle transition.
type Type string

// Lifecycle event types
const (
	TypeStarted   Type = "job:started"
	TypeProgress  Type = "job:progress"
	TypeCompleted Type = "job:completed"
	TypeFailed    Type = "job:failed"
)

// IsTerminal reports whether no further events follow t for the same job.
func (t Type) IsTerminal() bool {
	return t == TypeCompleted || t == TypeFailed
}

// Wire status values. Cancelled jobs are reported as failed with error code
// "cancelled".
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is an immutable record of one job lifecycle transition.
type Event struct {
	Type                 Type      `json:"event_type"`
	Timestamp            time.Time `json:"timestamp"`
	JobID                string    `json:"job_id"`
	Status               string    `json:"status"`
	TemplateIDs          []string  `json:"template_ids,omitempty"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	GenerationDurationMs *int64    `json:"generation_duration_ms,omitempty"`

	Progress   *int   `json:"progress,omitempty"`
	Stage      string `json:"stage,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	RetryCount *int   `json:"retry_count,omitempty"`
}

// Started builds the job:started event for a freshly claimed job.
func Started(j *job.Job) *Event {
	return &Event{
		Type:      TypeStarted,
		Timestamp: stamp(j.StartedAt, j.UpdatedAt),
		JobID:     j.ID,
		Status:    StatusRunning,
	}
}

// ProgressReported builds a job:progress event from the job's last
// accepted progress report.
func ProgressReported(j *job.Job) *Event {
	pct := j.Progress.Percentage
	return &Event{
		Type:      TypeProgress,
		Timestamp: j.UpdatedAt,
		JobID:     j.ID,
		Status:    StatusRunning,
		Progress:  &pct,
		Stage:     j.Progress.Stage,
	}
}

// Completed builds the job:completed event. Template ids are lifted out of
// the result when it is an object with a "template_ids" array.
func Completed(j *job.Job) *Event {
	return &Event{
		Type:                 TypeCompleted,
		Timestamp:            stamp(j.CompletedAt, j.UpdatedAt),
		JobID:                j.ID,
		Status:               StatusCompleted,
		TemplateIDs:          templateIDs(j.Result),
		GenerationDurationMs: duration(j),
	}
}

// Failed builds the job:failed event for a failed or cancelled job.
func Failed(j *job.Job) *Event {
	e := &Event{
		Type:                 TypeFailed,
		Timestamp:            stamp(j.CompletedAt, j.UpdatedAt),
		JobID:                j.ID,
		Status:               StatusFailed,
		GenerationDurationMs: duration(j),
	}
	if j.Error != nil {
		rc := j.Error.RetryCount
		e.ErrorMessage = j.Error.Message
		e.ErrorCode = string(j.Error.Code)
		e.RetryCount = &rc
	}
	return e
}

// Terminal builds the terminal event for a job in a terminal state. The
// second return value is false if the job has not finished.
func Terminal(j *job.Job) (*Event, bool) {
	switch j.Status {
	case job.StatusCompleted:
		return Completed(j), true
	case job.StatusFailed, job.StatusCancelled:
		return Failed(j), true
	default:
		return nil, false
	}
}

func stamp(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}

func duration(j *job.Job) *int64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	ms := j.CompletedAt.Sub(*j.StartedAt).Milliseconds()
	return &ms
}

func templateIDs(result json.RawMessage) []string {
	if len(result) == 0 {
		return nil
	}
	var body struct {
		TemplateIDs []string `json:"template_ids"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil
	}
	return body.TemplateIDs
}
