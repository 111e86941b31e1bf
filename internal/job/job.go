package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job
type Status string

// Possible job status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions lists the permitted edges of the job state machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses a job may be in immediately before entering to.
// Stores use it to build guarded updates.
func SourcesFor(to Status) []Status {
	var sources []Status
	for _, from := range []Status{StatusPending, StatusProcessing} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ErrorCode is a stable, machine-readable classification of a job failure
type ErrorCode string

// Job failure codes persisted with failed and cancelled jobs
const (
	ErrorCodeTransientExhausted ErrorCode = "transient_exhausted"
	ErrorCodePermanent          ErrorCode = "permanent"
	ErrorCodeCircuitOpen        ErrorCode = "circuit_open"
	ErrorCodeTimeout            ErrorCode = "timeout"
	ErrorCodeCancelled          ErrorCode = "cancelled"
	ErrorCodeInterrupted        ErrorCode = "interrupted"
	ErrorCodeInternal           ErrorCode = "internal"
)

// Error is the structured failure recorded on a job that did not complete.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
}

// Progress is the last progress report accepted for a job.
type Progress struct {
	Percentage int    `json:"percentage"`
	Stage      string `json:"stage"`
}

// Clamp bounds the percentage to [0, 100].
func (p Progress) Clamp() Progress {
	switch {
	case p.Percentage < 0:
		p.Percentage = 0
	case p.Percentage > 100:
		p.Percentage = 100
	}
	return p
}

// Job is the durable record of one unit of asynchronous work.
type Job struct {
	ID           string          `json:"job_id"`
	Kind         Kind            `json:"job_type"`
	Status       Status          `json:"status"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Progress     Progress        `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *Error          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// New creates a pending job. An empty id is replaced with a random UUID.
func New(id string, kind Kind, input json.RawMessage) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Input = cloneRaw(j.Input)
	c.Result = cloneRaw(j.Result)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Validate checks the terminal-outcome invariant: a completed job carries a
// result and no error, a failed or cancelled job carries an error and no
// result, and a non-terminal job carries neither.
func (j *Job) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, j.Status)
	}
	hasResult := len(j.Result) > 0
	hasError := j.Error != nil
	switch j.Status {
	case StatusCompleted:
		if !hasResult || hasError {
			return fmt.Errorf("%w: completed job must have a result and no error", ErrInvalidJob)
		}
	case StatusFailed, StatusCancelled:
		if hasResult || !hasError {
			return fmt.Errorf("%w: %s job must have an error and no result", ErrInvalidJob, j.Status)
		}
		if j.Error.Message == "" {
			return fmt.Errorf("%w: %s job must have an error message", ErrInvalidJob, j.Status)
		}
	default:
		if hasResult || hasError {
			return fmt.Errorf("%w: %s job must not have an outcome", ErrInvalidJob, j.Status)
		}
	}
	return nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
