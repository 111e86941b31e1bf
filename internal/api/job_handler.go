package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/jobstream/internal/api/shared"
	"github.com/phrazzld/jobstream/internal/cache"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/platform/logger"
	"github.com/phrazzld/jobstream/internal/store"
	"github.com/phrazzld/jobstream/internal/stream"
	"github.com/phrazzld/jobstream/internal/task"
)

// CacheStatusHeader reports whether GET /jobs/{id} was served from the result cache.
const CacheStatusHeader = "X-Cache"

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	queue   task.Queue
	cache   cache.Cache
	store   store.JobStore
	gateway *stream.Gateway
	logger  *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(
	queue task.Queue,
	resultCache cache.Cache,
	jobStore store.JobStore,
	gateway *stream.Gateway,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}
	return &JobHandler{
		queue:   queue,
		cache:   resultCache,
		store:   jobStore,
		gateway: gateway,
		logger:  logger.With(slog.String("component", "job_handler")),
	}
}

// CreateJob handles POST /jobs requests
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}
	if bytes.Equal(bytes.TrimSpace(req.Input), []byte("null")) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid input: required field")
		return
	}

	j, err := h.queue.Enqueue(r.Context(), task.EnqueueRequest{
		JobID:        req.JobID,
		Kind:         job.Kind(req.JobType),
		Input:        req.Input,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("job accepted",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Kind)))

	w.Header().Set("Location", "/jobs/"+j.ID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{JobID: j.ID, Status: j.Status})
}

// GetJob handles GET /jobs/{id} requests. Finished jobs are answered from
// the result cache when possible.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	j, hit, err := h.lookup(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if hit {
		w.Header().Set(CacheStatusHeader, "hit")
	} else {
		w.Header().Set(CacheStatusHeader, "miss")
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(j))
}

// CancelJob handles DELETE /jobs/{id} requests
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	cancelled, signalled, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if !cancelled {
		HandleAPIError(w, r, ErrJobFinished)
		return
	}

	j, err := h.store.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	resp := CancelResponse{JobID: j.ID, Status: j.Status, CancelledAt: j.UpdatedAt, WorkerSignalled: signalled}
	if j.CompletedAt != nil {
		resp.CancelledAt = *j.CompletedAt
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// StreamEvents handles GET /jobs/{id}/events with a server-sent event
// stream that ends after the job's terminal event.
func (h *JobHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	s, err := h.gateway.Open(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	sink, err := stream.NewSSEWriter(w)
	if err != nil {
		s.Close()
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming unsupported", err)
		return
	}

	log := logger.FromContext(r.Context()).With(slog.String("job_id", id))
	log.Debug("event stream opened")
	if err := s.Serve(r.Context(), sink); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("event stream ended early", slog.String("error", err.Error()))
		return
	}
	log.Debug("event stream closed")
}

// lookup reads a job from the cache, falling back to the store.
func (h *JobHandler) lookup(ctx context.Context, id string) (*job.Job, bool, error) {
	j, hit, err := h.cache.Get(ctx, id)
	if err != nil {
		h.logger.Warn("cache lookup failed, falling back to store",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
	}
	if hit {
		return j, true, nil
	}
	j, err = h.store.Get(ctx, id)
	return j, false, err
}
