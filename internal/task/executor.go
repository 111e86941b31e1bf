package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/redact"
	"github.com/phrazzld/jobstream/internal/resilience"
	"github.com/phrazzld/jobstream/internal/store"
)

// instrumentationName is the OpenTelemetry scope for job execution.
const instrumentationName = "github.com/phrazzld/jobstream/internal/task"

// persistTimeout bounds terminal writes made after the worker context is done.
const persistTimeout = 5 * time.Second

var errHandlerPanic = errors.New("handler panicked")

// ExecutorConfig holds the per-task time ceilings.
type ExecutorConfig struct {
	// SoftTimeout stops further retries once exceeded.
	SoftTimeout time.Duration

	// HardTimeout cancels the handler's context.
	HardTimeout time.Duration
}

// Executor drives a single job from pending to a terminal state. Every
// persisted transition is followed by a published event, never preceded.
type Executor struct {
	store    store.JobStore
	bus      events.Bus
	envelope *resilience.Envelope
	handlers *Registry
	config   ExecutorConfig
	logger   *slog.Logger
	now      func() time.Time

	tracer    trace.Tracer
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewExecutor creates an Executor. Instruments come from the global
// OpenTelemetry providers and are no-ops unless an SDK is installed.
func NewExecutor(
	jobStore store.JobStore,
	bus events.Bus,
	envelope *resilience.Envelope,
	handlers *Registry,
	config ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	logger = logger.With("component", "executor")
	meter := otel.Meter(instrumentationName)
	completed, cErr := meter.Int64Counter("jobs.completed",
		metric.WithDescription("Jobs that finished successfully"),
		metric.WithUnit("{job}"))
	failed, fErr := meter.Int64Counter("jobs.failed",
		metric.WithDescription("Jobs that failed or were cancelled"),
		metric.WithUnit("{job}"))
	duration, dErr := meter.Float64Histogram("jobs.duration_ms",
		metric.WithDescription("Time from claim to terminal state"),
		metric.WithUnit("ms"))
	// The API still returns usable instruments alongside an error.
	if err := errors.Join(cErr, fErr, dErr); err != nil {
		logger.Warn("failed to create job metric instruments", "error", err)
	}

	return &Executor{
		store:     jobStore,
		bus:       bus,
		envelope:  envelope,
		handlers:  handlers,
		config:    config,
		logger:    logger,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		completed: completed,
		failed:    failed,
		duration:  duration,
	}
}

// Handlers returns the registry the executor dispatches to.
func (e *Executor) Handlers() *Registry {
	return e.handlers
}

// Execute claims the job and runs its handler. A job that is no longer
// pending is skipped without error. Closing stop asks the handler to give
// up at its next step; calls in flight are never interrupted. The
// cancelling side owns the terminal transition in that case.
func (e *Executor) Execute(ctx context.Context, jobID string, stop <-chan struct{}) error {
	claimed, err := e.store.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("job no longer claimable, skipping", "job_id", jobID, "error", err)
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	log := e.logger.With("job_id", claimed.ID, "job_type", string(claimed.Kind))
	log.Info("job started")
	e.publish(ctx, events.Started(claimed))

	ctx, span := e.tracer.Start(ctx, "jobstream.job.execute",
		trace.WithAttributes(
			attribute.String("jobstream.job.id", claimed.ID),
			attribute.String("jobstream.job.kind", string(claimed.Kind)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := e.now()
	binding, ok := e.handlers.Lookup(claimed.Kind)
	if !ok {
		err := fmt.Errorf("no handler registered for %s", claimed.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, claimed, job.Error{Code: job.ErrorCodeInternal, Message: err.Error()}, start)
	}

	// Cancellation reaches the handler through Stopped(ctx) and the
	// envelope's stop check. The hard timeout is the only deadline on runCtx.
	runCtx, cancelRun := context.WithTimeout(ctx, e.config.HardTimeout)
	defer cancelRun()
	state := &runState{
		stop:       stop,
		dependency: binding.Dependency,
		opts: []resilience.CallOption{
			resilience.WithStop(stop),
			resilience.WithSoftDeadline(start.Add(e.config.SoftTimeout)),
			resilience.OnRetry(func(attempt int, err error) {
				span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			}),
		},
	}

	reporter := &progressReporter{executor: e, jobID: claimed.ID}
	var (
		result  json.RawMessage
		retries int
		runErr  error
	)
	if binding.PerCall {
		state.envelope = e.envelope
		result, runErr = runHandler(withRun(runCtx, state), binding.Handler, claimed.Clone(), reporter)
		retries = int(state.retries.Load())
	} else {
		retries, runErr = e.envelope.Do(withRun(runCtx, state), binding.Dependency, func(ctx context.Context) error {
			out, err := runHandler(ctx, binding.Handler, claimed.Clone(), reporter)
			if err != nil {
				return err
			}
			result = out
			return nil
		}, state.opts...)
	}

	// The worker context may already be done; terminal writes must still land.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	switch {
	case runErr == nil:
		// A handler that ignored the stop still loses to the cancellation:
		// the guarded complete rejects a job that left processing.
		span.SetStatus(codes.Ok, "")
		return e.complete(persistCtx, claimed, result, start)
	case signalled(stop):
		log.Info("job stopped after cancellation", "retries", retries)
		span.SetStatus(codes.Error, "cancelled")
		return nil
	default:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, redact.Error(runErr))
		jobErr := job.Error{
			Code:       classify(ctx, runCtx, runErr),
			Message:    redact.Error(runErr),
			RetryCount: retries,
		}
		return e.fail(persistCtx, claimed, jobErr, start)
	}
}

// Cancel moves a job to cancelled and publishes the failed-shaped event.
func (e *Executor) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	cancelled, err := e.store.Cancel(ctx, jobID, job.Error{
		Code:    job.ErrorCodeCancelled,
		Message: "job cancelled by request",
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("job cancelled", "job_id", jobID)
	e.publish(ctx, events.Failed(cancelled))
	e.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(cancelled.Kind)),
		attribute.String("error_code", string(job.ErrorCodeCancelled)),
	))
	return cancelled, nil
}

// Abandon fails a processing job that no worker in this process owns.
func (e *Executor) Abandon(ctx context.Context, j *job.Job, code job.ErrorCode, message string) error {
	return e.fail(ctx, j, job.Error{Code: code, Message: message}, e.now())
}

func (e *Executor) complete(ctx context.Context, claimed *job.Job, result json.RawMessage, start time.Time) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	completed, err := e.store.Complete(ctx, claimed.ID, result)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Info("discarding result of job that left processing", "job_id", claimed.ID)
			return nil
		}
		return fmt.Errorf("complete job %s: %w", claimed.ID, err)
	}
	e.publish(ctx, events.Completed(completed))

	attrs := metric.WithAttributes(attribute.String("kind", string(claimed.Kind)))
	e.completed.Add(ctx, 1, attrs)
	e.duration.Record(ctx, elapsedMs(start, e.now()), attrs)
	e.logger.Info("job completed", "job_id", claimed.ID, "job_type", string(claimed.Kind))
	return nil
}

func (e *Executor) fail(ctx context.Context, claimed *job.Job, jobErr job.Error, start time.Time) error {
	failed, err := e.store.Fail(ctx, claimed.ID, jobErr)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Info("job left processing before failure was recorded", "job_id", claimed.ID)
			return nil
		}
		return fmt.Errorf("fail job %s: %w", claimed.ID, err)
	}
	e.publish(ctx, events.Failed(failed))

	attrs := metric.WithAttributes(
		attribute.String("kind", string(claimed.Kind)),
		attribute.String("error_code", string(jobErr.Code)),
	)
	e.failed.Add(ctx, 1, attrs)
	e.duration.Record(ctx, elapsedMs(start, e.now()), attrs)
	e.logger.Warn("job failed",
		"job_id", claimed.ID,
		"job_type", string(claimed.Kind),
		"error_code", string(jobErr.Code),
		"retry_count", jobErr.RetryCount,
		"error", jobErr.Message)
	return nil
}

func (e *Executor) publish(ctx context.Context, ev *events.Event) {
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish event",
			"job_id", ev.JobID,
			"event_type", string(ev.Type),
			"error", err)
	}
}

// classify maps the error that ended a run to its persisted code.
func classify(parent, run context.Context, err error) job.ErrorCode {
	switch {
	case errors.Is(err, errHandlerPanic):
		return job.ErrorCodeInternal
	case errors.Is(err, resilience.ErrCircuitOpen):
		return job.ErrorCodeCircuitOpen
	case errors.Is(err, resilience.ErrSoftDeadline):
		return job.ErrorCodeTimeout
	case parent.Err() != nil:
		return job.ErrorCodeInterrupted
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return job.ErrorCodeTimeout
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return job.ErrorCodeTransientExhausted
	default:
		return job.ErrorCodePermanent
	}
}

func runHandler(ctx context.Context, h Handler, j *job.Job, progress ProgressReporter) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = resilience.Permanent(fmt.Errorf("%w: %v", errHandlerPanic, r))
		}
	}()
	return h.Run(ctx, j, progress)
}

func signalled(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func elapsedMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}

// progressReporter persists a report and then publishes it.
type progressReporter struct {
	executor *Executor
	jobID    string
}

func (p *progressReporter) Report(ctx context.Context, percentage int, stage string) {
	e := p.executor
	updated, err := e.store.UpdateProgress(ctx, p.jobID, job.Progress{Percentage: percentage, Stage: stage}.Clamp())
	if err != nil {
		if errors.Is(err, store.ErrStaleProgress) || errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Debug("dropping progress report", "job_id", p.jobID, "percentage", percentage, "error", err)
			return
		}
		e.logger.Warn("failed to record progress", "job_id", p.jobID, "error", err)
		return
	}
	e.publish(ctx, events.ProgressReported(updated))
}
