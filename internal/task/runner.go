package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/jobstream/internal/config"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/store"
)

// RunnerConfig holds configuration for the Runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers
	WorkerCount int

	// QueueSize is the capacity of the dispatch channel
	QueueSize int

	// StuckJobAge is how long a job may stay processing before it is failed
	StuckJobAge time.Duration

	// SweepInterval is how often pending and stuck jobs are swept
	SweepInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:   4,
		QueueSize:     100,
		StuckJobAge:   30 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// RunnerConfigFromConfig builds a RunnerConfig from application config.
func RunnerConfigFromConfig(cfg config.TaskConfig) RunnerConfig {
	return RunnerConfig{
		WorkerCount:   cfg.WorkerCount,
		QueueSize:     cfg.QueueSize,
		StuckJobAge:   cfg.StuckJobAge(),
		SweepInterval: cfg.SweepInterval(),
	}
}

// Runner is the in-process Queue backend. Jobs are persisted before they
// are pushed onto a bounded channel; a job that does not fit stays pending
// in the store until the next sweep picks it up.
type Runner struct {
	store    store.JobStore
	executor *Executor
	config   RunnerConfig
	dispatch chan string
	pool     *WorkerPool
	logger   *slog.Logger

	// mu guards running; Enqueue holds the read lock while dispatching
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]*stopSignal
}

var _ Queue = (*Runner)(nil)

// stopSignal is the cooperative cancellation handle of one running job.
type stopSignal struct {
	ch   chan struct{}
	once sync.Once
}

func (s *stopSignal) fire() {
	s.once.Do(func() { close(s.ch) })
}

// NewRunner creates a Runner. Call Start before enqueueing.
func NewRunner(jobStore store.JobStore, executor *Executor, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultRunnerConfig().QueueSize
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultRunnerConfig().SweepInterval
	}
	if config.StuckJobAge <= 0 {
		config.StuckJobAge = DefaultRunnerConfig().StuckJobAge
	}
	logger = logger.With("component", "task_runner")
	r := &Runner{
		store:    jobStore,
		executor: executor,
		config:   config,
		dispatch: make(chan string, config.QueueSize),
		logger:   logger,
		inflight: make(map[string]*stopSignal),
	}
	r.pool = NewWorkerPool(r.dispatch, config.WorkerCount, r.process, logger)
	return r
}

// Start recovers jobs left over from a previous run, then launches the
// workers and the periodic sweep.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("task runner already running")
	}

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.pool.Start(runCtx)

	r.wg.Add(1)
	go r.sweepLoop(runCtx)

	r.running = true
	r.logger.Info("task runner started",
		"worker_count", r.pool.WorkerCount(),
		"queue_size", r.config.QueueSize)
	return nil
}

// Stop refuses new jobs, cancels the workers and waits for them. Jobs
// interrupted mid-run are failed with the interrupted code.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.pool.Stop()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// Enqueue implements Queue.
func (r *Runner) Enqueue(ctx context.Context, req EnqueueRequest) (*job.Job, error) {
	if _, ok := r.executor.Handlers().Lookup(req.Kind); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return nil, fmt.Errorf("%w: runner is not running", ErrQueueUnavailable)
	}

	j, err := job.New(req.JobID, req.Kind, req.Input)
	if err != nil {
		return nil, err
	}
	j.ResourceType = req.ResourceType
	j.ResourceID = req.ResourceID

	if err := r.store.Create(ctx, j); err != nil {
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrInvalidEntity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	r.logger.Info("job enqueued", "job_id", j.ID, "job_type", string(j.Kind))
	r.push(j.ID)
	return j, nil
}

// GetStatus implements Queue.
func (r *Runner) GetStatus(ctx context.Context, jobID string) (job.Status, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// GetResult implements Queue.
func (r *Runner) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted {
		return nil, nil
	}
	return j.Result, nil
}

// Cancel implements Queue. The first result is true whenever the
// cancellation took effect; the second only when a worker of this runner
// was running the job and has been asked to stop.
func (r *Runner) Cancel(ctx context.Context, jobID string) (bool, bool, error) {
	if _, err := r.executor.Cancel(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return false, false, nil
		}
		return false, false, err
	}

	r.inflightMu.Lock()
	signal, running := r.inflight[jobID]
	r.inflightMu.Unlock()
	if running {
		signal.fire()
	}
	return true, running, nil
}

// Recover re-dispatches pending jobs and fails processing jobs that have
// not been touched for the stuck-job age. Younger processing jobs may
// belong to another runner sharing the store and are left to the sweep.
func (r *Runner) Recover(ctx context.Context) error {
	pending, err := r.store.ListByStatus(ctx, job.StatusPending, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	processing, err := r.store.ListByStatus(ctx, job.StatusProcessing, r.config.StuckJobAge)
	if err != nil {
		return fmt.Errorf("failed to list processing jobs: %w", err)
	}

	r.logger.Info("recovering unfinished jobs",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, j := range pending {
		r.push(j.ID)
	}
	for _, j := range processing {
		if err := r.executor.Abandon(ctx, j, job.ErrorCodeInterrupted, "job interrupted by restart"); err != nil {
			r.logger.Error("failed to fail interrupted job", "job_id", j.ID, "error", err)
		}
	}
	return nil
}

// Sweep re-dispatches pending jobs that missed the channel and fails
// processing jobs that no worker in this process owns and that have
// exceeded the stuck-job age.
func (r *Runner) Sweep(ctx context.Context) {
	pending, err := r.store.ListByStatus(ctx, job.StatusPending, r.config.SweepInterval)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
	}
	for _, j := range pending {
		r.push(j.ID)
	}

	stuck, err := r.store.ListByStatus(ctx, job.StatusProcessing, r.config.StuckJobAge)
	if err != nil {
		r.logger.Error("failed to list stuck jobs", "error", err)
		return
	}
	for _, j := range stuck {
		if r.owns(j.ID) {
			continue
		}
		r.logger.Warn("failing stuck job",
			"job_id", j.ID,
			"job_type", string(j.Kind),
			"last_updated", j.UpdatedAt)
		if err := r.executor.Abandon(ctx, j, job.ErrorCodeTimeout, "job exceeded maximum processing time"); err != nil {
			r.logger.Error("failed to fail stuck job", "job_id", j.ID, "error", err)
		}
	}
}

// QueueDepth returns the number of job ids waiting in the dispatch channel.
func (r *Runner) QueueDepth() int {
	return len(r.dispatch)
}

func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// push never blocks the caller; the sweep covers a full channel.
func (r *Runner) push(jobID string) {
	select {
	case r.dispatch <- jobID:
	default:
		r.logger.Warn("dispatch queue full, job left pending for sweep", "job_id", jobID)
	}
}

func (r *Runner) process(ctx context.Context, jobID string) {
	signal := &stopSignal{ch: make(chan struct{})}
	r.inflightMu.Lock()
	if _, dup := r.inflight[jobID]; dup {
		r.inflightMu.Unlock()
		return
	}
	r.inflight[jobID] = signal
	r.inflightMu.Unlock()

	defer func() {
		r.inflightMu.Lock()
		delete(r.inflight, jobID)
		r.inflightMu.Unlock()
	}()

	if err := r.executor.Execute(ctx, jobID, signal.ch); err != nil {
		r.logger.Error("job execution failed", "job_id", jobID, "error", err)
	}
}

func (r *Runner) owns(jobID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	_, ok := r.inflight[jobID]
	return ok
}
