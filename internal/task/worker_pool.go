package task

import (
	"context"
	"log/slog"
	"sync"
)

// ProcessFunc handles one job id taken from the dispatch channel.
type ProcessFunc func(ctx context.Context, jobID string)

// WorkerPool runs a fixed number of goroutines that drain a channel of job
// ids. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// source is the dispatch channel shared by all workers
	source <-chan string

	// workerCount is the number of concurrent workers to start
	workerCount int

	// process is invoked for every id received
	process ProcessFunc

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	cancel context.CancelFunc
	logger *slog.Logger
}

// NewWorkerPool creates a pool. A non-positive worker count falls back to one.
func NewWorkerPool(source <-chan string, workerCount int, process ProcessFunc, logger *slog.Logger) *WorkerPool {
	if workerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", workerCount,
			"default_count", 1)
		workerCount = 1
	}
	return &WorkerPool{
		source:      source,
		workerCount: workerCount,
		process:     process,
		logger:      logger,
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// WorkerCount returns the number of workers the pool runs.
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case jobID := <-p.source:
			p.process(ctx, jobID)
		}
	}
}
