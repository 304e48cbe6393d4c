package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"inbox-hub/internal/metrics"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job runs on one of the pool's workers.
type Job func()

// WorkerPool runs a tenant's auto-reply jobs on a fixed number of goroutines.
// Up to one job per worker waits in the queue; Submit blocks once it is full.
type WorkerPool struct {
	tenantID string
	jobs     chan Job
	logger   *slog.Logger

	mu      sync.Mutex
	workers int
	quit    chan struct{}
	wg      sync.WaitGroup
	stopped bool
	done    chan struct{}
}

func NewWorkerPool(tenantID string, workerCount int, logger *slog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		tenantID: tenantID,
		jobs:     make(chan Job, workerCount),
		workers:  workerCount,
		done:     make(chan struct{}),
		logger:   logger.With(slog.String("component", "worker"), slog.String("tenant_id", tenantID)),
	}
}

func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped || wp.quit != nil {
		return
	}
	wp.logger.Info("starting pool", slog.Int("workers", wp.workers))
	wp.spawnLocked()
}

func (wp *WorkerPool) spawnLocked() {
	wp.quit = make(chan struct{})
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run(wp.quit)
	}
}

func (wp *WorkerPool) run(quit <-chan struct{}) {
	defer wp.wg.Done()
	metrics.WorkerActive.WithLabelValues(wp.tenantID).Inc()
	defer metrics.WorkerActive.WithLabelValues(wp.tenantID).Dec()

	for {
		select {
		case <-quit:
			return
		case job := <-wp.jobs:
			wp.execute(job)
		}
	}
}

func (wp *WorkerPool) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("job panicked", slog.Any("panic", r))
		}
	}()
	job()
	metrics.WorkerProcessed.WithLabelValues(wp.tenantID).Inc()
}

// Submit queues job, waiting while the queue is full until ctx is done or the
// pool stops.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case <-wp.done:
		return ErrPoolStopped
	default:
	}
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.done:
		return ErrPoolStopped
	}
}

// Stop waits for running jobs to finish. Queued jobs that have not started are
// dropped and pending Submit calls return ErrPoolStopped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.done)
	if wp.quit != nil {
		close(wp.quit)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Info("pool stopped")
}

func (wp *WorkerPool) Workers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.workers
}

// SetWorkerCount updates the worker pool to use a new concurrency level
func (wp *WorkerPool) SetWorkerCount(n int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if n <= 0 || n == wp.workers || wp.stopped {
		return
	}

	wp.logger.Info("rescaling pool", slog.Int("from", wp.workers), slog.Int("to", n))
	wp.workers = n
	if wp.quit == nil {
		return
	}
	// Old workers finish their current job and exit; new ones take over.
	close(wp.quit)
	wp.spawnLocked()
}
