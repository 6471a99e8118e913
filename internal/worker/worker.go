package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/services"
)

// SyncRunner executes the mirror loop for one connection.
// Implemented by services.SyncOrchestrator.
type SyncRunner interface {
	RunSync(ctx context.Context, connectionID string) (*services.SyncResult, error)
}

// DownloadRunner executes download jobs and records terminal failures.
// Implemented by services.DownloadPipeline.
type DownloadRunner interface {
	Run(ctx context.Context, task *domain.Task) error
	HandleFailure(ctx context.Context, task *domain.Task, cause error)
}

// Worker processes tasks from the task queue: full connection mirrors
// and per-document downloads. Delivery is at-least-once, so both
// handlers are idempotent and a terminal failure is recorded on the
// affected document before the task is buried.
type Worker struct {
	taskQueue    driven.TaskQueue
	orchestrator SyncRunner
	pipeline     DownloadRunner
	logger       *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue    driven.TaskQueue
	Orchestrator SyncRunner
	Pipeline     DownloadRunner
	Logger       *slog.Logger

	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		orchestrator:   cfg.Orchestrator,
		pipeline:       cfg.Pipeline,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			time.Sleep(time.Second) // Back off on error
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask processes a single task.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "connection_id", task.ConnectionID)
	logger.Info("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeSyncConnection:
		err = w.handleSyncConnection(ctx, task)
	case domain.TaskTypeDownloadDocument:
		err = w.pipeline.Run(ctx, task)
	default:
		err = domain.NonRetriable(fmt.Errorf("unknown task type: %s", task.Type))
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("task failed",
			"duration", duration,
			"attempt", task.Attempts,
			"error", err,
		)
		w.failTask(ctx, task, err, logger)
		return
	}

	logger.Info("task completed", "duration", duration)

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

// failTask disposes of a failed task. When the failure is terminal -
// either marked non-retriable or out of attempts - the failure is
// recorded on the document first, then the task is buried; otherwise it
// is nacked back for retry with backoff.
func (w *Worker) failTask(ctx context.Context, task *domain.Task, cause error, logger *slog.Logger) {
	if domain.IsNonRetriable(cause) || !task.CanRetry() {
		if task.Type == domain.TaskTypeDownloadDocument && w.pipeline != nil {
			w.pipeline.HandleFailure(ctx, task, cause)
		}
		if failErr := w.taskQueue.Fail(ctx, task.ID, cause.Error()); failErr != nil {
			logger.Error("failed to bury task", "fail_error", failErr)
		}
		return
	}

	if nackErr := w.taskQueue.Nack(ctx, task.ID, cause.Error()); nackErr != nil {
		logger.Error("failed to nack task", "nack_error", nackErr)
	}
}

// handleSyncConnection handles a sync_connection task.
func (w *Worker) handleSyncConnection(ctx context.Context, task *domain.Task) error {
	if task.ConnectionID == "" {
		return domain.NonRetriable(fmt.Errorf("connection_id not found in task"))
	}

	_, err := w.orchestrator.RunSync(ctx, task.ConnectionID)
	return err
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
