package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"martpipe/internal/ingest"
	"martpipe/pkg/contracts/domain"
)

// Queue runs batches through a fixed worker pool. Workers share only the
// mart and the monitors, both of which serialize internally, so batches for
// disjoint sources can run fully in parallel.
type Queue struct {
	runner   *Runner
	batches  chan *ingest.Batch
	results  chan domain.BatchSummary
	workers  int
	wg       sync.WaitGroup
	logger   *slog.Logger
	shutdown chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewQueue creates a batch queue.
func NewQueue(runner *Runner, workers, queueSize int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		runner:   runner,
		batches:  make(chan *ingest.Batch, queueSize),
		results:  make(chan domain.BatchSummary, queueSize),
		workers:  workers,
		logger:   logger.With(slog.String("component", "batch_queue")),
		shutdown: make(chan struct{}),
	}
}

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("starting batch queue", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Enqueue queues one batch. Fails when the queue is full rather than
// blocking the caller.
func (q *Queue) Enqueue(batch *ingest.Batch) error {
	select {
	case q.batches <- batch:
		q.logger.Debug("batch enqueued",
			slog.String("batch_id", batch.BatchID),
			slog.String("source_id", batch.SourceID))
		return nil
	default:
		return fmt.Errorf("batch queue is full")
	}
}

// EnqueueWait queues one batch, blocking until a slot frees up. Producers
// that must not lose batches to a momentarily full queue use this instead of
// Enqueue; it returns early only on context cancellation or shutdown.
func (q *Queue) EnqueueWait(ctx context.Context, batch *ingest.Batch) error {
	select {
	case q.batches <- batch:
		q.logger.Debug("batch enqueued",
			slog.String("batch_id", batch.BatchID),
			slog.String("source_id", batch.SourceID))
		return nil
	case <-q.shutdown:
		return fmt.Errorf("batch queue is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results exposes completed batch summaries.
func (q *Queue) Results() <-chan domain.BatchSummary {
	return q.results
}

// Stop drains queued batches and waits for workers to finish, up to the
// timeout. Idempotent.
func (q *Queue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		q.closeOnce.Do(func() { close(q.results) })
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("batch queue stopped")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("batch queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.With(slog.Int("worker_id", id))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			// Finish what is already queued before exiting.
			for {
				select {
				case batch := <-q.batches:
					q.process(ctx, batch, logger)
				default:
					logger.Debug("worker stopped by shutdown")
					return
				}
			}
		case batch := <-q.batches:
			q.process(ctx, batch, logger)
		}
	}
}

func (q *Queue) process(ctx context.Context, batch *ingest.Batch, logger *slog.Logger) {
	summary := q.runner.Run(ctx, batch)
	select {
	case q.results <- summary:
	default:
		logger.Warn("results buffer full, summary dropped",
			slog.String("batch_id", summary.BatchID))
	}
}
