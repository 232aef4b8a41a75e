package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	"golang.org/x/sync/semaphore"
)

const DefaultRetryBackoff = time.Second

// Dispatcher is the single consumer of the task queue. Every dequeued item
// runs in its own goroutine; the dispatcher never waits for one run before
// dequeuing the next unless a concurrency cap is configured.
type Dispatcher struct {
	queue     ports.TaskQueue
	processor ports.TaskProcessor
	logger    *logger.Logger
	backoff   time.Duration
	sem       *semaphore.Weighted

	runs     conc.WaitGroup
	inFlight atomic.Int64
}

type DispatcherConfig struct {
	Queue     ports.TaskQueue
	Processor ports.TaskProcessor
	Logger    *logger.Logger
	// MaxConcurrent caps simultaneous runs; 0 leaves them unbounded.
	MaxConcurrent int
	RetryBackoff  time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		queue:     cfg.Queue,
		processor: cfg.Processor,
		logger:    cfg.Logger,
		backoff:   cfg.RetryBackoff,
	}
	if d.backoff <= 0 {
		d.backoff = DefaultRetryBackoff
	}
	if cfg.MaxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return d
}

// Run consumes the queue until ctx is cancelled or the queue is closed. Both
// are normal exits and return nil. Other dequeue errors are retried after
// the backoff.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Infow("dispatcher_started", "retry_backoff", d.backoff, "capped", d.sem != nil)
	defer d.logger.Infow("dispatcher_stopped", "in_flight", d.InFlight())

	for {
		if d.sem != nil {
			// hold off dequeuing while at the cap so the queue absorbs the load
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.release()
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			d.logger.Errorw("dispatcher_dequeue_failed", "error", err, "retry_in", d.backoff)
			if !d.sleep(ctx) {
				return nil
			}
			continue
		}

		d.spawn(ctx, item)
	}
}

func (d *Dispatcher) spawn(ctx context.Context, item *domain.TaskItem) {
	d.inFlight.Add(1)
	d.logger.Debugw("task_dispatched", "task_id", item.ID, "in_flight", d.inFlight.Load())

	d.runs.Go(func() {
		defer d.release()
		defer d.inFlight.Add(-1)
		d.processor.Process(ctx, item)
	})
}

func (d *Dispatcher) release() {
	if d.sem != nil {
		d.sem.Release(1)
	}
}

func (d *Dispatcher) sleep(ctx context.Context) bool {
	timer := time.NewTimer(d.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain waits for in-flight runs to finish or for ctx to end, whichever
// comes first. It reports ctx's error when runs were still going.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := d.runs.WaitAndRecover(); r != nil {
			d.logger.Errorw("dispatcher_run_panicked", "error", r.AsError())
		}
	}()

	select {
	case <-done:
		d.logger.Infow("dispatcher_drained")
		return nil
	case <-ctx.Done():
		d.logger.Warnw("dispatcher_drain_timeout", "in_flight", d.InFlight())
		return ctx.Err()
	}
}

func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

var _ ports.DispatcherStats = (*Dispatcher)(nil)
