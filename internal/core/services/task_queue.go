package services

import (
	"context"
	"sync"

	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

const DefaultQueueCapacity = 1000

// TaskQueue is a bounded FIFO. A full queue blocks producers instead of
// dropping work; the only ways out of a blocked Enqueue are the caller's
// context or Close.
type TaskQueue struct {
	items     chan *domain.TaskItem
	done      chan struct{}
	closeOnce sync.Once
	logger    *logger.Logger
}

func NewTaskQueue(capacity int, log *logger.Logger) *TaskQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &TaskQueue{
		items:  make(chan *domain.TaskItem, capacity),
		done:   make(chan struct{}),
		logger: log,
	}
}

func (q *TaskQueue) Enqueue(ctx context.Context, item *domain.TaskItem) error {
	if item == nil {
		return ErrNilTask
	}

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- item:
		q.logger.Debugw("task_enqueued",
			"task_id", item.ID,
			"task_name", item.Name,
			"queue_len", len(q.items),
			"queue_cap", cap(q.items),
		)
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an item is available or ctx is cancelled. After Close
// the remaining items are still handed out; ErrQueueClosed follows once empty.
func (q *TaskQueue) Dequeue(ctx context.Context) (*domain.TaskItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return nil, ErrQueueClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *TaskQueue) Size() int {
	return len(q.items)
}

func (q *TaskQueue) Capacity() int {
	return cap(q.items)
}

// Close stops accepting new items and releases blocked producers.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Infow("task_queue_closed", "remaining", len(q.items))
	})
}
