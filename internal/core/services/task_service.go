package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

type taskService struct {
	queue           ports.TaskQueue
	registry        ports.ConnectionRegistry
	notifier        ports.Notifier
	logger          *logger.Logger
	defaultDuration time.Duration
}

type TaskServiceConfig struct {
	Queue           ports.TaskQueue
	Registry        ports.ConnectionRegistry
	Notifier        ports.Notifier
	Logger          *logger.Logger
	DefaultDuration time.Duration
}

func NewTaskService(cfg TaskServiceConfig) ports.TaskService {
	s := &taskService{
		queue:           cfg.Queue,
		registry:        cfg.Registry,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		defaultDuration: cfg.DefaultDuration,
	}
	if s.defaultDuration <= 0 {
		s.defaultDuration = domain.DefaultDurationMs * time.Millisecond
	}
	return s
}

// SubmitTask validates the input, announces the task to its owner and puts
// it on the queue. The queued frame is sent first so it always precedes the
// task's progress frames on every handle.
func (s *taskService) SubmitTask(ctx context.Context, input ports.SubmitTaskInput) (domain.TaskSnapshot, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.TaskSnapshot{}, fmt.Errorf("%w: name is required", ErrTaskInvalidInput)
	}
	if input.DurationMs < 0 {
		return domain.TaskSnapshot{}, fmt.Errorf("%w: duration must not be negative", ErrTaskInvalidInput)
	}

	durationMs := input.DurationMs
	if durationMs == 0 {
		durationMs = int(s.defaultDuration / time.Millisecond)
	}

	item := domain.NewTaskItem(name, strings.TrimSpace(input.ClientID), durationMs)
	for k, v := range input.Parameters {
		if k == domain.ParamDuration {
			continue
		}
		item.Parameters[k] = v
	}

	s.logger.Infow("task_submit_request",
		"task_id", item.ID,
		"task_name", item.Name,
		"client_id", item.ClientID,
		"duration_ms", durationMs,
	)

	snapshot := item.Snapshot()
	if item.ClientID != "" {
		s.notifier.NotifyClient(ctx, item.ClientID, domain.EventTaskQueued, snapshot)
	}

	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.logger.Warnw("task_enqueue_failed", "task_id", item.ID, "error", err)
		return domain.TaskSnapshot{}, fmt.Errorf("enqueue task %s: %w", item.ID, err)
	}

	s.logger.Infow("task_queued", "task_id", item.ID, "queue_depth", s.queue.Size())
	return snapshot, nil
}

func (s *taskService) QueueDepth() int {
	return s.queue.Size()
}

func (s *taskService) QueueCapacity() int {
	return s.queue.Capacity()
}

func (s *taskService) OpenConnections() int {
	return s.registry.OpenCount()
}

func (s *taskService) ConnectedClients() int {
	return s.registry.ClientCount()
}
