package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

const DefaultTaskSteps = 10

// StepFunc performs the work of one step. It must return promptly once ctx is
// done; the returned error is recorded as the task's failure unless ctx ended.
type StepFunc func(ctx context.Context, item *domain.TaskItem, step, total int, delay time.Duration) error

// SleepStep is the default simulated work: wait delay or until ctx ends.
func SleepStep(ctx context.Context, _ *domain.TaskItem, _, _ int, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskProcessor struct {
	notifier        ports.Notifier
	logger          *logger.Logger
	steps           int
	defaultDuration time.Duration
	taskTimeout     time.Duration
	work            StepFunc
	now             func() time.Time
}

type TaskProcessorConfig struct {
	Notifier        ports.Notifier
	Logger          *logger.Logger
	Steps           int
	DefaultDuration time.Duration
	TaskTimeout     time.Duration
	Work            StepFunc
}

func NewTaskProcessor(cfg TaskProcessorConfig) ports.TaskProcessor {
	p := &taskProcessor{
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		steps:           cfg.Steps,
		defaultDuration: cfg.DefaultDuration,
		taskTimeout:     cfg.TaskTimeout,
		work:            cfg.Work,
		now:             func() time.Time { return time.Now().UTC() },
	}
	if p.steps <= 0 {
		p.steps = DefaultTaskSteps
	}
	if p.defaultDuration <= 0 {
		p.defaultDuration = domain.DefaultDurationMs * time.Millisecond
	}
	if p.work == nil {
		p.work = SleepStep
	}
	return p
}

// Process drives item from Running to exactly one terminal state, notifying
// the owner at every transition. It never panics and never returns early
// without a terminal notification.
func (p *taskProcessor) Process(ctx context.Context, item *domain.TaskItem) {
	// terminal frames must still go out while the process shuts down
	notifyCtx := context.WithoutCancel(ctx)

	runCtx := ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, p.taskTimeout, ErrTaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.fail(notifyCtx, item, fmt.Errorf("task panicked: %v", r))
		}
	}()

	if err := item.Start(p.now()); err != nil {
		p.logger.Warnw("task_start_skipped", "task_id", item.ID, "status", item.Status, "error", err)
		return
	}
	p.logger.Infow("task_started", "task_id", item.ID, "task_name", item.Name, "client_id", item.ClientID)
	p.notify(notifyCtx, item)

	duration, ok := item.RequestedDuration()
	if !ok {
		duration = p.defaultDuration
	}
	delay := duration / time.Duration(p.steps)

	for step := 1; step <= p.steps; step++ {
		if runCtx.Err() != nil {
			p.interrupted(notifyCtx, runCtx, item)
			return
		}

		if err := p.work(runCtx, item, step, p.steps, delay); err != nil {
			if runCtx.Err() != nil {
				p.interrupted(notifyCtx, runCtx, item)
				return
			}
			p.fail(notifyCtx, item, err)
			return
		}

		if err := item.Advance(step, p.steps); err != nil {
			return
		}
		p.logger.Debugw("task_step_completed", "task_id", item.ID, "step", step, "progress", item.Progress)
		p.notify(notifyCtx, item)
	}

	if err := item.Complete(p.now()); err != nil {
		return
	}
	p.logger.Infow("task_completed", "task_id", item.ID, "task_name", item.Name, "elapsed", p.elapsed(item))
	p.notify(notifyCtx, item)
}

// interrupted settles a run whose context ended: a per-task timeout fails
// the task, anything else cancels it.
func (p *taskProcessor) interrupted(notifyCtx, runCtx context.Context, item *domain.TaskItem) {
	if errors.Is(context.Cause(runCtx), ErrTaskTimeout) {
		p.fail(notifyCtx, item, fmt.Errorf("%w after %s", ErrTaskTimeout, p.taskTimeout))
		return
	}

	if err := item.Cancel(p.now()); err != nil {
		return
	}
	p.logger.Infow("task_cancelled", "task_id", item.ID, "progress", item.Progress)
	p.notify(notifyCtx, item)
}

func (p *taskProcessor) fail(notifyCtx context.Context, item *domain.TaskItem, cause error) {
	if err := item.Fail(p.now(), cause); err != nil {
		return
	}
	p.logger.Errorw("task_failed", "task_id", item.ID, "task_name", item.Name, "error", cause)
	p.notify(notifyCtx, item)
}

func (p *taskProcessor) notify(ctx context.Context, item *domain.TaskItem) {
	p.notifier.NotifyTask(ctx, domain.EventTaskProgress, item.Snapshot())
}

func (p *taskProcessor) elapsed(item *domain.TaskItem) time.Duration {
	if item.StartedAt == nil || item.CompletedAt == nil {
		return 0
	}
	return item.CompletedAt.Sub(*item.StartedAt)
}
