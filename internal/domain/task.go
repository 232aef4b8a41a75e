package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taskstream/backend/pkg/utils/idgen"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "Queued"
	TaskStatusRunning   TaskStatus = "Running"
	TaskStatusCompleted TaskStatus = "Completed"
	TaskStatusFailed    TaskStatus = "Failed"
	TaskStatusCancelled TaskStatus = "Cancelled"
)

// ProcessingStatus is the label used while a task is between steps.
func ProcessingStatus(step, total int) TaskStatus {
	return TaskStatus(fmt.Sprintf("Processing step %d/%d", step, total))
}

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

const (
	// ParamDuration is the parameter key holding the requested duration in milliseconds.
	ParamDuration = "duration"

	DefaultDurationMs = 5000
)

var (
	ErrTaskTerminal = errors.New("task: already in a terminal state")
)

// TaskItem is one submitted unit of work. It is owned by a single processor
// run once dequeued; everything else observes it through TaskSnapshot.
type TaskItem struct {
	ID          string
	Name        string
	Status      TaskStatus
	Progress    int
	ClientID    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      string
	Error       string
	Parameters  map[string]any
}

func NewTaskItem(name, clientID string, durationMs int) *TaskItem {
	return &TaskItem{
		ID:         idgen.GenerateUUID(),
		Name:       name,
		Status:     TaskStatusQueued,
		ClientID:   clientID,
		CreatedAt:  time.Now().UTC(),
		Parameters: map[string]any{ParamDuration: durationMs},
	}
}

// Duration returns the requested total duration, falling back to the default
// when the parameter is missing or not a usable number.
func (t *TaskItem) Duration() time.Duration {
	if d, ok := t.RequestedDuration(); ok {
		return d
	}
	return DefaultDurationMs * time.Millisecond
}

// RequestedDuration reports the duration parameter when it holds a usable,
// non-negative number of milliseconds.
func (t *TaskItem) RequestedDuration() (time.Duration, bool) {
	ms, ok := durationMillis(t.Parameters[ParamDuration])
	if !ok || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func durationMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (t *TaskItem) Start(now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	t.Status = TaskStatusRunning
	t.Progress = 0
	t.StartedAt = &now
	return nil
}

// Advance records a finished step. Progress never moves backwards.
func (t *TaskItem) Advance(step, total int) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	if p := step * 100 / total; p > t.Progress {
		t.Progress = p
	}
	t.Status = ProcessingStatus(step, total)
	return nil
}

func (t *TaskItem) Complete(now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.CompletedAt = &now
	t.Result = fmt.Sprintf("Task '%s' completed successfully at %s", t.Name, now.Format("2006-01-02 15:04:05"))
	return nil
}

func (t *TaskItem) Fail(now time.Time, err error) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	if err != nil {
		t.Error = err.Error()
	}
	return nil
}

func (t *TaskItem) Cancel(now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	return nil
}

// TaskSnapshot is the immutable wire view of a task.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ClientID    string     `json:"clientId,omitempty"`
}

func (t *TaskItem) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		ID:          t.ID,
		Name:        t.Name,
		Status:      t.Status,
		Progress:    t.Progress,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   copyTime(t.StartedAt),
		CompletedAt: copyTime(t.CompletedAt),
		ClientID:    t.ClientID,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
