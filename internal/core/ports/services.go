package ports

import (
	"context"

	"github.com/taskstream/backend/internal/domain"
)

// Connection is one live transport handle. Send must be safe to call from
// many goroutines; implementations serialize the actual writes.
type Connection interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	IsOpen() bool
	Close() error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, item *domain.TaskItem) error
	Dequeue(ctx context.Context) (*domain.TaskItem, error)
	Size() int
	Capacity() int
}

type ConnectionRegistry interface {
	Register(conn Connection, desiredID string) string
	Unregister(conn Connection) (string, bool)
	IdentifierFor(conn Connection) (string, bool)
	SendToID(ctx context.Context, id string, payload []byte) int
	Broadcast(ctx context.Context, payload []byte) int
	OpenCount() int
	ClientCount() int
}

type Notifier interface {
	SendTo(ctx context.Context, conn Connection, eventType string, data any) error
	NotifyClient(ctx context.Context, clientID string, eventType string, data any) int
	Broadcast(ctx context.Context, eventType string, data any) int
	NotifyTask(ctx context.Context, eventType string, task domain.TaskSnapshot) int
	HandleInbound(ctx context.Context, conn Connection, raw []byte)
}

type TaskProcessor interface {
	Process(ctx context.Context, item *domain.TaskItem)
}

type TaskService interface {
	SubmitTask(ctx context.Context, input SubmitTaskInput) (domain.TaskSnapshot, error)
	QueueDepth() int
	QueueCapacity() int
	OpenConnections() int
	ConnectedClients() int
}

type SubmitTaskInput struct {
	Name       string
	DurationMs int
	ClientID   string
	Parameters map[string]any
}

// DispatcherStats exposes the dispatcher's in-flight count for introspection.
type DispatcherStats interface {
	InFlight() int
}
