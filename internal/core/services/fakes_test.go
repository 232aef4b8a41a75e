package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/pkg/utils/idgen"
)

var errFakeSend = errors.New("fake: send failed")

// fakeConn records every payload it is sent.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	frames  [][]byte
	closed  atomic.Bool
	failing atomic.Bool
	delay   time.Duration
	sent    chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: idgen.GenerateShortID(), sent: make(chan []byte, 256)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.New("fake: closed")
	}
	if c.failing.Load() {
		return errFakeSend
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.frames = append(c.frames, payload)
	c.mu.Unlock()
	select {
	case c.sent <- payload:
	default:
	}
	return nil
}

func (c *fakeConn) IsOpen() bool { return !c.closed.Load() }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) decoded(t *testing.T) []decodedFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]decodedFrame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f decodedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

type decodedFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func (f decodedFrame) task(t *testing.T) domain.TaskSnapshot {
	t.Helper()
	var snap domain.TaskSnapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	return snap
}

// recordingNotifier captures task notifications in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
	onTask func(domain.TaskSnapshot)
}

type recordedEvent struct {
	eventType string
	task      domain.TaskSnapshot
}

func (n *recordingNotifier) SendTo(context.Context, ports.Connection, string, any) error { return nil }

func (n *recordingNotifier) NotifyClient(context.Context, string, string, any) int { return 1 }

func (n *recordingNotifier) Broadcast(context.Context, string, any) int { return 1 }

func (n *recordingNotifier) NotifyTask(_ context.Context, eventType string, task domain.TaskSnapshot) int {
	n.mu.Lock()
	n.events = append(n.events, recordedEvent{eventType: eventType, task: task})
	hook := n.onTask
	n.mu.Unlock()
	if hook != nil {
		hook(task)
	}
	return 1
}

func (n *recordingNotifier) HandleInbound(context.Context, ports.Connection, []byte) {}

func (n *recordingNotifier) snapshots() []domain.TaskSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.TaskSnapshot, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.task)
	}
	return out
}
