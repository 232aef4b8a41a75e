package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/core/services"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/hoststats"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

type fakeTaskService struct {
	mu       sync.Mutex
	inputs   []ports.SubmitTaskInput
	err      error
	block    bool
	depth    int
	capacity int
	open     int
	clients  int
}

func (s *fakeTaskService) SubmitTask(ctx context.Context, input ports.SubmitTaskInput) (domain.TaskSnapshot, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return domain.TaskSnapshot{}, ctx.Err()
	}
	if s.err != nil {
		return domain.TaskSnapshot{}, s.err
	}
	return domain.NewTaskItem(input.Name, input.ClientID, input.DurationMs).Snapshot(), nil
}

func (s *fakeTaskService) lastInput(t *testing.T) ports.SubmitTaskInput {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.inputs)
	return s.inputs[len(s.inputs)-1]
}

func (s *fakeTaskService) QueueDepth() int       { return s.depth }
func (s *fakeTaskService) QueueCapacity() int    { return s.capacity }
func (s *fakeTaskService) OpenConnections() int  { return s.open }
func (s *fakeTaskService) ConnectedClients() int { return s.clients }

type fakeDispatcher struct{ n int }

func (d fakeDispatcher) InFlight() int { return d.n }

type fakeHost struct{ err error }

func (h fakeHost) Collect(context.Context) (*hoststats.Stats, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &hoststats.Stats{Hostname: "box", CPUUsage: 12.5}, nil
}

func newTaskApp(svc *fakeTaskService, host HostStatsSource) *fiber.App {
	h := NewTaskHandler(TaskHandlerConfig{
		Service:       svc,
		Dispatcher:    fakeDispatcher{n: 2},
		Host:          host,
		Logger:        logger.NewNop(),
		SubmitTimeout: 50 * time.Millisecond,
	})
	app := fiber.New()
	app.Get("/", h.GetRoot)
	app.Get("/health", h.GetHealth)
	app.Post("/api/task/start", h.StartTask)
	app.Get("/api/task/status", h.GetStatus)
	return app
}

func postStart(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/task/start", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestStartTaskQueued(t *testing.T) {
	svc := &fakeTaskService{}
	app := newTaskApp(svc, nil)

	code, body := postStart(t, app, `{"name":"demo","duration":1000,"parameters":{"k":"v"}}`, map[string]string{"X-Socket-Id": "sock-1"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.NotEmpty(t, body["taskId"])
	assert.Equal(t, "Task has been queued successfully", body["message"])
	assert.Equal(t, "Queued", body["status"])
	assert.Contains(t, body, "timestamp")

	in := svc.lastInput(t)
	assert.Equal(t, "demo", in.Name)
	assert.Equal(t, 1000, in.DurationMs)
	assert.Equal(t, "sock-1", in.ClientID)
	assert.Equal(t, "v", in.Parameters["k"])
}

func TestStartTaskValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "missing name", body: `{"duration":1000}`, message: "Task name is required"},
		{name: "blank name", body: `{"name":"   "}`, message: "Task name is required"},
		{name: "negative duration", body: `{"name":"x","duration":-1}`, message: "Invalid task request"},
		{name: "malformed json", body: `{"name":`, message: "Invalid task request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeTaskService{}
			app := newTaskApp(svc, nil)

			code, body := postStart(t, app, tt.body, nil)
			assert.Equal(t, fiber.StatusBadRequest, code)
			assert.Equal(t, "", body["taskId"])
			assert.Equal(t, tt.message, body["message"])
			assert.Equal(t, "Error", body["status"])
			assert.Empty(t, svc.inputs, "rejected requests never reach the service")
		})
	}
}

func TestStartTaskServiceRejectsInput(t *testing.T) {
	svc := &fakeTaskService{err: fmt.Errorf("%w: name is required", services.ErrTaskInvalidInput)}
	app := newTaskApp(svc, nil)

	code, body := postStart(t, app, `{"name":"x"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "Error", body["status"])
}

func TestStartTaskQueueUnavailable(t *testing.T) {
	svc := &fakeTaskService{block: true}
	app := newTaskApp(svc, nil)

	code, body := postStart(t, app, `{"name":"x"}`, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "Error", body["status"])
}

func TestResolveClientIDPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
		want    string
	}{
		{
			name:    "body wins",
			body:    `{"name":"x","clientId":"body"}`,
			headers: map[string]string{"X-Socket-Id": "sock", "X-Session-Id": "sess", "X-Client-Id": "cli"},
			want:    "body",
		},
		{
			name:    "socket header",
			body:    `{"name":"x","clientId":"  "}`,
			headers: map[string]string{"X-Socket-Id": "sock", "X-Session-Id": "sess", "X-Client-Id": "cli"},
			want:    "sock",
		},
		{
			name:    "session header",
			body:    `{"name":"x"}`,
			headers: map[string]string{"X-Session-Id": "sess", "X-Client-Id": "cli"},
			want:    "sess",
		},
		{
			name:    "client header",
			body:    `{"name":"x"}`,
			headers: map[string]string{"X-Socket-Id": " ", "X-Client-Id": "cli"},
			want:    "cli",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeTaskService{}
			app := newTaskApp(svc, nil)
			code, _ := postStart(t, app, tt.body, tt.headers)
			require.Equal(t, fiber.StatusOK, code)
			assert.Equal(t, tt.want, svc.lastInput(t).ClientID)
		})
	}

	t.Run("generated fallback", func(t *testing.T) {
		svc := &fakeTaskService{}
		app := newTaskApp(svc, nil)
		postStart(t, app, `{"name":"x"}`, nil)
		postStart(t, app, `{"name":"y"}`, nil)

		first, second := svc.inputs[0].ClientID, svc.inputs[1].ClientID
		assert.Len(t, first, 36)
		assert.NotEqual(t, first, second)
	})
}

func getJSON(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestGetStatus(t *testing.T) {
	svc := &fakeTaskService{depth: 3, capacity: 1000, open: 4, clients: 2}

	t.Run("with host stats", func(t *testing.T) {
		code, body := getJSON(t, newTaskApp(svc, fakeHost{}), "/api/task/status")
		assert.Equal(t, fiber.StatusOK, code)
		assert.Equal(t, "Task service is running", body["message"])
		assert.Equal(t, float64(4), body["activeWebSocketConnections"])
		assert.Equal(t, float64(2), body["connectedClients"])
		assert.Equal(t, float64(3), body["queuedTasks"])
		assert.Equal(t, float64(1000), body["queueCapacity"])
		assert.Equal(t, float64(2), body["inFlightTasks"])
		assert.Equal(t, "Healthy", body["status"])
		host := body["host"].(map[string]any)
		assert.Equal(t, "box", host["hostname"])
	})

	t.Run("host stats failure is not fatal", func(t *testing.T) {
		code, body := getJSON(t, newTaskApp(svc, fakeHost{err: errors.New("no proc")}), "/api/task/status")
		assert.Equal(t, fiber.StatusOK, code)
		assert.NotContains(t, body, "host")
	})
}

func TestGetHealthAndRoot(t *testing.T) {
	app := newTaskApp(&fakeTaskService{open: 7}, nil)

	code, body := getJSON(t, app, "/health")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Healthy", body["status"])
	assert.Equal(t, float64(7), body["activeConnections"])
	assert.Equal(t, ServiceName, body["service"])

	code, body = getJSON(t, app, "/")
	assert.Equal(t, fiber.StatusOK, code)
	endpoints := body["endpoints"].(map[string]any)
	assert.Equal(t, "/ws", endpoints["webSocket"])
}
