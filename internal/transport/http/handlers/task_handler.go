package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/core/services"
	"github.com/taskstream/backend/internal/infrastructure/hoststats"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	"github.com/taskstream/backend/internal/transport/http/dto"
	"github.com/taskstream/backend/pkg/utils/idgen"
)

const ServiceName = "WebSockets Background Task API"

// Client identifier headers, in precedence order after the request body.
var clientIDHeaders = []string{"X-Socket-Id", "X-Session-Id", "X-Client-Id"}

type HostStatsSource interface {
	Collect(ctx context.Context) (*hoststats.Stats, error)
}

const DefaultSubmitTimeout = 5 * time.Second

type TaskHandler struct {
	service       ports.TaskService
	dispatcher    ports.DispatcherStats
	host          HostStatsSource
	logger        *logger.Logger
	submitTimeout time.Duration
}

type TaskHandlerConfig struct {
	Service    ports.TaskService
	Dispatcher ports.DispatcherStats
	Host       HostStatsSource
	Logger     *logger.Logger
	// SubmitTimeout bounds how long a request waits for room in a full queue.
	SubmitTimeout time.Duration
}

func NewTaskHandler(cfg TaskHandlerConfig) *TaskHandler {
	h := &TaskHandler{
		service:       cfg.Service,
		dispatcher:    cfg.Dispatcher,
		host:          cfg.Host,
		logger:        cfg.Logger,
		submitTimeout: cfg.SubmitTimeout,
	}
	if h.submitTimeout <= 0 {
		h.submitTimeout = DefaultSubmitTimeout
	}
	return h
}

func (h *TaskHandler) StartTask(c *fiber.Ctx) error {
	var req dto.StartTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_start_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.StartTaskResponse{
			Message:   dto.MessageInvalidRequest,
			Status:    dto.StatusError,
			Timestamp: time.Now().UTC(),
			Details:   []string{"invalid request body"},
		})
	}

	if details := req.Validate(); len(details) > 0 {
		h.logger.Warnw("task_start_validation_failed", "details", details)
		return c.Status(fiber.StatusBadRequest).JSON(h.validationFailure(&req, details))
	}

	clientID := h.resolveClientID(c, req.ClientID)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.submitTimeout)
	defer cancel()

	snapshot, err := h.service.SubmitTask(ctx, ports.SubmitTaskInput{
		Name:       req.Name,
		DurationMs: req.GetDuration(),
		ClientID:   clientID,
		Parameters: req.Parameters,
	})
	if err != nil {
		if errors.Is(err, services.ErrTaskInvalidInput) {
			h.logger.Warnw("task_start_bad_request", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(h.validationFailure(&req, []string{err.Error()}))
		}
		h.logger.Errorw("task_start_failed", "name", req.Name, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.StartTaskResponse{
			Message:   dto.MessageQueueUnavailable,
			Status:    dto.StatusError,
			Timestamp: time.Now().UTC(),
		})
	}

	h.logger.Infow("task_start_success", "task_id", snapshot.ID, "client_id", clientID)
	return c.JSON(dto.StartTaskResponse{
		TaskID:    snapshot.ID,
		Message:   dto.MessageTaskQueued,
		Status:    string(snapshot.Status),
		Timestamp: time.Now().UTC(),
	})
}

func (h *TaskHandler) validationFailure(req *dto.StartTaskRequest, details []string) dto.StartTaskResponse {
	msg := dto.MessageInvalidRequest
	if req.NameMissing() {
		msg = dto.MessageNameRequired
	}
	return dto.StartTaskResponse{
		Message:   msg,
		Status:    dto.StatusError,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

// resolveClientID picks the owning client: request body, then the socket,
// session and client headers, then a generated id.
func (h *TaskHandler) resolveClientID(c *fiber.Ctx, bodyID string) string {
	if id := strings.TrimSpace(bodyID); id != "" {
		return id
	}
	for _, header := range clientIDHeaders {
		if id := strings.TrimSpace(c.Get(header)); id != "" {
			return id
		}
	}

	fallback := idgen.GenerateUUID()
	h.logger.Warnw("task_start_client_id_generated", "client_id", fallback)
	return fallback
}

func (h *TaskHandler) GetStatus(c *fiber.Ctx) error {
	resp := dto.StatusResponse{
		Message:                    "Task service is running",
		Timestamp:                  time.Now().UTC(),
		ActiveWebSocketConnections: h.service.OpenConnections(),
		ConnectedClients:           h.service.ConnectedClients(),
		QueuedTasks:                h.service.QueueDepth(),
		QueueCapacity:              h.service.QueueCapacity(),
		Status:                     dto.StatusHealthy,
	}
	if h.dispatcher != nil {
		resp.InFlightTasks = h.dispatcher.InFlight()
	}
	if h.host != nil {
		stats, err := h.host.Collect(c.UserContext())
		if err != nil {
			h.logger.Warnw("host_stats_failed", "error", err)
		} else {
			resp.Host = stats
		}
	}
	return c.JSON(resp)
}

func (h *TaskHandler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(dto.HealthResponse{
		Status:            dto.StatusHealthy,
		Timestamp:         time.Now().UTC(),
		ActiveConnections: h.service.OpenConnections(),
		Service:           ServiceName,
	})
}

func (h *TaskHandler) GetRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":   ServiceName,
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
		"endpoints": fiber.Map{
			"health":     "/health",
			"taskStart":  "/api/task/start",
			"taskStatus": "/api/task/status",
			"webSocket":  "/ws",
		},
	})
}
