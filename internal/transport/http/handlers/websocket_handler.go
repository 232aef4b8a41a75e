package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/taskstream/backend/internal/config"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	"github.com/taskstream/backend/internal/transport/http/dto"
	"github.com/taskstream/backend/internal/transport/ws"
	"github.com/taskstream/backend/pkg/utils/idgen"
)

const localDesiredID = "ws_desired_id"

type WebSocketHandler struct {
	registry ports.ConnectionRegistry
	notifier ports.Notifier
	logger   *logger.Logger
	cfg      config.WebSocketConfig
}

func NewWebSocketHandler(registry ports.ConnectionRegistry, notifier ports.Notifier, cfg config.WebSocketConfig, logger *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, notifier: notifier, cfg: cfg, logger: logger}
}

// Upgrade admits websocket upgrade requests below the connection limit and
// records the identifier the client asked for.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(dto.ErrorResponse{
			Error: "WebSocket connection required",
		})
	}

	if limit := h.cfg.MaxConnections; limit > 0 && h.registry.OpenCount() >= limit {
		h.logger.Warnw("ws_connection_limit_reached", "limit", limit, "ip", c.IP())
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: "connection limit reached",
		})
	}

	c.Locals(localDesiredID, desiredClientID(c))
	return c.Next()
}

func desiredClientID(c *fiber.Ctx) string {
	for _, v := range []string{c.Query("sessionId"), c.Query("clientId"), c.Cookies("sessionId")} {
		if id := strings.TrimSpace(v); id != "" {
			return id
		}
	}
	return ""
}

// Handle runs one socket from handshake to close. It returns only after the
// writer goroutine has stopped, since the underlying conn is recycled once
// the handler exits.
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	desired, _ := c.Locals(localDesiredID).(string)

	conn := ws.NewConnection(c, ws.ConnectionConfig{
		ID:           idgen.GenerateShortID(),
		SendBuffer:   h.cfg.SendBuffer,
		WriteTimeout: h.cfg.WriteTimeout,
		Logger:       h.logger,
	})
	clientID := h.registry.Register(conn, desired)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.registry.Unregister(conn)
		_ = conn.Close()
		conn.Wait()
		h.logger.Infow("ws_disconnected", "client_id", clientID, "connection_id", conn.ID())
	}()

	h.logger.Infow("ws_connected",
		"client_id", clientID,
		"connection_id", conn.ID(),
		"ip", c.IP(),
		"open_connections", h.registry.OpenCount(),
	)

	err := h.notifier.SendTo(ctx, conn, domain.EventConnection, dto.ConnectionHandshake{
		Status:     "connected",
		SocketID:   clientID,
		ServerTime: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := conn.ReadLoop(int64(h.cfg.BufferSize), func(msg []byte) {
		h.notifier.HandleInbound(ctx, conn, msg)
	}); err != nil {
		h.logger.Warnw("ws_read_failed", "client_id", clientID, "connection_id", conn.ID(), "error", err)
	}
}
