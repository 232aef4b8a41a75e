package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskstream/backend/internal/config"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

type notifier struct {
	registry      ports.ConnectionRegistry
	logger        *logger.Logger
	unownedPolicy string
	now           func() time.Time
}

type NotifierConfig struct {
	Registry      ports.ConnectionRegistry
	Logger        *logger.Logger
	UnownedPolicy string
}

func NewNotifier(cfg NotifierConfig) ports.Notifier {
	policy := cfg.UnownedPolicy
	if policy == "" {
		policy = config.UnownedPolicyBroadcast
	}
	return &notifier{
		registry:      cfg.Registry,
		logger:        cfg.Logger,
		unownedPolicy: policy,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Encode builds the outbound envelope. Every frame leaving the server goes
// through here.
func (n *notifier) Encode(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(domain.Frame{
		Type:      eventType,
		Data:      data,
		Timestamp: n.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", eventType, err)
	}
	return payload, nil
}

func (n *notifier) SendTo(ctx context.Context, conn ports.Connection, eventType string, data any) error {
	payload, err := n.Encode(eventType, data)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, payload); err != nil {
		n.logger.Warnw("frame_send_failed",
			"connection_id", conn.ID(),
			"type", eventType,
			"error", err,
		)
		return err
	}
	return nil
}

func (n *notifier) NotifyClient(ctx context.Context, clientID string, eventType string, data any) int {
	payload, err := n.Encode(eventType, data)
	if err != nil {
		n.logger.Errorw("frame_encode_failed", "type", eventType, "client_id", clientID, "error", err)
		return 0
	}
	return n.registry.SendToID(ctx, clientID, payload)
}

func (n *notifier) Broadcast(ctx context.Context, eventType string, data any) int {
	payload, err := n.Encode(eventType, data)
	if err != nil {
		n.logger.Errorw("frame_encode_failed", "type", eventType, "error", err)
		return 0
	}
	return n.registry.Broadcast(ctx, payload)
}

// NotifyTask routes a task event to the task's owner. Tasks without an owner
// follow the configured policy.
func (n *notifier) NotifyTask(ctx context.Context, eventType string, task domain.TaskSnapshot) int {
	if task.ClientID != "" {
		return n.NotifyClient(ctx, task.ClientID, eventType, task)
	}

	if n.unownedPolicy == config.UnownedPolicyDrop {
		n.logger.Debugw("task_notification_dropped", "task_id", task.ID, "type", eventType)
		return 0
	}

	n.logger.Warnw("task_notification_broadcast_unowned",
		"task_id", task.ID,
		"type", eventType,
		"status", task.Status,
	)
	return n.Broadcast(ctx, eventType, task)
}

type pongPayload struct {
	Timestamp time.Time `json:"timestamp"`
	SocketID  string    `json:"socketId"`
}

// HandleInbound answers ping frames. Anything else is logged and ignored.
func (n *notifier) HandleInbound(ctx context.Context, conn ports.Connection, raw []byte) {
	var in domain.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		n.logger.Warnw("inbound_frame_malformed",
			"connection_id", conn.ID(),
			"size", len(raw),
			"error", err,
		)
		return
	}

	switch in.Type {
	case domain.EventPing:
		socketID, _ := n.registry.IdentifierFor(conn)
		_ = n.SendTo(ctx, conn, domain.EventPong, pongPayload{
			Timestamp: n.now(),
			SocketID:  socketID,
		})
	default:
		n.logger.Debugw("inbound_frame_ignored", "connection_id", conn.ID(), "type", in.Type)
	}
}

var _ ports.Notifier = (*notifier)(nil)
