package services

import (
	"context"
	"time"

	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/domain"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

// KeepAlive periodically broadcasts a keepAlive frame so idle proxies do not
// drop quiet connections.
type KeepAlive struct {
	notifier ports.Notifier
	registry ports.ConnectionRegistry
	logger   *logger.Logger
	interval time.Duration
}

func NewKeepAlive(notifier ports.Notifier, registry ports.ConnectionRegistry, interval time.Duration, log *logger.Logger) *KeepAlive {
	return &KeepAlive{notifier: notifier, registry: registry, logger: log, interval: interval}
}

type keepAlivePayload struct {
	Connections int `json:"connections"`
}

// Run blocks until ctx ends. A zero interval disables the broadcasts.
func (k *KeepAlive) Run(ctx context.Context) {
	if k.interval <= 0 {
		k.logger.Infow("keepalive_disabled")
		return
	}

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open := k.registry.OpenCount()
			if open == 0 {
				continue
			}
			delivered := k.notifier.Broadcast(ctx, domain.EventKeepAlive, keepAlivePayload{Connections: open})
			k.logger.Debugw("keepalive_sent", "delivered", delivered)
		}
	}
}
