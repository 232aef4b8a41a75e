package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/sourcegraph/conc"
	"github.com/taskstream/backend/internal/config"
	"github.com/taskstream/backend/internal/core/services"
	"github.com/taskstream/backend/internal/infrastructure/hoststats"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	transporthttp "github.com/taskstream/backend/internal/transport/http"
)

// server owns every long-lived component and their lifecycle.
type server struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *fiber.App
	queue      *services.TaskQueue
	dispatcher *services.Dispatcher
	keepAlive  *services.KeepAlive

	ln     net.Listener
	cancel context.CancelFunc
	bg     conc.WaitGroup
}

func newServer(cfg *config.Config, log *logger.Logger) *server {
	queue := services.NewTaskQueue(cfg.Queue.Capacity, log.Named("queue"))
	registry := services.NewConnectionRegistry(log.Named("registry"))
	notifier := services.NewNotifier(services.NotifierConfig{
		Registry:      registry,
		Logger:        log.Named("notifier"),
		UnownedPolicy: cfg.Notifications.UnownedPolicy,
	})
	processor := services.NewTaskProcessor(services.TaskProcessorConfig{
		Notifier:        notifier,
		Logger:          log.Named("processor"),
		Steps:           cfg.Processor.Steps,
		DefaultDuration: cfg.Processor.DefaultDuration,
		TaskTimeout:     cfg.Processor.TaskTimeout,
	})
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Queue:         queue,
		Processor:     processor,
		Logger:        log.Named("dispatcher"),
		MaxConcurrent: cfg.Dispatcher.MaxConcurrent,
		RetryBackoff:  cfg.Dispatcher.RetryBackoff,
	})
	taskService := services.NewTaskService(services.TaskServiceConfig{
		Queue:           queue,
		Registry:        registry,
		Notifier:        notifier,
		Logger:          log.Named("task_service"),
		DefaultDuration: cfg.Processor.DefaultDuration,
	})
	keepAlive := services.NewKeepAlive(notifier, registry, cfg.WebSocket.KeepAliveInterval, log.Named("keepalive"))

	app := transporthttp.NewApp(cfg, log)
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Config:      cfg,
		Logger:      log,
		TaskService: taskService,
		Registry:    registry,
		Notifier:    notifier,
		Dispatcher:  dispatcher,
		Host:        hoststats.NewCollector(hoststats.DefaultCacheTTL),
	})

	return &server{
		cfg:        cfg,
		log:        log,
		app:        app,
		queue:      queue,
		dispatcher: dispatcher,
		keepAlive:  keepAlive,
	}
}

// Start binds the listener and launches the background loops. It returns
// once the server is accepting connections.
func (s *server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	s.ln = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.bg.Go(func() {
		if err := s.dispatcher.Run(runCtx); err != nil {
			s.log.Errorw("dispatcher_exited", "error", err)
		}
	})
	s.bg.Go(func() { s.keepAlive.Run(runCtx) })

	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.log.Errorw("server_listener_stopped", "error", err)
		}
	}()
	return nil
}

func (s *server) Addr() string {
	if s.ln == nil {
		return s.cfg.Server.Address()
	}
	return s.ln.Addr().String()
}

// Shutdown stops the background loops, gives in-flight tasks the drain
// timeout to reach a terminal state, then stops the HTTP server.
func (s *server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	if rec := s.bg.WaitAndRecover(); rec != nil {
		s.log.Errorw("background_loop_panicked", "error", rec.AsError())
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), s.cfg.Dispatcher.DrainTimeout)
	defer cancelDrain()
	drainErr := s.dispatcher.Drain(drainCtx)
	if drainErr != nil {
		s.log.Warnw("in_flight_tasks_abandoned", "in_flight", s.dispatcher.InFlight(), "error", drainErr)
	}
	s.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.log.Errorf("server forced to shutdown: %v", err)
		return errors.Join(drainErr, err)
	}

	s.log.Info("server exited gracefully")
	return nil
}
