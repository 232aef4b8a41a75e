package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/taskstream/backend/internal/config"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	"github.com/taskstream/backend/internal/transport/http/handlers"
	httpmw "github.com/taskstream/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	Config      *config.Config
	Logger      *logger.Logger
	TaskService ports.TaskService
	Registry    ports.ConnectionRegistry
	Notifier    ports.Notifier
	Dispatcher  ports.DispatcherStats
	Host        handlers.HostStatsSource
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(handlers.TaskHandlerConfig{
		Service:       cfg.TaskService,
		Dispatcher:    cfg.Dispatcher,
		Host:          cfg.Host,
		Logger:        cfg.Logger.Named("task_handler"),
		SubmitTimeout: cfg.Config.Queue.SubmitTimeout,
	})
	wsHandler := handlers.NewWebSocketHandler(cfg.Registry, cfg.Notifier, cfg.Config.WebSocket, cfg.Logger.Named("ws"))

	app.Get("/", taskHandler.GetRoot)
	app.Get("/health", taskHandler.GetHealth)

	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws", websocket.New(wsHandler.Handle, websocket.Config{
		ReadBufferSize:  cfg.Config.WebSocket.BufferSize,
		WriteBufferSize: cfg.Config.WebSocket.BufferSize,
	}))

	api := app.Group("/api")

	tasks := api.Group("/task")
	tasks.Post("/start", taskHandler.StartTask)
	tasks.Get("/health", taskHandler.GetHealth)
	tasks.Get("/status", httpmw.AdminAuth(cfg.Config.Auth), taskHandler.GetStatus)
}
