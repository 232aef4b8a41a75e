package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/taskstream/backend/internal/infrastructure/hoststats"
)

const (
	MessageTaskQueued       = "Task has been queued successfully"
	MessageNameRequired     = "Task name is required"
	MessageInvalidRequest   = "Invalid task request"
	MessageQueueUnavailable = "Task queue is not accepting work"
	StatusError             = "Error"
	StatusHealthy           = "Healthy"
	StatusRunning           = "Running"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type StartTaskRequest struct {
	Name       string         `json:"name" validate:"required,max=200"`
	Duration   *int           `json:"duration,omitempty" validate:"omitempty,gte=0,lte=3600000"`
	ClientID   string         `json:"clientId,omitempty" validate:"max=128"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Validate returns one message per failed rule; an empty slice means valid.
func (r *StartTaskRequest) Validate() []string {
	r.Name = strings.TrimSpace(r.Name)

	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", jsonName(fe.Field())))
		case "gte":
			out = append(out, fmt.Sprintf("%s must be at least %s", jsonName(fe.Field()), fe.Param()))
		case "lte", "max":
			out = append(out, fmt.Sprintf("%s must be at most %s", jsonName(fe.Field()), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s is invalid", jsonName(fe.Field())))
		}
	}
	return out
}

// NameMissing reports whether the trimmed name is empty.
func (r *StartTaskRequest) NameMissing() bool {
	return r.Name == ""
}

func (r *StartTaskRequest) GetDuration() int {
	if r.Duration == nil {
		return 0
	}
	return *r.Duration
}

func jsonName(field string) string {
	switch field {
	case "ClientID":
		return "clientId"
	case "":
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

type StartTaskResponse struct {
	TaskID    string    `json:"taskId"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   []string  `json:"details,omitempty"`
}

type StatusResponse struct {
	Message                    string           `json:"message"`
	Timestamp                  time.Time        `json:"timestamp"`
	ActiveWebSocketConnections int              `json:"activeWebSocketConnections"`
	ConnectedClients           int              `json:"connectedClients"`
	QueuedTasks                int              `json:"queuedTasks"`
	QueueCapacity              int              `json:"queueCapacity"`
	InFlightTasks              int              `json:"inFlightTasks"`
	Status                     string           `json:"status"`
	Host                       *hoststats.Stats `json:"host,omitempty"`
}

type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveConnections int       `json:"activeConnections"`
	Service           string    `json:"service"`
}

// ConnectionHandshake is the data of the first frame on every socket.
type ConnectionHandshake struct {
	Status     string    `json:"status"`
	SocketID   string    `json:"socketId"`
	ServerTime time.Time `json:"serverTime"`
}
