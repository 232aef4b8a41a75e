package domain

import "time"

// Event types carried in the frame discriminator.
const (
	EventConnection   = "connection"
	EventTaskQueued   = "taskQueued"
	EventTaskProgress = "taskProgress"
	EventPong         = "pong"
	EventKeepAlive    = "keepAlive"

	// inbound
	EventPing = "ping"
)

// Frame is the single outbound envelope used for every event kind.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame is the subset of an incoming message the server inspects.
type InboundFrame struct {
	Type string `json:"type"`
}
