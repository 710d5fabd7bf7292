package api

import (
	"encoding/json"
	"time"

	"deribit-http/pkg/types"
)

// Event types pushed to websocket viewers.
const (
	EventSnapshot     = "snapshot"
	EventNotification = "notification"
)

// MonitorEvent is the wrapper for everything sent over /ws.
type MonitorEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel,omitempty"` // Deribit channel for notifications
	Data      any       `json:"data"`
}

// NewSnapshotEvent wraps a status snapshot.
func NewSnapshotEvent(s StatusSnapshot) MonitorEvent {
	return MonitorEvent{
		Type:      EventSnapshot,
		Timestamp: s.Timestamp,
		Data:      s,
	}
}

// NewNotificationEvent relays a websocket subscription message unchanged.
func NewNotificationEvent(n types.Notification) MonitorEvent {
	return MonitorEvent{
		Type:      EventNotification,
		Timestamp: time.Now(),
		Channel:   n.Channel,
		Data:      json.RawMessage(n.Data),
	}
}
