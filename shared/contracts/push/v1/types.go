// Package v1 defines the taskpulse push protocol v1 contract.
//
// The package is shared between the server and its clients so the wire format stays authoritative.
// It has no dependencies outside the standard library.
package v1

import (
	"errors"
	"fmt"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeConnectionSuccess acknowledges a completed handshake (server -> client).
	TypeConnectionSuccess = "CONNECTION_SUCCESS"
	// TypePong answers an inbound "ping" text frame (server -> client).
	TypePong = "PONG"

	// TypeTaskAssigned tells an assignee a task was assigned to them.
	TypeTaskAssigned = "TASK_ASSIGNED"
	// TypeTaskCompleted tells a requester their task was completed.
	TypeTaskCompleted = "TASK_COMPLETED"
	// TypeTaskStatusChanged tells the counterpart of a status change.
	TypeTaskStatusChanged = "TASK_STATUS_CHANGED"
	// TypeTeamTaskUpdate is broadcast to every live session of a team.
	TypeTeamTaskUpdate = "TEAM_TASK_UPDATE"

	// TypeNotification carries a generic notification (deadline reminders, invitations).
	TypeNotification = "NOTIFICATION"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "ERROR"
)

// PingText is the only inbound payload the server understands.
const PingText = "ping"

// Envelope is the canonical wire wrapper.
//
// Envelopes are values: once built they are only copied, never mutated.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// New builds an envelope stamped with the current time.
func New(typ string, data map[string]any) Envelope {
	return NewAt(typ, data, time.Now())
}

// NewAt builds an envelope stamped with ts. A zero ts means now.
func NewAt(typ string, data map[string]any, ts time.Time) Envelope {
	if ts.IsZero() {
		ts = time.Now()
	}
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Type:      typ,
		Data:      data,
		Timestamp: ts.UnixMilli(),
	}
}

// Time returns the envelope timestamp as a time.Time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return errors.New("missing field: type")
	}
	if !KnownType(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if e.Timestamp <= 0 {
		return errors.New("missing field: timestamp")
	}
	return nil
}

// KnownType reports whether typ is part of protocol v1.
func KnownType(typ string) bool {
	switch typ {
	case TypeConnectionSuccess,
		TypePong,
		TypeTaskAssigned,
		TypeTaskCompleted,
		TypeTaskStatusChanged,
		TypeTeamTaskUpdate,
		TypeNotification,
		TypeError:
		return true
	default:
		return false
	}
}

// ---- Constructors ----

// TaskAssigned builds a TASK_ASSIGNED envelope.
func TaskAssigned(data map[string]any) Envelope { return New(TypeTaskAssigned, data) }

// TaskCompleted builds a TASK_COMPLETED envelope.
func TaskCompleted(data map[string]any) Envelope { return New(TypeTaskCompleted, data) }

// TaskStatusChanged builds a TASK_STATUS_CHANGED envelope.
func TaskStatusChanged(data map[string]any) Envelope { return New(TypeTaskStatusChanged, data) }

// TeamTaskUpdate builds a TEAM_TASK_UPDATE envelope.
func TeamTaskUpdate(data map[string]any) Envelope { return New(TypeTeamTaskUpdate, data) }

// Notification builds a NOTIFICATION envelope.
func Notification(data map[string]any) Envelope { return New(TypeNotification, data) }

// Error builds an ERROR envelope carrying a human-readable message.
func Error(message string) Envelope {
	return New(TypeError, map[string]any{"message": message})
}

// Pong builds a PONG envelope for a ping received at now.
func Pong(now time.Time) Envelope {
	return NewAt(TypePong, map[string]any{"timestamp": now.UnixMilli()}, now)
}
