// Package notify turns task domain events into persisted notification records and
// best-effort pushes over the live channels tracked by the realtime registry.
package notify

import (
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// User is the slice of a user the dispatcher needs.
type User struct {
	ID   string
	Name string
}

// Team is the slice of a team the dispatcher needs.
type Team struct {
	ID   string
	Name string
}

// Task is the task snapshot handed over by the task service. Zero times mean "not set".
type Task struct {
	ID             string
	Title          string
	Content        string
	Status         TaskStatus
	Requester      User
	Assignee       User
	Team           Team
	Deadline       time.Time
	CreatedAt      time.Time
	CompletedAt    time.Time
	CompletionNote string
}

// Kind is the persisted notification type.
type Kind string

const (
	KindTaskAssigned      Kind = "TASK_ASSIGNED"
	KindTaskCompleted     Kind = "TASK_COMPLETED"
	KindTaskStatusChanged Kind = "TASK_STATUS_CHANGED"
	KindTaskDeadlineNear  Kind = "TASK_DEADLINE_NEAR"
	KindTeamInvitation    Kind = "TEAM_INVITATION"
)

// Valid reports whether k is a known notification type.
func (k Kind) Valid() bool {
	switch k {
	case KindTaskAssigned, KindTaskCompleted, KindTaskStatusChanged, KindTaskDeadlineNear, KindTeamInvitation:
		return true
	default:
		return false
	}
}

// Record is one stored notification.
type Record struct {
	ID        string
	UserID    string
	TaskID    string // empty for notifications not tied to a task
	Kind      Kind
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
}

// SaveInput describes a notification to persist.
type SaveInput struct {
	UserID  string
	TaskID  string
	Kind    Kind
	Title   string
	Message string
	Data    map[string]any
	Now     time.Time
}

func (in SaveInput) validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return invalidInput("missing user_id")
	}
	if !in.Kind.Valid() {
		return invalidInput("unknown kind " + string(in.Kind))
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalidInput("missing title")
	}
	return nil
}

// ListQuery selects a page of a user's notifications, newest first.
type ListQuery struct {
	UserID     string
	Limit      int
	Offset     int
	UnreadOnly bool
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
