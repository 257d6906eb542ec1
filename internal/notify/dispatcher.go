package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"taskpulse/internal/realtime"
	v1 "taskpulse/shared/contracts/push/v1"
)

// Pusher is the live-delivery side the Dispatcher depends on. *realtime.Registry implements it.
type Pusher interface {
	SendToUser(userID string, env v1.Envelope) realtime.Outcome
	BroadcastToTeam(teamID string, env v1.Envelope) realtime.BroadcastReport
}

// Metrics receives dispatcher observations. Implementations must be safe for concurrent use.
type Metrics interface {
	ObservePersist(kind string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObservePersist(string, error) {}

// Dispatcher turns task events into a durable record followed by a best-effort push.
//
// Ordering: the record is written first; a persistence failure aborts the dispatch before any
// push. Push outcomes never surface as errors.
type Dispatcher struct {
	log      *slog.Logger
	recorder Recorder
	pusher   Pusher
	catalog  *Catalog
	metrics  Metrics
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCatalog sets the catalog used for titles and messages (default: English).
func WithCatalog(c *Catalog) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.catalog = c
		}
	}
}

// WithMetrics sets the metrics sink (default: no-op).
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher constructs a Dispatcher over the given collaborators.
func NewDispatcher(log *slog.Logger, recorder Recorder, pusher Pusher, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:      log,
		recorder: recorder,
		pusher:   pusher,
		catalog:  NewCatalog(defaultLocale),
		metrics:  nopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// NotifyTaskAssigned records a TASK_ASSIGNED notification for the assignee and pushes it to them.
func (d *Dispatcher) NotifyTaskAssigned(ctx context.Context, task Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	data := taskAssignedData(task)
	if _, err := d.persist(ctx, SaveInput{
		UserID:  task.Assignee.ID,
		TaskID:  task.ID,
		Kind:    KindTaskAssigned,
		Title:   d.catalog.text(keyAssignedTitle),
		Message: d.catalog.text(keyAssignedMessage, task.Requester.Name, task.Title),
		Data:    data,
	}); err != nil {
		return err
	}

	out := d.pusher.SendToUser(task.Assignee.ID, v1.NewAt(v1.TypeTaskAssigned, data, d.now()))
	d.log.Info("dispatch.task_assigned",
		"task_id", task.ID,
		"user_id", task.Assignee.ID,
		"outcome", out.String(),
	)
	return nil
}

// NotifyTaskCompleted records a TASK_COMPLETED notification for the requester, pushes it to them
// and broadcasts the updated task to the team.
func (d *Dispatcher) NotifyTaskCompleted(ctx context.Context, task Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	data := taskCompletedData(task)
	if _, err := d.persist(ctx, SaveInput{
		UserID:  task.Requester.ID,
		TaskID:  task.ID,
		Kind:    KindTaskCompleted,
		Title:   d.catalog.text(keyCompletedTitle),
		Message: d.catalog.text(keyCompletedMessage, task.Assignee.Name, task.Title),
		Data:    data,
	}); err != nil {
		return err
	}

	now := d.now()
	out := d.pusher.SendToUser(task.Requester.ID, v1.NewAt(v1.TypeTaskCompleted, data, now))
	rep := d.pusher.BroadcastToTeam(task.Team.ID, v1.NewAt(v1.TypeTeamTaskUpdate, teamTaskUpdateData(task), now))
	d.log.Info("dispatch.task_completed",
		"task_id", task.ID,
		"user_id", task.Requester.ID,
		"outcome", out.String(),
		"team_id", task.Team.ID,
		"team_delivered", rep.Delivered,
	)
	return nil
}

// NotifyTaskStatusChanged notifies the counterpart of changedBy (the requester when the assignee
// made the change, otherwise the assignee) and broadcasts the updated task to the team.
// When the counterpart is changedBy itself, only the broadcast happens.
func (d *Dispatcher) NotifyTaskStatusChanged(ctx context.Context, task Task, oldStatus, newStatus TaskStatus, changedBy User) error {
	if err := validateTask(task); err != nil {
		return err
	}
	if strings.TrimSpace(changedBy.ID) == "" {
		return invalidTask("missing changed_by")
	}

	target := task.Assignee
	if changedBy.ID == task.Assignee.ID {
		target = task.Requester
	}

	now := d.now()
	outcome := "skipped_self"
	if target.ID != changedBy.ID {
		data := taskStatusChangedData(task, oldStatus, newStatus, changedBy)
		if _, err := d.persist(ctx, SaveInput{
			UserID: target.ID,
			TaskID: task.ID,
			Kind:   KindTaskStatusChanged,
			Title:  d.catalog.text(keyStatusTitle),
			Message: d.catalog.text(keyStatusMessage,
				changedBy.Name, d.catalog.StatusLabel(oldStatus), d.catalog.StatusLabel(newStatus), task.Title),
			Data: data,
		}); err != nil {
			return err
		}
		outcome = d.pusher.SendToUser(target.ID, v1.NewAt(v1.TypeTaskStatusChanged, data, now)).String()
	}

	rep := d.pusher.BroadcastToTeam(task.Team.ID, v1.NewAt(v1.TypeTeamTaskUpdate, teamTaskUpdateData(task), now))
	d.log.Info("dispatch.task_status_changed",
		"task_id", task.ID,
		"user_id", target.ID,
		"old_status", string(oldStatus),
		"new_status", string(newStatus),
		"outcome", outcome,
		"team_id", task.Team.ID,
		"team_delivered", rep.Delivered,
	)
	return nil
}

// NotifyDeadlineNear records a TASK_DEADLINE_NEAR reminder for the assignee and pushes it as a
// NOTIFICATION envelope.
func (d *Dispatcher) NotifyDeadlineNear(ctx context.Context, task Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	if task.Deadline.IsZero() {
		return invalidTask("missing deadline")
	}

	data := deadlineNearData(task)
	title := d.catalog.text(keyDeadlineTitle)
	msg := d.catalog.text(keyDeadlineMessage, task.Deadline.UTC().Format(time.RFC3339), task.Title)
	id, err := d.persist(ctx, SaveInput{
		UserID:  task.Assignee.ID,
		TaskID:  task.ID,
		Kind:    KindTaskDeadlineNear,
		Title:   title,
		Message: msg,
		Data:    data,
	})
	if err != nil {
		return err
	}

	env := v1.NewAt(v1.TypeNotification, notificationData(id, KindTaskDeadlineNear, title, msg, data), d.now())
	out := d.pusher.SendToUser(task.Assignee.ID, env)
	d.log.Info("dispatch.deadline_near", "task_id", task.ID, "user_id", task.Assignee.ID, "outcome", out.String())
	return nil
}

// NotifyTeamInvitation records a TEAM_INVITATION for the invitee and pushes it as a NOTIFICATION
// envelope.
func (d *Dispatcher) NotifyTeamInvitation(ctx context.Context, invitee User, team Team, invitedBy User) error {
	switch {
	case strings.TrimSpace(invitee.ID) == "":
		return invalidInput("missing invitee")
	case strings.TrimSpace(team.ID) == "":
		return invalidInput("missing team")
	}

	data := teamInvitationData(team, invitedBy)
	title := d.catalog.text(keyInvitationTitle)
	msg := d.catalog.text(keyInvitationMessage, invitedBy.Name, team.Name)
	id, err := d.persist(ctx, SaveInput{
		UserID:  invitee.ID,
		Kind:    KindTeamInvitation,
		Title:   title,
		Message: msg,
		Data:    data,
	})
	if err != nil {
		return err
	}

	env := v1.NewAt(v1.TypeNotification, notificationData(id, KindTeamInvitation, title, msg, data), d.now())
	out := d.pusher.SendToUser(invitee.ID, env)
	d.log.Info("dispatch.team_invitation", "team_id", team.ID, "user_id", invitee.ID, "outcome", out.String())
	return nil
}

func (d *Dispatcher) persist(ctx context.Context, in SaveInput) (string, error) {
	if in.Now.IsZero() {
		in.Now = d.now()
	}
	id, err := d.recorder.SaveNotification(ctx, in)
	d.metrics.ObservePersist(string(in.Kind), err)
	if err != nil {
		d.log.Error("dispatch.persist.fail", "kind", string(in.Kind), "user_id", in.UserID, "task_id", in.TaskID, "err", err)
		return "", &PersistenceError{Kind: in.Kind, Err: err}
	}
	return id, nil
}

func validateTask(t Task) error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return invalidTask("missing id")
	case strings.TrimSpace(t.Assignee.ID) == "":
		return invalidTask("missing assignee")
	case strings.TrimSpace(t.Requester.ID) == "":
		return invalidTask("missing requester")
	case strings.TrimSpace(t.Team.ID) == "":
		return invalidTask("missing team")
	}
	return nil
}
