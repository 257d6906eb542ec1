package notify

import "time"

// formatTime renders t as RFC 3339 in UTC, or nil for the zero time so JSON carries null.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func taskAssignedData(t Task) map[string]any {
	return map[string]any{
		"taskId":    t.ID,
		"title":     t.Title,
		"content":   t.Content,
		"requester": t.Requester.Name,
		"deadline":  formatTime(t.Deadline),
		"teamId":    t.Team.ID,
		"teamName":  t.Team.Name,
	}
}

func taskCompletedData(t Task) map[string]any {
	return map[string]any{
		"taskId":         t.ID,
		"title":          t.Title,
		"assignee":       t.Assignee.Name,
		"completedAt":    formatTime(t.CompletedAt),
		"completionNote": nullableString(t.CompletionNote),
		"teamId":         t.Team.ID,
		"teamName":       t.Team.Name,
	}
}

func taskStatusChangedData(t Task, oldStatus, newStatus TaskStatus, changedBy User) map[string]any {
	return map[string]any{
		"taskId":    t.ID,
		"title":     t.Title,
		"oldStatus": string(oldStatus),
		"newStatus": string(newStatus),
		"changedBy": changedBy.Name,
		"teamId":    t.Team.ID,
	}
}

func deadlineNearData(t Task) map[string]any {
	return map[string]any{
		"taskId":   t.ID,
		"title":    t.Title,
		"deadline": formatTime(t.Deadline),
		"teamId":   t.Team.ID,
		"teamName": t.Team.Name,
	}
}

func teamInvitationData(team Team, invitedBy User) map[string]any {
	return map[string]any{
		"teamId":      team.ID,
		"teamName":    team.Name,
		"invitedBy":   invitedBy.Name,
		"invitedById": invitedBy.ID,
	}
}

// taskDTO is the task shape carried by TEAM_TASK_UPDATE broadcasts.
func taskDTO(t Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"content":     t.Content,
		"status":      string(t.Status),
		"requester":   map[string]any{"id": t.Requester.ID, "name": t.Requester.Name},
		"assignee":    map[string]any{"id": t.Assignee.ID, "name": t.Assignee.Name},
		"deadline":    formatTime(t.Deadline),
		"createdAt":   formatTime(t.CreatedAt),
		"completedAt": formatTime(t.CompletedAt),
	}
}

func teamTaskUpdateData(t Task) map[string]any {
	return map[string]any{
		"action": "UPDATE",
		"task":   taskDTO(t),
	}
}

// notificationData is the NOTIFICATION envelope payload: the record data plus what a client
// needs to render and acknowledge it.
func notificationData(recordID string, kind Kind, title, msg string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		out[k] = v
	}
	out["notificationId"] = recordID
	out["kind"] = string(kind)
	out["notificationTitle"] = title
	out["message"] = msg
	return out
}
