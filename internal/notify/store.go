package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Recorder is the write side the Dispatcher depends on.
type Recorder interface {
	// SaveNotification durably stores a notification and returns its id.
	SaveNotification(ctx context.Context, in SaveInput) (string, error)
}

// Store persists and queries notification records.
//
// Requirements:
//   - Listings are ordered by created_at DESC, newest first
//   - MarkRead returns ErrNotFound for unknown ids
//   - Data round-trips as a JSON object
type Store interface {
	Recorder
	ListForUser(ctx context.Context, q ListQuery) ([]Record, error)
	ListForTask(ctx context.Context, taskID string) ([]Record, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Close() error
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return b, nil
}

func decodeData(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return out, nil
}
