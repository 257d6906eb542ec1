package notify

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a dev-only Store used when no database is configured.
// Records are kept in insertion order; data maps are stored as JSON so callers
// never share mutable state with the store.
type InMemoryStore struct {
	mu      sync.Mutex
	records []memRecord
	byID    map[string]int
}

type memRecord struct {
	Record
	data []byte
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int)}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// SaveNotification stores a record and returns its UUID.
func (s *InMemoryStore) SaveNotification(ctx context.Context, in SaveInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := encodeData(in.Data)
	if err != nil {
		return "", err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	rec := memRecord{
		Record: Record{
			ID:        uuid.NewString(),
			UserID:    in.UserID,
			TaskID:    in.TaskID,
			Kind:      in.Kind,
			Title:     in.Title,
			Message:   in.Message,
			CreatedAt: now.UTC(),
		},
		data: data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// ListForUser returns a page of the user's records, newest first.
func (s *InMemoryStore) ListForUser(ctx context.Context, q ListQuery) ([]Record, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, invalidInput("missing user_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.normalized()

	return s.collect(func(r *memRecord) bool {
		return r.UserID == q.UserID && (!q.UnreadOnly || !r.Read)
	}, q.Offset, q.Limit)
}

// ListForTask returns every record tied to the task, newest first.
func (s *InMemoryStore) ListForTask(ctx context.Context, taskID string) ([]Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalidInput("missing task_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.collect(func(r *memRecord) bool { return r.TaskID == taskID }, 0, -1)
}

// CountUnread returns the number of unread records for the user.
func (s *InMemoryStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.records {
		if s.records[i].UserID == userID && !s.records[i].Read {
			n++
		}
	}
	return n, nil
}

// MarkRead flags one record as read.
func (s *InMemoryStore) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.records[i].Read = true
	return nil
}

// MarkAllRead flags every unread record of the user and returns how many changed.
func (s *InMemoryStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.records {
		if s.records[i].UserID == userID && !s.records[i].Read {
			s.records[i].Read = true
			n++
		}
	}
	return n, nil
}

// collect walks records newest first. limit < 0 means no limit.
func (s *InMemoryStore) collect(match func(*memRecord) bool, offset, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*memRecord, 0, 16)
	for i := range s.records {
		if match(&s.records[i]) {
			matched = append(matched, &s.records[i])
		}
	}
	// Stable sort keeps insertion order among equal timestamps; reversing after gives newest first.
	slices.SortStableFunc(matched, func(a, b *memRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	slices.Reverse(matched)

	if offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[offset:]
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Record, 0, len(matched))
	for _, r := range matched {
		rec := r.Record
		data, err := decodeData(r.data)
		if err != nil {
			return nil, err
		}
		rec.Data = data
		out = append(out, rec)
	}
	return out, nil
}
