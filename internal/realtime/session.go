package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

// Transport is the physical push channel behind a Session.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Session represents one live push channel.
//
// Design notes:
//   - Identity (ID, UserID, TeamID) is fixed at construction.
//   - send is never closed, so concurrent broadcasters cannot panic on a closed channel.
//   - done is closed exactly once by Close; a session never reopens.
type Session struct {
	ID     string
	UserID string
	TeamID string

	tr   Transport
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(id, userID, teamID string, tr Transport, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Session{
		ID:     id,
		UserID: userID,
		TeamID: teamID,
		tr:     tr,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// IsOpen reports whether the session still accepts envelopes.
func (s *Session) IsOpen() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Enqueue serializes env and hands it to the writer loop without blocking.
func (s *Session) Enqueue(env v1.Envelope) error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	case s.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run drains the send queue onto the transport until the session closes or ctx ends.
// It returns the first write error; the caller decides how to tear the session down.
func (s *Session) Run(ctx context.Context, writeTimeout time.Duration) error {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case b := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.tr.Write(wctx, b)
			cancel()
			if err != nil {
				if !s.IsOpen() {
					return nil
				}
				return err
			}
		}
	}
}

// Close marks the session closed and closes the transport (idempotent).
// It reports whether this call performed the close.
func (s *Session) Close(code websocket.StatusCode, reason string) bool {
	if s == nil {
		return false
	}
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		if s.tr != nil {
			_ = s.tr.Close(code, reason)
		}
	})
	return closed
}
