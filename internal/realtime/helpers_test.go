package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records writes and closes.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	closed      bool
	closeCode   websocket.StatusCode
	closeReason string
	closeCalls  int
}

func (f *fakeTransport) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) closeState() (bool, websocket.StatusCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode, f.closeReason
}

func newTestSession(t *testing.T, id, userID, teamID string) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	return NewSession(id, userID, teamID, tr, minSendQueueSize), tr
}

// drain pops every queued envelope without running the writer loop.
func drain(t *testing.T, s *Session) []v1.Envelope {
	t.Helper()
	var out []v1.Envelope
	for {
		select {
		case b := <-s.send:
			var env v1.Envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Fatalf("unmarshal queued envelope: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

// assertInvariants checks the three-index consistency rules of the registry.
func assertInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]string)
	for teamID, members := range r.byTeam {
		if len(members) == 0 {
			t.Fatalf("team %q has an empty session set", teamID)
		}
		for id, s := range members {
			if prev, ok := seen[id]; ok {
				t.Fatalf("session %q in two teams: %q and %q", id, prev, teamID)
			}
			seen[id] = teamID
			ref, ok := r.bySession[id]
			if !ok {
				t.Fatalf("session %q in team %q but not in bySession", id, teamID)
			}
			if ref.teamID != teamID || ref.userID != s.UserID {
				t.Fatalf("bySession[%q]=%+v disagrees with team membership", id, ref)
			}
		}
	}

	for id, ref := range r.bySession {
		if _, ok := r.byTeam[ref.teamID][id]; !ok {
			t.Fatalf("session %q in bySession but not in byTeam[%q]", id, ref.teamID)
		}
	}

	for userID, s := range r.byUser {
		if s.UserID != userID {
			t.Fatalf("byUser[%q] holds session of user %q", userID, s.UserID)
		}
		if _, ok := r.bySession[s.ID]; !ok {
			t.Fatalf("byUser[%q] holds unregistered session %q", userID, s.ID)
		}
	}
}
