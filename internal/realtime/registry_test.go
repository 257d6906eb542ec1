package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

type countingMetrics struct {
	mu         sync.Mutex
	deliveries map[string]int
	evictions  int
	users      int
	teams      int
	sessions   int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{deliveries: make(map[string]int)}
}

func (m *countingMetrics) ObserveDelivery(route string, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[route+"/"+o.String()]++
}

func (m *countingMetrics) ObserveEvictions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions += n
}

func (m *countingMetrics) SetConnections(users, teams, sessions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users, m.teams, m.sessions = users, teams, sessions
}

func TestRegistry_RegisterPopulatesAllIndexes(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	s, _ := newTestSession(t, "s1", "u1", "t1")

	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	assertInvariants(t, r)

	if !r.IsUserOnline("u1") {
		t.Fatalf("u1 should be online")
	}
	if r.ConnectedUserCount() != 1 || r.ActiveTeamCount() != 1 || r.SessionCount() != 1 {
		t.Fatalf("counts users=%d teams=%d sessions=%d", r.ConnectedUserCount(), r.ActiveTeamCount(), r.SessionCount())
	}
}

func TestRegistry_RegisterRejects(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	closed, _ := newTestSession(t, "c1", "u1", "t1")
	closed.Close(websocket.StatusNormalClosure, "")

	first, _ := newTestSession(t, "dup", "u1", "t1")
	if err := r.Register(first); err != nil {
		t.Fatalf("Register first: %v", err)
	}
	impostor, _ := newTestSession(t, "dup", "u2", "t2")

	cases := []struct {
		name string
		s    *Session
		want error
	}{
		{name: "nil", s: nil, want: ErrInvalidSession},
		{name: "no user", s: NewSession("x", "", "t1", &fakeTransport{}, 0), want: ErrInvalidSession},
		{name: "no team", s: NewSession("x", "u1", "", &fakeTransport{}, 0), want: ErrInvalidSession},
		{name: "closed", s: closed, want: ErrSessionClosed},
		{name: "duplicate id", s: impostor, want: ErrDuplicateSession},
	}
	for _, tc := range cases {
		if err := r.Register(tc.s); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}

	if err := r.Register(first); err != nil {
		t.Fatalf("re-registering the same session should be a no-op, got %v", err)
	}
	if r.SessionCount() != 1 {
		t.Fatalf("sessions=%d want 1", r.SessionCount())
	}
	assertInvariants(t, r)
}

func TestRegistry_LastConnectWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	s1, _ := newTestSession(t, "s1", "u1", "t1")
	s2, _ := newTestSession(t, "s2", "u1", "t1")
	mustRegister(t, r, s1, s2)

	if out := r.SendToUser("u1", v1.New(v1.TypeTaskAssigned, nil)); out != OutcomeDelivered {
		t.Fatalf("outcome=%s", out)
	}
	if got := len(drain(t, s1)); got != 0 {
		t.Fatalf("superseded session received %d envelopes", got)
	}
	if got := len(drain(t, s2)); got != 1 {
		t.Fatalf("newest session received %d envelopes, want 1", got)
	}

	// The superseded session stays reachable through its team.
	rep := r.BroadcastToTeam("t1", v1.New(v1.TypeTeamTaskUpdate, nil))
	if rep.Delivered != 2 {
		t.Fatalf("broadcast delivered=%d want 2", rep.Delivered)
	}
	assertInvariants(t, r)
}

func TestRegistry_StaleUnregisterKeepsNewerSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	s1, _ := newTestSession(t, "s1", "u1", "t1")
	s2, _ := newTestSession(t, "s2", "u1", "t1")
	mustRegister(t, r, s1, s2)

	if !r.Unregister("s1") {
		t.Fatalf("Unregister(s1) reported nothing removed")
	}
	if !r.IsUserOnline("u1") {
		t.Fatalf("stale disconnect evicted the newer session")
	}
	if out := r.SendToUser("u1", v1.New(v1.TypePong, nil)); out != OutcomeDelivered {
		t.Fatalf("outcome=%s want delivered", out)
	}
	assertInvariants(t, r)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	s, _ := newTestSession(t, "s1", "u1", "t1")
	mustRegister(t, r, s)

	if !r.Unregister("s1") {
		t.Fatalf("first Unregister should remove")
	}
	if r.Unregister("s1") {
		t.Fatalf("second Unregister should be a no-op")
	}
	if r.Unregister("") || r.Unregister("never") {
		t.Fatalf("unknown ids should be no-ops")
	}
	if r.ActiveTeamCount() != 0 || r.ConnectedUserCount() != 0 || r.SessionCount() != 0 {
		t.Fatalf("registry not empty after unregister")
	}
	assertInvariants(t, r)
}

func TestRegistry_SendToUserOutcomes(t *testing.T) {
	t.Parallel()

	m := newCountingMetrics()
	r := NewRegistry(discardLogger(), WithMetrics(m))

	if out := r.SendToUser("ghost", v1.New(v1.TypePong, nil)); out != OutcomeOffline {
		t.Fatalf("absent user outcome=%s want offline", out)
	}

	full, _ := newTestSession(t, "s1", "u1", "t1")
	mustRegister(t, r, full)
	for i := 0; i < minSendQueueSize; i++ {
		_ = full.Enqueue(v1.New(v1.TypePong, nil))
	}
	if out := r.SendToUser("u1", v1.New(v1.TypePong, nil)); out != OutcomeWriteFailed {
		t.Fatalf("full queue outcome=%s want write_failed", out)
	}

	full.Close(websocket.StatusNormalClosure, "")
	if out := r.SendToUser("u1", v1.New(v1.TypePong, nil)); out != OutcomeOffline {
		t.Fatalf("closed session outcome=%s want offline", out)
	}
	if r.IsUserOnline("u1") {
		t.Fatalf("closed session reported online")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveries["user/offline"] != 2 || m.deliveries["user/write_failed"] != 1 {
		t.Fatalf("deliveries=%v", m.deliveries)
	}
}

func TestRegistry_BroadcastEvictsClosedSessions(t *testing.T) {
	t.Parallel()

	m := newCountingMetrics()
	r := NewRegistry(discardLogger(), WithMetrics(m))
	open, _ := newTestSession(t, "s1", "u1", "t1")
	dead, _ := newTestSession(t, "s2", "u2", "t1")
	mustRegister(t, r, open, dead)

	dead.Close(websocket.StatusAbnormalClosure, "")

	rep := r.BroadcastToTeam("t1", v1.New(v1.TypeTeamTaskUpdate, nil))
	if rep.Delivered != 1 || rep.Evicted != 1 || rep.Failed != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if r.SessionCount() != 1 {
		t.Fatalf("sessions=%d want 1 after eviction", r.SessionCount())
	}
	if r.IsUserOnline("u2") {
		t.Fatalf("evicted user still online")
	}
	assertInvariants(t, r)

	open.Close(websocket.StatusAbnormalClosure, "")
	rep = r.BroadcastToTeam("t1", v1.New(v1.TypeTeamTaskUpdate, nil))
	if rep.Delivered != 0 || rep.Evicted != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if r.ActiveTeamCount() != 0 {
		t.Fatalf("empty team set left behind")
	}
	assertInvariants(t, r)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evictions != 2 || m.sessions != 0 {
		t.Fatalf("evictions=%d sessions gauge=%d", m.evictions, m.sessions)
	}
}

func TestRegistry_FanOutScenario(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	u1, _ := newTestSession(t, "s1", "U1", "T1")
	u2, _ := newTestSession(t, "s2", "U2", "T1")
	mustRegister(t, r, u1, u2)

	if out := r.SendToUser("U1", v1.TaskAssigned(map[string]any{"taskId": 7})); out != OutcomeDelivered {
		t.Fatalf("outcome=%s", out)
	}
	if out := r.SendToUser("U3", v1.TaskAssigned(map[string]any{"taskId": 8})); out != OutcomeOffline {
		t.Fatalf("U3 outcome=%s want offline", out)
	}
	rep := r.BroadcastToTeam("T1", v1.TeamTaskUpdate(map[string]any{"action": "UPDATE"}))
	if rep.Delivered != 2 {
		t.Fatalf("broadcast delivered=%d", rep.Delivered)
	}
	if rep := r.BroadcastToTeam("T9", v1.TeamTaskUpdate(nil)); rep.Delivered != 0 || rep.Failed != 0 {
		t.Fatalf("unknown team report=%+v", rep)
	}

	got1 := drain(t, u1)
	got2 := drain(t, u2)
	if len(got1) != 2 || got1[0].Type != v1.TypeTaskAssigned || got1[1].Type != v1.TypeTeamTaskUpdate {
		t.Fatalf("U1 got %+v", got1)
	}
	if len(got2) != 1 || got2[0].Type != v1.TypeTeamTaskUpdate {
		t.Fatalf("U2 got %+v", got2)
	}

	// U1 disconnects; the next broadcast reaches U2 only.
	if !r.Unregister(u1.ID) {
		t.Fatalf("Unregister(U1) removed nothing")
	}
	rep = r.BroadcastToTeam("T1", v1.TeamTaskUpdate(map[string]any{"action": "UPDATE"}))
	if rep.Delivered != 1 || rep.Failed != 0 || rep.Evicted != 0 {
		t.Fatalf("second broadcast report=%+v", rep)
	}
	if r.ActiveTeamCount() != 1 || r.IsUserOnline("U1") || !r.IsUserOnline("U2") {
		t.Fatalf("teams=%d u1 online=%v u2 online=%v", r.ActiveTeamCount(), r.IsUserOnline("U1"), r.IsUserOnline("U2"))
	}
	assertInvariants(t, r)

	if got := drain(t, u1); len(got) != 0 {
		t.Fatalf("U1 received %+v after disconnect", got)
	}
	if got := drain(t, u2); len(got) != 1 || got[0].Type != v1.TypeTeamTaskUpdate {
		t.Fatalf("U2 second broadcast got %+v", got)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	s1, tr1 := newTestSession(t, "s1", "u1", "t1")
	s2, tr2 := newTestSession(t, "s2", "u2", "t2")
	mustRegister(t, r, s1, s2)

	if n := r.CloseAll(websocket.StatusGoingAway, "shutdown"); n != 2 {
		t.Fatalf("CloseAll closed %d, want 2", n)
	}
	for i, tr := range []*fakeTransport{tr1, tr2} {
		closed, code, _ := tr.closeState()
		if !closed || code != websocket.StatusGoingAway {
			t.Fatalf("transport %d closed=%v code=%d", i, closed, code)
		}
	}
	if r.SessionCount() != 0 || r.ActiveTeamCount() != 0 || r.ConnectedUserCount() != 0 {
		t.Fatalf("registry not empty after CloseAll")
	}

	late, _ := newTestSession(t, "s3", "u3", "t1")
	if err := r.Register(late); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Register after CloseAll err=%v want ErrRegistryClosed", err)
	}
	if r.SessionCount() != 0 {
		t.Fatalf("late session registered after CloseAll")
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			team := fmt.Sprintf("t%d", w%3)
			user := fmt.Sprintf("u%d", w%5)
			for i := 0; i < rounds; i++ {
				s := NewSession(fmt.Sprintf("s-%d-%d", w, i), user, team, &fakeTransport{}, minSendQueueSize)
				if err := r.Register(s); err != nil {
					t.Errorf("Register: %v", err)
					return
				}
				r.SendToUser(user, v1.New(v1.TypePong, nil))
				r.BroadcastToTeam(team, v1.New(v1.TypeTeamTaskUpdate, nil))
				if i%2 == 0 {
					s.Close(websocket.StatusNormalClosure, "")
				}
				r.Unregister(s.ID)
			}
		}(w)
	}
	wg.Wait()

	assertInvariants(t, r)
	if r.SessionCount() != 0 || r.ActiveTeamCount() != 0 || r.ConnectedUserCount() != 0 {
		t.Fatalf("leftover state: users=%d teams=%d sessions=%d",
			r.ConnectedUserCount(), r.ActiveTeamCount(), r.SessionCount())
	}
}

func mustRegister(t *testing.T, r *Registry, sessions ...*Session) {
	t.Helper()
	for _, s := range sessions {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.ID, err)
		}
	}
}
