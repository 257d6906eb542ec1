// Package realtime contains taskpulse's live push channels: the connection registry,
// the channel session, the connection lifecycle handler and the WebSocket gateway.
package realtime

import (
	"errors"
	"log/slog"
	"sync"

	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

// Outcome is the result of a single best-effort delivery attempt.
type Outcome uint8

const (
	// OutcomeDelivered means the envelope was handed to the session's writer.
	OutcomeDelivered Outcome = iota + 1
	// OutcomeOffline means no open session exists for the recipient.
	OutcomeOffline
	// OutcomeWriteFailed means the session exists but the envelope could not be queued.
	OutcomeWriteFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeOffline:
		return "offline"
	case OutcomeWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Delivery routes, used as metric labels.
const (
	RouteUser = "user"
	RouteTeam = "team"
)

// BroadcastReport summarises one team broadcast.
type BroadcastReport struct {
	TeamID    string
	Delivered int
	Failed    int
	Evicted   int
}

// Metrics receives registry observations. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveDelivery(route string, outcome Outcome)
	ObserveEvictions(n int)
	SetConnections(users, teams, sessions int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDelivery(string, Outcome) {}
func (nopMetrics) ObserveEvictions(int)           {}
func (nopMetrics) SetConnections(int, int, int)   {}

type sessionRef struct {
	userID string
	teamID string
}

// Registry tracks which users and teams currently hold a live session.
//
// Three indexes are kept consistent under one lock:
//   - byUser:    user id -> newest session of that user (last connect wins)
//   - byTeam:    team id -> set of sessions, never empty
//   - bySession: session id -> identity, for reverse lookup on disconnect
//
// Sends never happen under the lock: callers snapshot, unlock, then enqueue.
type Registry struct {
	log     *slog.Logger
	metrics Metrics

	mu        sync.RWMutex
	byUser    map[string]*Session
	byTeam    map[string]map[string]*Session
	bySession map[string]sessionRef
	closed    bool // set by CloseAll; later registrations are refused
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMetrics sets the metrics sink (default: no-op).
func WithMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:       log,
		metrics:   nopMetrics{},
		byUser:    make(map[string]*Session),
		byTeam:    make(map[string]map[string]*Session),
		bySession: make(map[string]sessionRef),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register inserts s into all three indexes.
//
// A different session already held for the same user is replaced in byUser only; it stays
// reachable through its team until its own Unregister runs or a broadcast evicts it.
func (r *Registry) Register(s *Session) error {
	if s == nil || s.ID == "" || s.UserID == "" || s.TeamID == "" {
		return ErrInvalidSession
	}
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if ref, ok := r.bySession[s.ID]; ok {
		if r.byTeam[ref.teamID][s.ID] == s {
			return nil
		}
		return ErrDuplicateSession
	}

	if prev := r.byUser[s.UserID]; prev != nil {
		// Superseded sessions are not force-closed; the client may still be reconnecting.
		r.log.Info("registry.user.superseded",
			"user_id", s.UserID,
			"previous_session_id", prev.ID,
			"session_id", s.ID,
		)
	}
	r.byUser[s.UserID] = s

	members := r.byTeam[s.TeamID]
	if members == nil {
		members = make(map[string]*Session)
		r.byTeam[s.TeamID] = members
	}
	members[s.ID] = s

	r.bySession[s.ID] = sessionRef{userID: s.UserID, teamID: s.TeamID}
	r.observeSizesLocked()

	r.log.Info("registry.session.register", "session_id", s.ID, "user_id", s.UserID, "team_id", s.TeamID)
	return nil
}

// Unregister removes the session from every index. It reports whether anything was removed.
func (r *Registry) Unregister(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	r.mu.Lock()
	ref, removed := r.removeLocked(sessionID)
	if removed {
		r.observeSizesLocked()
	}
	r.mu.Unlock()

	if removed {
		r.log.Info("registry.session.unregister", "session_id", sessionID, "user_id", ref.userID, "team_id", ref.teamID)
	}
	return removed
}

// removeLocked is the single removal path shared by Unregister and lazy eviction.
// byUser is only cleared when it still points at this exact session.
func (r *Registry) removeLocked(sessionID string) (sessionRef, bool) {
	ref, ok := r.bySession[sessionID]
	if !ok {
		return sessionRef{}, false
	}
	delete(r.bySession, sessionID)

	if members := r.byTeam[ref.teamID]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.byTeam, ref.teamID)
		}
	}

	if cur := r.byUser[ref.userID]; cur != nil && cur.ID == sessionID {
		delete(r.byUser, ref.userID)
	}
	return ref, true
}

// SendToUser queues env on the user's current session. It never blocks and never fails loudly.
func (r *Registry) SendToUser(userID string, env v1.Envelope) Outcome {
	r.mu.RLock()
	s := r.byUser[userID]
	r.mu.RUnlock()

	out := r.deliver(s, env)
	r.metrics.ObserveDelivery(RouteUser, out)

	switch out {
	case OutcomeOffline:
		r.log.Info("registry.send.offline", "user_id", userID, "type", env.Type)
	case OutcomeWriteFailed:
		r.log.Warn("registry.send.fail", "user_id", userID, "session_id", s.ID, "type", env.Type)
	}
	return out
}

// BroadcastToTeam queues env on every open session of the team.
// Closed sessions found in the team set are evicted from all indexes first.
func (r *Registry) BroadcastToTeam(teamID string, env v1.Envelope) BroadcastReport {
	rep := BroadcastReport{TeamID: teamID}

	r.mu.Lock()
	members := r.byTeam[teamID]
	targets := make([]*Session, 0, len(members))
	for id, s := range members {
		if !s.IsOpen() {
			r.removeLocked(id)
			rep.Evicted++
			continue
		}
		targets = append(targets, s)
	}
	if rep.Evicted > 0 {
		r.observeSizesLocked()
	}
	r.mu.Unlock()

	if rep.Evicted > 0 {
		r.metrics.ObserveEvictions(rep.Evicted)
	}
	if len(targets) == 0 {
		r.log.Info("registry.broadcast.no_sessions", "team_id", teamID, "type", env.Type, "evicted", rep.Evicted)
		return rep
	}

	for _, s := range targets {
		out := r.deliver(s, env)
		r.metrics.ObserveDelivery(RouteTeam, out)
		if out == OutcomeDelivered {
			rep.Delivered++
			continue
		}
		rep.Failed++
		r.log.Warn("registry.broadcast.send_fail", "team_id", teamID, "session_id", s.ID, "outcome", out.String())
	}

	r.log.Info("registry.broadcast",
		"team_id", teamID,
		"type", env.Type,
		"delivered", rep.Delivered,
		"failed", rep.Failed,
		"evicted", rep.Evicted,
	)
	return rep
}

func (r *Registry) deliver(s *Session, env v1.Envelope) Outcome {
	if s == nil || !s.IsOpen() {
		return OutcomeOffline
	}
	if err := s.Enqueue(env); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return OutcomeOffline
		}
		r.log.Debug("registry.enqueue.fail", "session_id", s.ID, "err", err)
		return OutcomeWriteFailed
	}
	return OutcomeDelivered
}

// IsUserOnline reports whether the user's current session is open.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	s := r.byUser[userID]
	r.mu.RUnlock()
	return s.IsOpen()
}

// ConnectedUserCount returns the number of users with a registered session.
func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ActiveTeamCount returns the number of teams with at least one registered session.
func (r *Registry) ActiveTeamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTeam)
}

// SessionCount returns the number of registered sessions, superseded ones included.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// CloseAll empties the registry and closes every session it held. Used on shutdown.
// Register fails with ErrRegistryClosed afterwards, so a handshake racing the shutdown cannot
// leave an open session behind.
func (r *Registry) CloseAll(code websocket.StatusCode, reason string) int {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.bySession))
	for _, members := range r.byTeam {
		for _, s := range members {
			sessions = append(sessions, s)
		}
	}
	r.byUser = make(map[string]*Session)
	r.byTeam = make(map[string]map[string]*Session)
	r.bySession = make(map[string]sessionRef)
	r.observeSizesLocked()
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(code, reason)
		}(s)
	}
	wg.Wait()

	r.log.Info("registry.close_all", "sessions", len(sessions))
	return len(sessions)
}

func (r *Registry) observeSizesLocked() {
	r.metrics.SetConnections(len(r.byUser), len(r.byTeam), len(r.bySession))
}
