package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"taskpulse/internal/ids"
	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

const (
	queryUserID = "userId"
	queryTeamID = "teamId"

	// StatusBadData is the close status sent when identity parameters are missing.
	StatusBadData = websocket.StatusInvalidFramePayloadData

	handshakeReason   = "userId and teamId query parameters are required"
	connectionMessage = "realtime notification channel connected"
)

// Lifecycle binds channel sessions to the Registry on connect, disconnect and error.
type Lifecycle struct {
	log           *slog.Logger
	registry      *Registry
	sendQueueSize int
	now           func() time.Time
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithSendQueueSize sets the per-session outbound queue size.
func WithSendQueueSize(n int) LifecycleOption {
	return func(l *Lifecycle) {
		if n < minSendQueueSize {
			n = minSendQueueSize
		}
		l.sendQueueSize = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLifecycle constructs a Lifecycle handler over registry.
func NewLifecycle(log *slog.Logger, registry *Registry, opts ...LifecycleOption) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	l := &Lifecycle{
		log:           log,
		registry:      registry,
		sendQueueSize: defaultSendQueueSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// OnEstablish validates the identity parameters of a freshly opened transport, registers a
// session for it and queues a CONNECTION_SUCCESS acknowledgement.
// On missing parameters the transport is closed and a HandshakeError is returned.
func (l *Lifecycle) OnEstablish(tr Transport, query url.Values) (*Session, error) {
	userID := strings.TrimSpace(query.Get(queryUserID))
	teamID := strings.TrimSpace(query.Get(queryTeamID))

	var missing []string
	if userID == "" {
		missing = append(missing, queryUserID)
	}
	if teamID == "" {
		missing = append(missing, queryTeamID)
	}
	if len(missing) > 0 {
		err := HandshakeError{Missing: missing}
		l.log.Info("lifecycle.handshake.reject", "missing", strings.Join(missing, ","))
		_ = tr.Close(StatusBadData, handshakeReason)
		return nil, err
	}

	sessionID, err := ids.NewULID(l.now())
	if err != nil {
		_ = tr.Close(websocket.StatusInternalError, "server error")
		return nil, fmt.Errorf("new session id: %w", err)
	}

	s := NewSession(sessionID, userID, teamID, tr, l.sendQueueSize)
	if err := l.registry.Register(s); err != nil {
		if errors.Is(err, ErrRegistryClosed) {
			s.Close(websocket.StatusGoingAway, "server shutdown")
		} else {
			s.Close(websocket.StatusInternalError, "server error")
		}
		return nil, fmt.Errorf("register session: %w", err)
	}

	ack := v1.NewAt(v1.TypeConnectionSuccess, map[string]any{
		"message":   connectionMessage,
		"userId":    userID,
		"teamId":    teamID,
		"sessionId": sessionID,
	}, l.now())
	if err := s.Enqueue(ack); err != nil {
		l.log.Warn("lifecycle.ack.fail", "session_id", sessionID, "err", err)
	}

	l.log.Info("lifecycle.establish", "session_id", sessionID, "user_id", userID, "team_id", teamID)
	return s, nil
}

// OnClose unregisters the session unconditionally. Safe to call more than once.
func (l *Lifecycle) OnClose(s *Session, status websocket.StatusCode) {
	if s == nil {
		return
	}
	s.Close(status, "closed")
	if l.registry.Unregister(s.ID) {
		l.log.Info("lifecycle.close", "session_id", s.ID, "user_id", s.UserID, "status", int(status))
	}
}

// OnMessage handles one inbound text payload. Only "ping" is understood.
func (l *Lifecycle) OnMessage(s *Session, payload []byte) {
	if s == nil {
		return
	}
	if string(payload) != v1.PingText {
		l.log.Debug("lifecycle.message.ignored", "session_id", s.ID, "bytes", len(payload))
		return
	}
	if err := s.Enqueue(v1.Pong(l.now())); err != nil {
		l.log.Info("lifecycle.pong.fail", "session_id", s.ID, "err", err)
	}
}

// OnTransportError logs err, force-closes the channel with a server-error status and
// then runs OnClose.
func (l *Lifecycle) OnTransportError(s *Session, err error) {
	if s == nil {
		return
	}
	l.log.Warn("lifecycle.transport.error", "session_id", s.ID, "user_id", s.UserID, "err", err)
	s.Close(websocket.StatusInternalError, "server error")
	l.OnClose(s, websocket.StatusInternalError)
}
