package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	v1 "taskpulse/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

const defaultAllowedOrigins = "http://localhost,http://127.0.0.1"

// GatewayConfig holds the transport knobs of the WebSocket gateway.
type GatewayConfig struct {
	// OriginRequired rejects upgrades without an Origin header. Native mobile clients send none,
	// so it is off by default.
	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long. Zero disables it;
	// push-only clients rely on heartbeats instead.
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the gateway defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    SplitCSV(defaultAllowedOrigins),
		SendQueueSize:     defaultSendQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) normalized() GatewayConfig {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint for push channels.
//
// It enforces origin policy, rate limits and heartbeats, and hands every connection to the
// Lifecycle handler, which owns registration in the Registry.
type WSGateway struct {
	log       *slog.Logger
	lifecycle *Lifecycle
	cfg       GatewayConfig

	// Derived for websocket.Accept origin checks, which only authorize same-host origins
	// unless OriginPatterns lists the cross-origin hosts.
	originPatterns []string
}

// NewWSGateway constructs a gateway that registers its sessions in registry.
func NewWSGateway(log *slog.Logger, registry *Registry, cfg GatewayConfig, opts ...LifecycleOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(log)
	}
	cfg = cfg.normalized()

	lcOpts := append([]LifecycleOption{WithSendQueueSize(cfg.SendQueueSize)}, opts...)
	return &WSGateway{
		log:            log,
		lifecycle:      NewLifecycle(log, registry, lcOpts...),
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// Lifecycle returns the handler the gateway drives.
func (g *WSGateway) Lifecycle() *Lifecycle { return g.lifecycle }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a push channel and runs it until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s, err := g.lifecycle.OnEstablish(&wsTransport{conn: conn}, r.URL.Query())
	if err != nil {
		// OnEstablish already closed the connection with the matching status.
		g.log.Info("ws.reject.handshake", "err", err, "remote", r.RemoteAddr)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer g.lifecycle.OnClose(s, websocket.StatusNormalClosure)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := s.Run(ctx, g.cfg.WriteTimeout); err != nil {
			g.lifecycle.OnTransportError(s, fmt.Errorf("write: %w", err))
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, s)
	}()

	g.readLoop(ctx, conn, s)

	g.lifecycle.OnClose(s, websocket.StatusNormalClosure)
	cancel()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, s *Session) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if g.cfg.ReadIdleTimeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		}
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			if !s.IsOpen() {
				// Closed locally (write failure, heartbeat, shutdown).
				return
			}
			switch classifyReadErr(err) {
			case readErrClose:
				g.log.Debug("ws.peer.close", "session_id", s.ID, "close_status", int(websocket.CloseStatus(err)))
				g.lifecycle.OnClose(s, websocket.StatusNormalClosure)
			case readErrCtxDone:
				if ctx.Err() != nil {
					g.lifecycle.OnClose(s, websocket.StatusGoingAway)
				} else {
					g.log.Info("ws.read.idle", "session_id", s.ID, "timeout", g.cfg.ReadIdleTimeout.String())
					g.lifecycle.OnClose(s, websocket.StatusPolicyViolation)
				}
			case readErrConnClosed:
				g.lifecycle.OnClose(s, websocket.StatusNormalClosure)
			default:
				g.lifecycle.OnTransportError(s, fmt.Errorf("read: %w", err))
			}
			return
		}

		if !rl.Allow(time.Now().UTC()) {
			g.log.Info("ws.rate_limited", "session_id", s.ID, "user_id", s.UserID)
			g.writeDirect(ctx, conn, v1.Error("too many events"))
			g.lifecycle.OnClose(s, websocket.StatusPolicyViolation)
			return
		}

		if mt != websocket.MessageText {
			g.log.Debug("ws.message.binary_ignored", "session_id", s.ID, "bytes", len(data))
			continue
		}
		g.lifecycle.OnMessage(s, data)
	}
}

// heartbeat pings the peer; conn.Ping needs the concurrent read loop to observe the pong.
func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, s *Session) {
	if g.cfg.HeartbeatInterval <= 0 {
		return
	}

	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", s.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					g.lifecycle.OnClose(s, websocket.StatusGoingAway)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// writeDirect bypasses the send queue. Used for the final envelope before a policy close,
// which the writer loop would otherwise drop when the session closes.
func (g *WSGateway) writeDirect(ctx context.Context, conn *websocket.Conn, env v1.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, b); err != nil {
		g.log.Debug("ws.write_direct.fail", "type", env.Type, "err", err)
	}
}

// wsTransport adapts a websocket.Conn to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into the host patterns websocket.Accept matches.
// Accept compares patterns against host:port, so every host also gets an any-port pattern.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, 2*len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
		if h != "*" {
			out = append(out, h+":*")
		}
	}
	slices.Sort(out)
	return out
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
