// Package smoke is a CI-friendly end-to-end check of a running taskpulse push gateway.
//
// It validates:
//   - handshake without identity is closed with 1007
//   - handshake with identity is acknowledged by CONNECTION_SUCCESS
//   - "ping" is answered by PONG
//   - a second connection of the same user gets its own session
package smoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "taskpulse/shared/contracts/push/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

// Options configures a smoke run.
type Options struct {
	URL     string // ws:// or wss:// URL of the /ws endpoint
	Origin  string // optional Origin header
	Timeout time.Duration
	Verbose bool
}

type client struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

// Run executes the smoke sequence and writes a one-line summary to out.
func Run(ctx context.Context, opts Options, out io.Writer) error {
	if err := validateWSURL(opts.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if err := validateOrigin(opts.Origin); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 7 * time.Second
	}

	if err := checkRejectsMissingIdentity(ctx, opts); err != nil {
		return err
	}

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	team := "smoke-team-" + suffix

	a, err := connect(ctx, opts, "A", "smoke-a-"+suffix, team)
	if err != nil {
		return err
	}
	defer closeWS(a.conn)

	b, err := connect(ctx, opts, "B", "smoke-b-"+suffix, team)
	if err != nil {
		return err
	}
	defer closeWS(b.conn)

	if opts.Verbose {
		fmt.Fprintf(out, "connected: A=%s B=%s team=%s\n", a.sessionID, b.sessionID, team)
	}

	if err := writeText(ctx, a.conn, v1.PingText, opts.Timeout); err != nil {
		return fmt.Errorf("ping (A): %w", err)
	}
	if _, err := a.readUntilType(ctx, v1.TypePong, opts.Timeout); err != nil {
		return err
	}

	a2, err := connect(ctx, opts, "A2", "smoke-a-"+suffix, team)
	if err != nil {
		return err
	}
	defer closeWS(a2.conn)
	if a2.sessionID == a.sessionID {
		return fmt.Errorf("reconnect reused session id %s", a.sessionID)
	}

	fmt.Fprintf(out, "OK: A=%s B=%s A2=%s team=%s\n", a.sessionID, b.sessionID, a2.sessionID, team)
	return nil
}

func checkRejectsMissingIdentity(parent context.Context, opts Options) error {
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	conn, err := dial(ctx, opts.URL, opts.Origin, url.Values{})
	if err != nil {
		return fmt.Errorf("connect without identity: %w", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusInvalidFramePayloadData {
		return fmt.Errorf("connect without identity: want close %d, got %d (%v)",
			websocket.StatusInvalidFramePayloadData, got, err)
	}
	return nil
}

func connect(parent context.Context, opts Options, name, userID, teamID string) (*client, error) {
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	conn, err := dial(ctx, opts.URL, opts.Origin, url.Values{"userId": {userID}, "teamId": {teamID}})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &client{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack, err := c.readUntilType(parent, v1.TypeConnectionSuccess, opts.Timeout)
	if err != nil {
		closeWS(conn)
		return nil, err
	}
	sid, _ := ack.Data["sessionId"].(string)
	if strings.TrimSpace(sid) == "" {
		closeWS(conn)
		return nil, fmt.Errorf("%s missing sessionId (%s)", v1.TypeConnectionSuccess, name)
	}
	if got, _ := ack.Data["userId"].(string); got != userID {
		closeWS(conn)
		return nil, fmt.Errorf("%s userId mismatch (%s): got=%q want=%q", v1.TypeConnectionSuccess, name, got, userID)
	}
	c.sessionID = sid
	return c, nil
}

func dial(ctx context.Context, rawURL, origin string, query url.Values) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	u.RawQuery = query.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *client) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *client) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *client) readUntilType(parent context.Context, wantType string, stepTimeout time.Duration) (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return v1.Envelope{}, fmt.Errorf("timeout waiting for %q (%s): %w", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			return v1.Envelope{}, fmt.Errorf("connection error while waiting for %q (%s): %w", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				return v1.Envelope{}, fmt.Errorf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env, nil
			}
			if env.Type == v1.TypeError {
				return v1.Envelope{}, fmt.Errorf("server error (%s): %v", c.name, env.Data["message"])
			}
		}
	}
}

func writeText(parent context.Context, conn *websocket.Conn, text string, stepTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(text))
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}
