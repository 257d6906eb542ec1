package realtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandshake is the kind of every rejected connection handshake.
	ErrHandshake = errors.New("handshake rejected")

	// ErrInvalidSession is returned when registering a session without identity.
	ErrInvalidSession = errors.New("invalid session")

	// ErrDuplicateSession is returned when a different session reuses a registered session id.
	ErrDuplicateSession = errors.New("duplicate session id")

	// ErrRegistryClosed is returned by Register once CloseAll has run.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrSessionClosed is returned when sending to a session that has been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendQueueFull is returned when a session's outbound queue cannot take more envelopes.
	ErrSendQueueFull = errors.New("send queue full")
)

// HandshakeError reports the identity parameters a connection was missing.
type HandshakeError struct {
	Missing []string
}

func (e HandshakeError) Error() string {
	if len(e.Missing) == 0 {
		return ErrHandshake.Error()
	}
	return fmt.Sprintf("%s: missing query parameters: %s", ErrHandshake.Error(), strings.Join(e.Missing, ", "))
}

func (e HandshakeError) Unwrap() error { return ErrHandshake }
