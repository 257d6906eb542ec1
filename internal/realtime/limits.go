package realtime

import "time"

// Transport and abuse limits for push connections.
const (
	// Max bytes per inbound websocket frame. Clients only ever send "ping".
	maxFrameBytes = 4 << 10 // 4 KiB

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
