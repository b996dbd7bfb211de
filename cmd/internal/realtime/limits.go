package realtime

import "time"

// Security/performance limits for the websocket gateway.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

const (
	// PresenceGrace is how long a disconnected user's presence entry is
	// retained, with status offline, before it is removed. Rapid reconnects
	// within the window do not flicker visibility to other users.
	PresenceGrace = 5 * time.Minute

	// TypingTTL expires typing flags that were never explicitly stopped,
	// e.g. after a disconnect mid-typing.
	TypingTTL = 10 * time.Second
)
