package transport

import "time"

// deadlineNow returns a short deadline for best-effort control frames
// (close handshake) so Disconnect never blocks indefinitely.
func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}
