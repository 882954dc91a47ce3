// Package transport abstracts the underlying byte-stream socket so the
// coordination engine never depends on a concrete WebSocket library.
// Two variants are provided: Native, wrapping a standards-compliant
// WebSocket via gorilla/websocket, and SocketIO, wrapping an
// engine.io-style handshake over the same wire. Probe selects between
// them by availability when the caller does not pin one explicitly.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// State mirrors the adapter's own readable connection state, kept
// independent from the Connection State Machine's richer state so the
// adapter stays usable outside this runtime.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
)

// CloseInfo describes a transport close, clean or not.
type CloseInfo struct {
	Code     int
	Reason   string
	WasClean bool
}

// EventKind distinguishes the four transport-level event shapes.
type EventKind string

const (
	EventOpen    EventKind = "open"
	EventClose   EventKind = "close"
	EventError   EventKind = "error"
	EventMessage EventKind = "message"
)

// Event is the uniform envelope adapters deliver on their Events channel.
type Event struct {
	Kind  EventKind
	Close CloseInfo
	Err   error
	Data  any // decoded JSON for text frames parseable as JSON, string otherwise, []byte for binary
}

// Adapter is the capability set the core requires of a concrete socket
// implementation.
type Adapter interface {
	// Connect dials the endpoint. It returns once the socket is open or
	// returns an error carrying errs.Connection if it cannot be opened
	// within the adapter's configured timeout.
	Connect(ctx context.Context) error
	// Disconnect closes the socket, if open, with the given code/reason.
	Disconnect(code int, reason string)
	// Send writes payload as a text frame, JSON-encoding it first
	// unless it is already a string.
	Send(payload any) error
	// SendBinary sends data. Native writes it unchanged as a binary
	// frame; SocketIO base64-encodes it inside a text message packet.
	SendBinary(data []byte) error
	// State reports the adapter's current connection state.
	State() State
	// Events returns the channel on which Event values are delivered.
	// The channel is closed once the adapter is permanently done.
	Events() <-chan Event
}

// Config configures either adapter variant.
type Config struct {
	URL               string
	Protocols         []string
	Headers           map[string][]string
	ConnectionTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.ConnectionTimeout > 0 {
		return c.ConnectionTimeout
	}
	return 10 * time.Second
}

// marshalText renders payload for a text frame: strings pass through
// unchanged, everything else is JSON-encoded.
func marshalText(payload any) (string, error) {
	if s, ok := payload.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeText best-effort JSON-decodes an inbound text frame; on parse
// failure the raw string is returned unchanged.
func decodeText(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
