package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/webitel/ws-client-runtime/errs"
)

// engine.io v4 packet type prefixes this adapter speaks over the
// websocket transport (open/close/ping/pong/message; the binary and
// upgrade packet types never occur on a websocket-only session).
const (
	packetOpen    = "0"
	packetClose   = "1"
	packetPing    = "2"
	packetPong    = "3"
	packetMessage = "4"
)

// SocketIO wraps a higher-level, engine.io-style client: every payload
// is funnelled through a single logical "message" event, mirroring a
// Socket.IO client's emit("message", …) surface, rather than exposing
// raw frame types the way Native does.
type SocketIO struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	requested *CloseInfo // set by Disconnect so readLoop reports the caller's close, not the read error
	state     atomic.Value // State

	events chan Event
}

// NewSocketIO constructs a SocketIO adapter for cfg.
func NewSocketIO(cfg Config) *SocketIO {
	s := &SocketIO{
		cfg:    cfg,
		events: make(chan Event, 32),
	}
	s.state.Store(StateClosed)
	return s
}

func (s *SocketIO) setState(v State) { s.state.Store(v) }

func (s *SocketIO) State() State {
	if v, ok := s.state.Load().(State); ok {
		return v
	}
	return StateClosed
}

func (s *SocketIO) Events() <-chan Event { return s.events }

// socketIOURL rewrites a ws(s):// or http(s):// endpoint into the
// conventional /socket.io/ path with negotiation query parameters,
// forcing the websocket transport (no long-polling fallback).
func socketIOURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *SocketIO) Connect(ctx context.Context) error {
	if s.State() == StateOpen {
		return nil
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	target, err := socketIOURL(s.cfg.URL)
	if err != nil {
		s.setState(StateClosed)
		return errs.New(errs.Connection, "transport.socketio.connect", err)
	}

	header := http.Header{}
	for k, vs := range s.cfg.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	conn, _, err := (&websocket.Dialer{}).DialContext(dialCtx, target, header)
	if err != nil {
		s.setState(StateClosed)
		return errs.New(errs.Connection, "transport.socketio.connect", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateOpen)
	go s.readLoop(conn)
	s.events <- Event{Kind: EventOpen}
	return nil
}

func (s *SocketIO) readLoop(conn *websocket.Conn) {
	defer close(s.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			info := CloseInfo{Code: 1006, Reason: err.Error()}
			if ce, ok := err.(*websocket.CloseError); ok {
				info = CloseInfo{Code: ce.Code, Reason: ce.Text, WasClean: true}
			}
			s.mu.Lock()
			if s.requested != nil {
				info = *s.requested
			}
			s.mu.Unlock()
			s.setState(StateClosed)
			s.events <- Event{Kind: EventClose, Close: info}
			return
		}
		s.handleFrame(conn, string(data))
	}
}

func (s *SocketIO) handleFrame(conn *websocket.Conn, frame string) {
	if frame == "" {
		return
	}
	prefix, body := frame[:1], frame[1:]
	switch prefix {
	case packetPing:
		_ = conn.WriteMessage(websocket.TextMessage, []byte(packetPong))
	case packetMessage:
		s.events <- Event{Kind: EventMessage, Data: decodeText(body)}
	case packetOpen, packetClose:
		// handshake/teardown control packets; no application payload.
	}
}

// Send emits payload as a Socket.IO "message" event: JSON-encode and
// wrap it in an engine.io message packet.
func (s *SocketIO) Send(payload any) error {
	if s.State() != StateOpen {
		return errs.New(errs.State, "transport.socketio.send", fmt.Errorf("adapter not open"))
	}
	text, err := marshalText(payload)
	if err != nil {
		return errs.New(errs.Protocol, "transport.socketio.send", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errs.New(errs.State, "transport.socketio.send", fmt.Errorf("adapter not open"))
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(packetMessage+text)); err != nil {
		return errs.New(errs.Connection, "transport.socketio.send", err)
	}
	return nil
}

// SendBinary JSON-encodes data as a base64-capable structure before
// sending: engine.io v4 over a single websocket stream multiplexes
// binary frames through the same text-packet envelope Send uses, so
// binary payloads are wrapped rather than sent as a raw frame type.
func (s *SocketIO) SendBinary(data []byte) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return errs.New(errs.Protocol, "transport.socketio.send_binary", err)
	}
	return s.Send(json.RawMessage(encoded))
}

func (s *SocketIO) Disconnect(code int, reason string) {
	if s.State() != StateOpen {
		return
	}
	s.setState(StateClosing)

	s.mu.Lock()
	conn := s.conn
	s.requested = &CloseInfo{Code: code, Reason: reason, WasClean: true}
	s.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, deadline, deadlineNow())
	_ = conn.Close()
}
