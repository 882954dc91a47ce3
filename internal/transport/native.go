package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/webitel/ws-client-runtime/errs"
)

// Native wraps a standards-compliant WebSocket via gorilla/websocket.
type Native struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	requested *CloseInfo // set by Disconnect so readLoop reports the caller's close, not the read error
	state     atomic.Value // State

	events chan Event
}

// NewNative constructs a Native adapter for cfg. Connect must be
// called before Send/SendBinary are usable.
func NewNative(cfg Config) *Native {
	n := &Native{
		cfg:    cfg,
		events: make(chan Event, 32),
	}
	n.state.Store(StateClosed)
	return n
}

func (n *Native) setState(s State) { n.state.Store(s) }

func (n *Native) State() State {
	if s, ok := n.state.Load().(State); ok {
		return s
	}
	return StateClosed
}

func (n *Native) Events() <-chan Event { return n.events }

// Connect dials the configured URL. A close or error delivered before
// the handshake completes is reported as a Connection error rather
// than surfaced as a normal close event.
func (n *Native) Connect(ctx context.Context) error {
	if n.State() == StateOpen {
		return nil
	}
	n.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.timeout())
	defer cancel()

	header := http.Header{}
	for k, vs := range n.cfg.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	u, err := url.Parse(n.cfg.URL)
	if err != nil {
		n.setState(StateClosed)
		return errs.New(errs.Connection, "transport.native.connect", err)
	}

	dialer := websocket.Dialer{Subprotocols: n.cfg.Protocols}
	conn, _, err := dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		n.setState(StateClosed)
		return errs.New(errs.Connection, "transport.native.connect", err)
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	n.setState(StateOpen)
	go n.readLoop(conn)

	n.events <- Event{Kind: EventOpen}
	return nil
}

func (n *Native) readLoop(conn *websocket.Conn) {
	defer close(n.events)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			info := CloseInfo{Code: 1006, Reason: err.Error()}
			if ce, ok := err.(*websocket.CloseError); ok {
				info = CloseInfo{Code: ce.Code, Reason: ce.Text, WasClean: true}
			}
			// A local Disconnect tears the connection down underneath
			// this read; the resulting i/o error says nothing useful, so
			// report the close the caller actually asked for.
			n.mu.Lock()
			if n.requested != nil {
				info = *n.requested
			}
			n.mu.Unlock()
			n.setState(StateClosed)
			n.events <- Event{Kind: EventClose, Close: info}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			n.events <- Event{Kind: EventMessage, Data: decodeText(string(data))}
		case websocket.BinaryMessage:
			n.events <- Event{Kind: EventMessage, Data: data}
		}
	}
}

// Send writes payload as a text frame.
func (n *Native) Send(payload any) error {
	if n.State() != StateOpen {
		return errs.New(errs.State, "transport.native.send", fmt.Errorf("adapter not open"))
	}
	text, err := marshalText(payload)
	if err != nil {
		return errs.New(errs.Protocol, "transport.native.send", err)
	}

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return errs.New(errs.State, "transport.native.send", fmt.Errorf("adapter not open"))
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errs.New(errs.Connection, "transport.native.send", err)
	}
	return nil
}

// SendBinary writes data unchanged as a binary frame.
func (n *Native) SendBinary(data []byte) error {
	if n.State() != StateOpen {
		return errs.New(errs.State, "transport.native.send_binary", fmt.Errorf("adapter not open"))
	}
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return errs.New(errs.State, "transport.native.send_binary", fmt.Errorf("adapter not open"))
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errs.New(errs.Connection, "transport.native.send_binary", err)
	}
	return nil
}

// Disconnect closes the socket with the given close code/reason.
func (n *Native) Disconnect(code int, reason string) {
	if n.State() != StateOpen {
		return
	}
	n.setState(StateClosing)

	n.mu.Lock()
	conn := n.conn
	n.requested = &CloseInfo{Code: code, Reason: reason, WasClean: true}
	n.mu.Unlock()
	if conn == nil {
		return
	}

	deadline := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, deadline, deadlineNow())
	_ = conn.Close()
}
