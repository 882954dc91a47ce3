package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/ws-client-runtime/errs"
	"github.com/webitel/ws-client-runtime/internal/ack"
	"github.com/webitel/ws-client-runtime/internal/batch"
	"github.com/webitel/ws-client-runtime/internal/bus"
	"github.com/webitel/ws-client-runtime/internal/codec"
	"github.com/webitel/ws-client-runtime/internal/connstate"
	"github.com/webitel/ws-client-runtime/internal/dedup"
	"github.com/webitel/ws-client-runtime/internal/heartbeat"
	"github.com/webitel/ws-client-runtime/internal/idgen"
	"github.com/webitel/ws-client-runtime/internal/middleware"
	"github.com/webitel/ws-client-runtime/internal/monitor"
	"github.com/webitel/ws-client-runtime/internal/persistence"
	"github.com/webitel/ws-client-runtime/internal/queue"
	"github.com/webitel/ws-client-runtime/internal/reconnect"
	"github.com/webitel/ws-client-runtime/internal/router"
	"github.com/webitel/ws-client-runtime/internal/rpc"
	"github.com/webitel/ws-client-runtime/internal/transport"

	"golang.org/x/sync/errgroup"
)

// Client is the public runtime handle: it composes every subsystem
// and exposes connect/disconnect/send and the event stream.
type Client struct {
	opts   Options
	logger *slog.Logger

	Bus    *bus.Bus
	Router *router.Router

	ids     idgen.Generator
	state   *connstate.Machine
	q       *queue.Queue
	mw      *middleware.Pipeline
	codec   *codec.Codec
	acks    *ack.Tracker
	rpcs    *rpc.Correlator
	dedup   *dedup.Deduplicator
	mon     *monitor.Monitor
	reconn  *reconnect.Controller
	heart   *heartbeat.Controller

	mu        sync.Mutex
	adapter   transport.Adapter
	destroyed bool
	sessionAt time.Time

	// buildAdapter constructs the Adapter for a connect attempt.
	// Overridable (package-internal) so tests can substitute a fake
	// transport without a real socket.
	buildAdapter func(ctx context.Context) (transport.Adapter, error)
}

// New builds a Client. Construction never opens a socket.
func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = persistence.NewMemStore()
	}

	cd, err := codec.New(opts.Codec)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:   opts,
		logger: opts.Logger,
		Bus:    bus.New(opts.Logger),
		Router: router.New(opts.Logger),
		ids:    idgen.NewGenerator(opts.IDStrategy),
		mw:     middleware.New(),
		codec:  cd,
		dedup:  dedup.New(opts.Dedup),
		mon:    monitor.New(opts.Monitor, opts.Meter),
	}
	if opts.MaxListeners > 0 {
		c.Bus.SetMaxListeners(opts.MaxListeners)
	}

	c.state = connstate.New(c.onStateChange)
	c.q = queue.New(opts.Queue, c.ids, opts.Store, c.logger)
	c.acks = ack.New(opts.ACK, c.ids, c.sendReliableEnvelope)
	c.rpcs = rpc.New(opts.RPC, c.sendRPCEnvelope)
	c.reconn = reconnect.New(opts.Reconnect, reconnect.Callbacks{
		OnAttempt: c.onReconnectAttempt,
		OnSuccess: c.onReconnectSuccess,
		OnFailure: c.onReconnectFailure,
	})
	c.heart = heartbeat.New(opts.Heartbeat, c.rawSend, heartbeat.Callbacks{
		OnProbe:   func(payload any) { c.Bus.Emit("ping", map[string]any{"message": payload, "timestamp": time.Now()}) },
		OnSample:  func(rtt time.Duration) { c.mon.RecordLatency(rtt); c.Bus.Emit("pong", map[string]any{"timestamp": time.Now()}) },
		OnTimeout: c.onHeartbeatTimeout,
	})
	c.buildAdapter = func(ctx context.Context) (transport.Adapter, error) {
		return transport.Build(ctx, opts.Adapter, opts.transportConfig(), c.logger), nil
	}

	return c, nil
}

// State reports the current connection lifecycle state.
func (c *Client) State() connstate.State { return c.state.State() }

// IsConnected reports whether the state is Connected.
func (c *Client) IsConnected() bool { return c.state.Is(connstate.Connected) }

// Metrics returns the current Performance Monitor snapshot.
func (c *Client) Metrics() monitor.Report { return c.mon.Snapshot() }

// QueueSize reports the current outbox depth.
func (c *Client) QueueSize() int { return c.q.Len() }

func (c *Client) onStateChange(ch connstate.Change) {
	c.Bus.Emit("state-change", map[string]any{"oldState": ch.Old, "newState": ch.New, "timestamp": ch.Timestamp})
}

// Connect transitions disconnected -> connecting -> connected. If
// already connecting/connected, it returns immediately. A failed
// first attempt is absorbed into the reconnect loop when enabled;
// otherwise the failure is surfaced.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errs.New(errs.State, "client.connect", fmt.Errorf("client destroyed"))
	}
	st := c.state.State()
	if st == connstate.Connecting || st == connstate.Connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.state.Transition(connstate.Connecting)

	err := c.attemptConnect(ctx)
	if err == nil {
		return nil
	}

	if c.opts.Reconnect.Enabled {
		c.state.Transition(connstate.Disconnected)
		c.reconn.Start(context.Background(), c.reconnectAttempt)
		return nil
	}

	c.state.Transition(connstate.Disconnected)
	return err
}

// attemptConnect performs a single connect attempt against a freshly
// built adapter. A new Adapter instance is built on every attempt
// rather than reusing one across reconnects: an adapter's event
// channel is closed for good once its socket goes down, so a new
// logical socket needs a new adapter instance.
func (c *Client) attemptConnect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.connectionTimeout())
	defer cancel()

	adapter, err := c.buildAdapter(connectCtx)
	if err != nil {
		return err
	}
	if err := adapter.Connect(connectCtx); err != nil {
		return err
	}

	c.mu.Lock()
	c.adapter = adapter
	c.sessionAt = time.Now()
	c.mu.Unlock()

	c.state.Transition(connstate.Connected)
	c.heart.Start()
	c.Bus.Emit("open", map[string]any{"timestamp": time.Now()})
	c.q.Flush(c.deliverQueued)

	go c.consumeEvents(adapter)
	return nil
}

func (c *Client) connectionTimeout() time.Duration {
	if c.opts.ConnectionTimeout > 0 {
		return c.opts.ConnectionTimeout
	}
	return 10 * time.Second
}

// consumeEvents drains one adapter's event stream for the lifetime of
// that socket.
func (c *Client) consumeEvents(adapter transport.Adapter) {
	for evt := range adapter.Events() {
		switch evt.Kind {
		case transport.EventMessage:
			c.handleInbound(evt.Data)
		case transport.EventError:
			c.mon.RecordError(evt.Err.Error())
			c.Bus.Emit("error", map[string]any{"error": evt.Err, "timestamp": time.Now()})
		case transport.EventClose:
			c.handleClose(evt.Close)
		}
	}
}

func (c *Client) handleClose(info transport.CloseInfo) {
	wasConnected := c.state.Is(connstate.Connected)
	c.heart.Stop()
	c.acks.CancelAll()
	c.rpcs.CancelAll("connection lost")

	c.Bus.Emit("close", map[string]any{
		"code": info.Code, "reason": info.Reason, "wasClean": info.WasClean, "timestamp": time.Now(),
	})

	if wasConnected && !info.WasClean && c.opts.Reconnect.Enabled {
		c.state.Transition(connstate.Reconnecting)
		c.mon.RecordReconnect()
		c.reconn.Start(context.Background(), c.reconnectAttempt)
		return
	}

	// A close event that trails a locally-driven Disconnect (or a
	// reconnect already underway) has nothing left to settle; flipping
	// the state here would knock an in-progress retry loop back to
	// Disconnected.
	if st := c.state.State(); st == connstate.Connected || st == connstate.Disconnecting {
		c.state.Transition(connstate.Disconnected)
	}
}

// reconnectAttempt mirrors attemptConnect but drives the per-attempt
// Connecting transition the controller expects before each dial. A
// failed attempt settles at Disconnected (the only state Connecting
// may legally fall back to); the next attempt re-enters Connecting
// from there.
func (c *Client) reconnectAttempt(ctx context.Context) error {
	c.state.Transition(connstate.Connecting)
	if err := c.attemptConnect(ctx); err != nil {
		c.state.Transition(connstate.Disconnected)
		return err
	}
	return nil
}

func (c *Client) onReconnectAttempt(attempt, maxAttempts int, delay time.Duration) {
	c.Bus.Emit("reconnecting", map[string]any{
		"attempt": attempt, "maxAttempts": maxAttempts, "delay": delay, "timestamp": time.Now(),
	})
}

func (c *Client) onReconnectSuccess(attempts int, duration time.Duration) {
	c.Bus.Emit("reconnected", map[string]any{"attempts": attempts, "duration": duration, "timestamp": time.Now()})
}

func (c *Client) onReconnectFailure(attempts int, reason error) {
	c.state.Transition(connstate.Disconnected)
	c.Bus.Emit("reconnect-failed", map[string]any{"attempts": attempts, "reason": reason.Error(), "timestamp": time.Now()})
}

func (c *Client) onHeartbeatTimeout() {
	c.Disconnect(4001, "heartbeat timeout")
	if c.opts.Reconnect.Enabled {
		c.state.Transition(connstate.Reconnecting)
		c.mon.RecordReconnect()
		c.reconn.Start(context.Background(), c.reconnectAttempt)
	}
}

// Disconnect stops heartbeat, cancels reconnect, and closes the
// adapter. The state settles at Disconnected; no error is surfaced.
func (c *Client) Disconnect(code int, reason string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	adapter := c.adapter
	c.mu.Unlock()

	c.heart.Stop()
	c.reconn.Cancel()

	if c.state.State() == connstate.Connected {
		c.state.Transition(connstate.Disconnecting)
	}
	if adapter != nil {
		adapter.Disconnect(code, reason)
	}
	c.state.Transition(connstate.Disconnected)
}

// deliverQueued is the Queue's SendFunc: it writes a previously
// buffered item straight to the adapter, bypassing re-enqueue.
func (c *Client) deliverQueued(item *queue.Item) error {
	return c.rawSend(item.Payload)
}

// rawSend runs payload through the send chain and codec, then writes
// it to the adapter if open. It is the common tail every outbound
// path (Send, heartbeat probes, ACK retries, RPC requests, queue
// flush) converges on.
func (c *Client) rawSend(payload any) error {
	mc := &middleware.Context{Data: payload, Timestamp: time.Now().UnixMilli()}
	err := c.mw.ExecuteSend(context.Background(), mc, func(context.Context, *middleware.Context) error {
		return nil
	})
	if err != nil {
		return err
	}
	if mc.ShouldSkip {
		return nil
	}

	text, err := c.codec.Encode(mc.Data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()
	if adapter == nil || adapter.State() != transport.StateOpen {
		return errs.New(errs.State, "client.send", fmt.Errorf("adapter not open"))
	}
	if err := adapter.Send(text); err != nil {
		return err
	}
	c.mon.RecordSent()
	c.mon.SetQueueUsage(queueUsage(c.q, c.opts.Queue.MaxSize))
	return nil
}

// queueUsage approximates the queue's fill ratio against its
// configured capacity, feeding the monitor's quality score.
func queueUsage(q *queue.Queue, capacity int) float64 {
	if capacity <= 0 {
		capacity = 1000
	}
	u := float64(q.GetStats().Total) / float64(capacity)
	if u > 1 {
		u = 1
	}
	return u
}

// Send runs payload through the outbound reliability policy. If
// connected, the send pipeline runs immediately; on failure (or when
// disconnected), the item is enqueued when the queue is enabled,
// otherwise the error is surfaced.
func (c *Client) Send(payload any, opts SendOptions) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errs.New(errs.State, "client.send", fmt.Errorf("client destroyed"))
	}
	c.mu.Unlock()

	if opts.Reliable {
		_, err := c.acks.Send(payload, opts.AckOpts, opts.OnAck, opts.OnTimeout)
		return err
	}

	if c.IsConnected() {
		err := c.rawSend(payload)
		if err == nil {
			return nil
		}
		if c.opts.Queue.Enabled && !opts.NoQueueFallback {
			_, qerr := c.q.Enqueue(payload, opts.Priority)
			return qerr
		}
		return err
	}

	if c.opts.Queue.Enabled {
		_, err := c.q.Enqueue(payload, opts.Priority)
		return err
	}
	return errs.New(errs.State, "client.send", fmt.Errorf("not connected"))
}

// SendBinary bypasses the queue and send pipeline; it requires an
// open connection.
func (c *Client) SendBinary(data []byte) error {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()
	if adapter == nil || adapter.State() != transport.StateOpen {
		return errs.New(errs.State, "client.sendBinary", fmt.Errorf("adapter not open"))
	}
	return adapter.SendBinary(data)
}

// NewBatchSender builds a batch sender whose flush wraps the
// coalesced array as a "batch" frame and delivers it through rawSend,
// so batched sends still pass through middleware and codec like any
// other outbound message. There is no queue fallback: a batch flushed
// while the adapter is not open is dropped. It is an opt-in utility:
// ordinary Send traffic bypasses it entirely.
func (c *Client) NewBatchSender(cfg batch.Config) *batch.Sender {
	return batch.New(cfg, func(messages []any) error {
		return c.rawSend(map[string]any{"type": "batch", "messages": messages})
	})
}

// Request issues an RPC-correlated request, delivered through the
// normal send path.
func (c *Client) Request(payload any, timeout time.Duration) (string, rpc.Completion) {
	return c.rpcs.Request(payload, timeout)
}

func (c *Client) sendRPCEnvelope(id string, payload any) error {
	return c.rawSend(map[string]any{"type": "rpc-request", "id": id, "payload": payload})
}

// sendReliableEnvelope attaches the tracker-assigned id to an outbound
// reliable payload so the peer can echo it back in its ack frame. Map
// payloads get the id set on a shallow copy (the caller's map is never
// mutated); anything else is wrapped the way RPC requests are.
func (c *Client) sendReliableEnvelope(id string, payload any) error {
	if m, ok := payload.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["id"] = id
		return c.rawSend(out)
	}
	return c.rawSend(map[string]any{"id": id, "payload": payload})
}

// handleInbound classifies one decoded frame: pong, ack, rpc response,
// or otherwise routed + emitted as "message".
func (c *Client) handleInbound(raw any) {
	c.mon.RecordReceived()

	decoded, err := c.codec.Decode(toEnvelopeString(raw))
	if err != nil {
		c.Bus.Emit("error", map[string]any{"error": err, "timestamp": time.Now()})
		return
	}

	if c.heart.IsPong(decoded) {
		c.heart.HandlePong()
		return
	}

	m, ok := decoded.(map[string]any)
	if ok {
		if t, _ := m["type"].(string); t == "ack" {
			if id, ok := m["id"].(string); ok {
				c.acks.Ack(id, m["ackData"])
				return
			}
		}
		if t, _ := m["type"].(string); t == "rpc-response" {
			if id, ok := m["id"].(string); ok {
				if errMsg, isErr := m["error"]; isErr && errMsg != nil {
					c.rpcs.Reject(id, fmt.Errorf("%v", errMsg))
				} else {
					c.rpcs.Resolve(id, m["payload"])
				}
				return
			}
		}
	}

	if c.dedup.IsDuplicate(decoded) {
		return
	}
	c.dedup.MarkProcessed(decoded)

	mc := &middleware.Context{Data: decoded, Timestamp: time.Now().UnixMilli()}
	if t, _ := m["type"].(string); t != "" {
		mc.Type = t
	}
	if id, _ := m["id"].(string); id != "" {
		mc.ID = id
	}
	if err := c.mw.ExecuteReceive(context.Background(), mc); err != nil {
		c.Bus.Emit("error", map[string]any{"error": err, "timestamp": time.Now()})
		return
	}
	if mc.ShouldSkip {
		return
	}

	var channel string
	if m != nil {
		channel, _ = m["channel"].(string)
	}
	c.Router.Route(router.Message{Type: mc.Type, Channel: channel, Data: mc.Data})
	c.Bus.Emit("message", map[string]any{"data": mc.Data, "timestamp": time.Now()})
}

// toEnvelopeString normalizes an inbound event payload back into the
// raw text the codec chain expects: the transport adapter already
// best-effort JSON-decodes text frames into a generic value, so a
// non-string payload is re-marshaled before Decode re-parses it as the
// codec envelope.
func toEnvelopeString(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}

// On registers handler for one of the public events ("open", "close",
// "error", "message", "reconnecting", "reconnected",
// "reconnect-failed", "ping", "pong", "state-change").
func (c *Client) On(event string, handler bus.Handler) { c.Bus.On(event, handler) }

// Once registers handler to fire at most once.
func (c *Client) Once(event string, handler bus.Handler) { c.Bus.Once(event, handler) }

// Off removes handler from event; a nil handler removes every handler
// registered for it.
func (c *Client) Off(event string, handler bus.Handler) { c.Bus.Off(event, handler) }

// ClearQueue drops every buffered outbound item.
func (c *Client) ClearQueue() { c.q.Clear() }

// ConfigUpdate carries a partial reconfiguration: nil fields are left
// untouched. Updates suspend the affected controllers: UpdateConfig
// restarts the heartbeat itself when the client is connected (otherwise
// the next successful connect starts it), while a cancelled reconnect
// loop resumes only when a later unclean close, heartbeat timeout, or
// failed Connect starts it again.
type ConfigUpdate struct {
	Reconnect *reconnect.Config
	Heartbeat *heartbeat.Config
	Queue     *queue.Config
}

// UpdateConfig applies a ConfigUpdate snapshot. It is the target of
// config/Loader.Watch's reload callback: a reload produces a fresh
// snapshot pushed through here rather than mutating subsystems in
// place.
func (c *Client) UpdateConfig(u ConfigUpdate) {
	if u.Reconnect != nil {
		c.reconn.UpdateConfig(*u.Reconnect)
	}
	if u.Heartbeat != nil {
		c.heart.UpdateConfig(*u.Heartbeat)
		if c.IsConnected() {
			c.heart.Start()
		}
	}
	if u.Queue != nil {
		c.q.UpdateConfig(*u.Queue)
	}
}

// Destroy is idempotent; after it, all further operations fail fast
// with a State error. Subsystem teardown runs concurrently and joins.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	adapter := c.adapter
	c.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { c.heart.Stop(); return nil })
	g.Go(func() error { c.reconn.Cancel(); return nil })
	g.Go(func() error { c.acks.CancelAll(); return nil })
	g.Go(func() error { c.rpcs.CancelAll("client destroyed"); return nil })
	g.Go(func() error { c.dedup.Stop(); return nil })
	g.Go(func() error { c.q.Clear(); return nil })
	_ = g.Wait()

	if adapter != nil {
		adapter.Disconnect(1000, "destroy")
	}
	c.state.Transition(connstate.Destroyed)
	_ = c.Bus.Close()
}
