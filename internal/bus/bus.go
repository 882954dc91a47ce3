// Package bus implements the typed publish/subscribe surface the rest
// of the runtime uses to emit lifecycle and data events ("open",
// "message", "state-change", ...). Delivery is in-process; the
// transport underneath is a watermill gochannel pub/sub, wired purely
// in-memory.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Handler receives the data payload emitted for an event.
type Handler func(data any)

type registration struct {
	id      string
	handler Handler
	once    bool
}

// Bus is a typed, in-process event emitter. The zero value is not
// usable; construct with New.
type Bus struct {
	mu           sync.Mutex
	handlers     map[string][]*registration
	maxListeners int
	warned       map[string]bool
	subscribed   map[string]bool

	pubsub *gochannel.GoChannel
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const defaultMaxListeners = 64

// New builds a Bus backed by an in-memory watermill gochannel.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		handlers:     make(map[string][]*registration),
		maxListeners: defaultMaxListeners,
		warned:       make(map[string]bool),
		subscribed:   make(map[string]bool),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			PreserveContext:     true,
		}, watermill.NewSlogLogger(logger)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	return b
}

// On registers handler for event, invoked in registration order on
// every Emit until removed with Off.
func (b *Bus) On(event string, handler Handler) {
	b.add(event, handler, false)
}

// Once registers handler to run at most once. The handler is detached
// before user code runs so a panic inside it still results in removal.
func (b *Bus) Once(event string, handler Handler) {
	b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg := &registration{id: watermill.NewUUID(), handler: handler, once: once}
	b.handlers[event] = append(b.handlers[event], reg)

	if n := len(b.handlers[event]); n > b.maxListeners && !b.warned[event] {
		b.warned[event] = true
		b.logger.Warn("event bus: listener count exceeds max",
			slog.String("event", event), slog.Int("count", n), slog.Int("max", b.maxListeners))
	}

	b.ensureSubscribed(event)
}

// ensureSubscribed lazily starts a consume loop for event the first
// time it gains a handler. Must be called with b.mu held.
func (b *Bus) ensureSubscribed(event string) {
	if b.subscribed[event] {
		return // already subscribed; the loop dispatches to the live handler set
	}

	messages, err := b.pubsub.Subscribe(b.ctx, event)
	if err != nil {
		b.logger.Error("event bus: subscribe failed", slog.String("event", event), slog.Any("error", err))
		return
	}

	b.subscribed[event] = true
	b.wg.Add(1)
	go b.consume(event, messages)
}

func (b *Bus) consume(event string, messages <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range messages {
		b.dispatch(event, payloadFromContext(msg.Context()))
		msg.Ack()
	}
}

// Off removes handler from event. If handler is nil, every handler for
// event is removed. When the handler set for event becomes empty, the
// event entry (and any warn-once state) is deleted.
func (b *Bus) Off(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handler == nil {
		delete(b.handlers, event)
		delete(b.warned, event)
		return
	}

	regs := b.handlers[event]
	target := fmt.Sprintf("%p", handler)
	out := regs[:0]
	for _, r := range regs {
		if fmt.Sprintf("%p", r.handler) != target {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		delete(b.handlers, event)
		delete(b.warned, event)
		return
	}
	b.handlers[event] = out
}

// RemoveAll clears every event's handlers.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]*registration)
	b.warned = make(map[string]bool)
}

// Emit publishes data to event. Handlers registered for event observe
// it in registration order; a handler that panics is recovered and
// logged, and delivery continues to the remaining handlers.
func (b *Bus) Emit(event string, data any) {
	// The payload travels in the message's context rather than its byte
	// Payload: gochannel delivers messages in-process without ever
	// serializing them, so carrying the Go value directly preserves its
	// concrete type across the publish/subscribe hop instead of paying
	// for (and losing fidelity to) a JSON round-trip nothing reads back.
	msg := message.NewMessage(watermill.NewUUID(), message.Payload(event))
	msg.SetContext(contextWithPayload(context.Background(), data))
	if err := b.pubsub.Publish(event, msg); err != nil {
		b.logger.Error("event bus: publish failed", slog.String("event", event), slog.Any("error", err))
	}
}

type payloadKey struct{}

func contextWithPayload(ctx context.Context, data any) context.Context {
	return context.WithValue(ctx, payloadKey{}, data)
}

func payloadFromContext(ctx context.Context) any {
	return ctx.Value(payloadKey{})
}

// dispatch runs the snapshot of handlers registered for event at call
// time. once handlers are detached from the live set before their
// user code executes, so concurrent re-registration during delivery
// never disturbs the in-flight emission.
func (b *Bus) dispatch(event string, data any) {
	b.mu.Lock()
	regs := b.handlers[event]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)

	var remaining []*registration
	for _, r := range regs {
		if !r.once {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		delete(b.handlers, event)
		delete(b.warned, event)
	} else {
		b.handlers[event] = remaining
	}
	b.mu.Unlock()

	for _, r := range snapshot {
		b.invoke(event, r, data)
	}
}

func (b *Bus) invoke(event string, r *registration, data any) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event bus: handler panicked",
				slog.String("event", event), slog.Any("panic", rec))
		}
	}()
	r.handler(data)
}

// ListenerCount returns the number of handlers currently registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// EventNames returns the set of events with at least one handler.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}

// HasListeners reports whether event has any handlers.
func (b *Bus) HasListeners(event string) bool {
	return b.ListenerCount(event) > 0
}

// SetMaxListeners configures the per-event threshold at which a single
// warning is logged.
func (b *Bus) SetMaxListeners(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxListeners = n
}

// Close stops the underlying pub/sub and releases consume goroutines.
func (b *Bus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
