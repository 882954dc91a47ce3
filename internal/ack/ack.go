// Package ack implements an at-least-once delivery tracker: each
// reliable send is assigned an id, armed with a single owned timer,
// and either acknowledged, retried, or timed out.
package ack

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/ws-client-runtime/errs"
	"github.com/webitel/ws-client-runtime/internal/idgen"
)

// Options configures a single reliable send.
type Options struct {
	Timeout time.Duration
	Retries int
}

func (o Options) normalized(def Config) Options {
	if o.Timeout <= 0 {
		o.Timeout = def.DefaultTimeout
	}
	return o
}

// Config governs the tracker's defaults and bounds.
type Config struct {
	DefaultTimeout time.Duration
	DefaultRetries int
	// MaxPending bounds the hot index's backing capacity. It is sized
	// generously (never expected to evict a live entry); an eviction
	// here would silently orphan a pending ACK, so it only protects
	// against runaway growth if a caller leaks sends without ever
	// receiving ACKs or timeouts.
	MaxPending int
}

func (c Config) normalized() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 100000
	}
	return c
}

// pendingAck is one outstanding reliable send.
type pendingAck struct {
	id         string
	payload    any
	options    Options
	enqueuedAt time.Time
	retries    int
	onAck      func(ackData any)
	onTimeout  func(err error)
	timer      *time.Timer
}

// SendFunc transmits (and re-transmits on retry) a reliable payload
// through the runtime's normal send path. The tracker-assigned id is
// passed alongside so the caller can attach it to the wire frame; the
// peer must echo it back in its ack for the entry to ever settle.
type SendFunc func(id string, payload any) error

// Stats summarizes the tracker's current pending set.
type Stats struct {
	Pending      int
	TotalRetries int
	OldestAge    time.Duration
}

// Tracker owns the pending-ACK set.
type Tracker struct {
	cfg     Config
	send    SendFunc
	ids     idgen.Generator
	mu      sync.Mutex
	pending *lru.Cache[string, *pendingAck]
	retries int
}

// New builds a Tracker. send delivers (and re-delivers on retry) a
// payload through the runtime's normal outbound path.
func New(cfg Config, ids idgen.Generator, send SendFunc) *Tracker {
	cfg = cfg.normalized()
	cache, _ := lru.New[string, *pendingAck](cfg.MaxPending)
	return &Tracker{cfg: cfg, send: send, ids: ids, pending: cache}
}

// Send assigns an id, records a PendingAck, and arms the timeout
// timer. onAck is invoked (with the peer-supplied ack payload, if any)
// on a matching Ack call; onTimeout is invoked with a *Timeout error
// once retries are exhausted.
func (t *Tracker) Send(payload any, opts Options, onAck func(ackData any), onTimeout func(err error)) (string, error) {
	opts = opts.normalized(t.cfg)
	if opts.Retries == 0 {
		opts.Retries = t.cfg.DefaultRetries
	}

	id := t.ids.New()
	pa := &pendingAck{
		id:         id,
		payload:    payload,
		options:    opts,
		enqueuedAt: time.Now(),
		onAck:      onAck,
		onTimeout:  onTimeout,
	}

	t.mu.Lock()
	pa.timer = time.AfterFunc(opts.Timeout, func() { t.fire(id) })
	t.pending.Add(id, pa)
	t.mu.Unlock()

	if err := t.send(id, payload); err != nil {
		t.Cancel(id)
		return "", errs.New(errs.Connection, "ack.send", err)
	}
	return id, nil
}

// fire handles a timer expiration: retry if budget remains, otherwise
// remove the entry and invoke onTimeout.
func (t *Tracker) fire(id string) {
	t.mu.Lock()
	pa, ok := t.pending.Peek(id)
	if !ok {
		t.mu.Unlock()
		return
	}

	if pa.retries < pa.options.Retries {
		pa.retries++
		t.retries++
		pa.timer = time.AfterFunc(pa.options.Timeout, func() { t.fire(id) })
		t.mu.Unlock()
		_ = t.send(pa.id, pa.payload)
		return
	}

	t.pending.Remove(id)
	t.mu.Unlock()

	if pa.onTimeout != nil {
		pa.onTimeout(errs.New(errs.Timeout, "ack.wait", nil))
	}
}

// Ack reports receipt of the ACK matching id. ackData is the optional
// peer-supplied payload accompanying the ACK frame.
func (t *Tracker) Ack(id string, ackData any) {
	t.mu.Lock()
	pa, ok := t.pending.Peek(id)
	if !ok {
		t.mu.Unlock()
		return
	}
	pa.timer.Stop()
	t.pending.Remove(id)
	t.mu.Unlock()

	if pa.onAck != nil {
		pa.onAck(ackData)
	}
}

// Cancel removes the pending entry without invoking any callback.
func (t *Tracker) Cancel(id string) {
	t.mu.Lock()
	pa, ok := t.pending.Peek(id)
	if !ok {
		t.mu.Unlock()
		return
	}
	pa.timer.Stop()
	t.pending.Remove(id)
	t.mu.Unlock()
}

// CancelAll clears every pending entry without invoking callbacks,
// called on session loss.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.pending.Keys() {
		if pa, ok := t.pending.Peek(id); ok {
			pa.timer.Stop()
		}
	}
	t.pending.Purge()
}

// Stats reports the current pending count, cumulative retries issued,
// and the age of the oldest outstanding entry.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Pending: t.pending.Len(), TotalRetries: t.retries}
	if _, oldest, ok := t.pending.GetOldest(); ok {
		s.OldestAge = time.Since(oldest.enqueuedAt)
	}
	return s
}
