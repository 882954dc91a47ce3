// Package rpc implements a request/response correlator: a correlation
// id ties an outbound request to its eventual inbound response, with
// timeout and bulk-cancellation paths for session loss.
package rpc

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/ws-client-runtime/errs"
)

// Completion is the channel a caller of Request receives; exactly one
// value is ever sent before it is closed.
type Completion chan Result

// Result carries either a successful response payload or an error.
type Result struct {
	Value any
	Err   error
}

type pendingRPC struct {
	id         string
	completion Completion
	timer      *time.Timer
}

// SendFunc transmits the envelope carrying payload and the assigned
// correlation id through the runtime's normal outbound path.
type SendFunc func(id string, payload any) error

// Config governs the correlator's defaults.
type Config struct {
	DefaultTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	return c
}

// Correlator owns the pending-request set.
type Correlator struct {
	cfg     Config
	send    SendFunc
	mu      sync.Mutex
	pending map[string]*pendingRPC
}

// New builds a Correlator. send is invoked once, synchronously, by
// Request to transmit the envelope.
func New(cfg Config, send SendFunc) *Correlator {
	return &Correlator{cfg: cfg.normalized(), send: send, pending: make(map[string]*pendingRPC)}
}

// Request assigns a correlation id, arms a timeout timer, sends the
// request, and returns the id and a Completion the caller receives its
// eventual result on. A send failure rejects and closes the
// Completion immediately.
func (c *Correlator) Request(payload any, timeout time.Duration) (id string, completion Completion) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	id = uuid.New().String()
	completion = make(Completion, 1)

	p := &pendingRPC{id: id, completion: completion}

	c.mu.Lock()
	p.timer = time.AfterFunc(timeout, func() { c.reject(id, errs.New(errs.Timeout, "rpc.wait", nil)) })
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.send(id, payload); err != nil {
		c.reject(id, errs.New(errs.Connection, "rpc.request", err))
	}
	return id, completion
}

// Resolve completes the pending request matching id with a successful
// value. A response for an unknown or already-settled id is ignored.
func (c *Correlator) Resolve(id string, value any) {
	c.complete(id, Result{Value: value})
}

// Reject completes the pending request matching id with err, as
// reported by an error-shaped response payload.
func (c *Correlator) Reject(id string, err error) {
	c.complete(id, Result{Err: err})
}

func (c *Correlator) complete(id string, result Result) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(c.pending, id)
	c.mu.Unlock()

	p.completion <- result
	close(p.completion)
}

func (c *Correlator) reject(id string, err error) {
	c.complete(id, Result{Err: err})
}

// Cancel rejects the pending request matching id with a generic
// cancellation error carrying reason.
func (c *Correlator) Cancel(id string, reason string) {
	c.reject(id, errs.New(errs.Protocol, "rpc.cancel", errReason(reason)))
}

// CancelAll rejects every pending request with the same reason,
// called on session loss.
func (c *Correlator) CancelAll(reason string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.reject(id, errs.New(errs.Connection, "rpc.cancelAll", errReason(reason)))
	}
}

// Pending reports the current outstanding request count.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type reasonError string

func (e reasonError) Error() string { return string(e) }

func errReason(reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	return reasonError(reason)
}
