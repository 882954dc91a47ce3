// Package middleware implements onion-model send/receive interceptor
// chains. Execution runs through a single driver indexed by chain
// position, so cancellation via Context.ShouldSkip stays observable at
// every layer. Each layer's Next enters the following layer on the
// call stack, so stack depth grows with chain length.
package middleware

import "context"

// Direction distinguishes the send and receive chains.
type Direction string

const (
	Send    Direction = "send"
	Receive Direction = "receive"
)

// Context is the mutable envelope every middleware observes and may
// rewrite before calling Next.
type Context struct {
	Data      any
	Direction Direction
	Type      string
	ID        string
	Timestamp int64
	Meta      map[string]any
	// ShouldSkip, once set true by any middleware, stops the chain:
	// no further middleware and no terminal action run, and execute
	// returns normally.
	ShouldSkip bool
}

// Next invokes the remainder of the chain.
type Next func(ctx context.Context, mc *Context) error

// Middleware is a single onion layer: pre-work, then Next, then
// post-work on unwind.
type Middleware func(ctx context.Context, mc *Context, next Next) error

// Terminal is the action run after every middleware has had a chance
// to observe the context, unless ShouldSkip short-circuited first.
type Terminal func(ctx context.Context, mc *Context) error

// Pipeline holds two independent middleware chains.
type Pipeline struct {
	send    []Middleware
	receive []Middleware
}

// New builds an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Use registers mw on both the send and receive chains.
func (p *Pipeline) Use(mw Middleware) {
	p.send = append(p.send, mw)
	p.receive = append(p.receive, mw)
}

// UseSend registers mw on the send chain only.
func (p *Pipeline) UseSend(mw Middleware) { p.send = append(p.send, mw) }

// UseReceive registers mw on the receive chain only.
func (p *Pipeline) UseReceive(mw Middleware) { p.receive = append(p.receive, mw) }

// ExecuteSend runs the send chain, terminating (unless skipped) by
// invoking terminal — the codec+adapter send.
func (p *Pipeline) ExecuteSend(ctx context.Context, mc *Context, terminal Terminal) error {
	mc.Direction = Send
	return run(ctx, p.send, mc, terminal)
}

// ExecuteReceive runs the receive chain. The receive chain's terminal
// action is a no-op: the caller reads the final mc.Data.
func (p *Pipeline) ExecuteReceive(ctx context.Context, mc *Context) error {
	mc.Direction = Receive
	return run(ctx, p.receive, mc, func(context.Context, *Context) error { return nil })
}

// run drives the chain with a single closure indexed by position: each
// middleware's Next calls driver(i+1), so the call stack grows by one
// layer per middleware (O(len(chain)) depth). ShouldSkip is a simple
// check at the top of every step instead of a control-flow exception.
func run(ctx context.Context, chain []Middleware, mc *Context, terminal Terminal) error {
	var driver func(i int) error
	driver = func(i int) error {
		if mc.ShouldSkip {
			return nil
		}
		if i >= len(chain) {
			return terminal(ctx, mc)
		}
		return chain[i](ctx, mc, func(ctx context.Context, mc *Context) error {
			return driver(i + 1)
		})
	}
	return driver(0)
}
