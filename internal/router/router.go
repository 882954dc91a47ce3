// Package router implements dot-segment pattern routing and
// channel-subscription gating for inbound messages. Route entries are
// kept sorted by descending priority with a hand-built segment matcher
// rather than a prefix trie; the table stays small enough that a
// linear scan beats trie upkeep.
package router

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handler processes a routed message. Returning an error isolates the
// failure: subsequent matching handlers still run.
type Handler func(msg Message) error

// Message is the minimal shape the router classifies on.
type Message struct {
	Type    string
	Channel string
	Data    any
}

type routeEntry struct {
	pattern  string
	segments []string
	handler  Handler
	priority int
	once     bool
	seq      int // tie-break for stable ordering among equal priorities
}

// Router dispatches inbound messages to pattern-matched handlers.
type Router struct {
	logger *slog.Logger

	mu             sync.Mutex
	routes         []*routeEntry
	seq            int
	defaultHandler Handler
	subscribed     map[string]bool
}

// New builds an empty Router. No channel starts subscribed: a message
// carrying a channel is routed only after Subscribe(channel), while a
// message without one is always routed. logger may be nil.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, subscribed: make(map[string]bool)}
}

// On registers handler for pattern at priority (higher runs first).
// Returns an id usable with Off.
func (r *Router) On(pattern string, priority int, handler Handler) int {
	return r.add(pattern, priority, false, handler)
}

// Once registers a handler that self-removes after its first
// invocation, whether or not it returned an error.
func (r *Router) Once(pattern string, priority int, handler Handler) int {
	return r.add(pattern, priority, true, handler)
}

func (r *Router) add(pattern string, priority int, once bool, handler Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e := &routeEntry{
		pattern:  pattern,
		segments: strings.Split(pattern, "."),
		handler:  handler,
		priority: priority,
		once:     once,
		seq:      r.seq,
	}
	r.routes = append(r.routes, e)
	sort.SliceStable(r.routes, func(i, j int) bool {
		if r.routes[i].priority != r.routes[j].priority {
			return r.routes[i].priority > r.routes[j].priority
		}
		return r.routes[i].seq < r.routes[j].seq
	})
	return e.seq
}

// Off removes the route registered under id.
func (r *Router) Off(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.routes {
		if e.seq == id {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
}

// SetDefault registers the handler invoked when no route matches.
func (r *Router) SetDefault(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
}

// Subscribe marks channel as subscribed, allowing routing of messages
// carrying it. An empty channel is always considered subscribed.
func (r *Router) Subscribe(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed[channel] = true
}

// Unsubscribe removes channel from the subscribed set.
func (r *Router) Unsubscribe(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribed, channel)
}

// Route classifies msg and dispatches it to every matching route in
// priority order. It reports whether any route matched, so the
// caller can invoke a fallback "message" event regardless. A message
// whose channel is set but not subscribed is dropped from routing
// entirely; not even the default handler fires.
func (r *Router) Route(msg Message) (matched bool) {
	r.mu.Lock()
	if msg.Channel != "" && !r.subscribed[msg.Channel] {
		r.mu.Unlock()
		return false
	}

	msgSegments := strings.Split(msg.Type, ".")
	var fire []*routeEntry
	var onceIDs []int
	for _, e := range r.routes {
		if matchSegments(e.segments, msgSegments) {
			fire = append(fire, e)
			if e.once {
				onceIDs = append(onceIDs, e.seq)
			}
		}
	}
	for _, id := range onceIDs {
		for i, e := range r.routes {
			if e.seq == id {
				r.routes = append(r.routes[:i], r.routes[i+1:]...)
				break
			}
		}
	}
	def := r.defaultHandler
	r.mu.Unlock()

	if len(fire) == 0 {
		if def != nil {
			r.invoke(def, msg)
		}
		return false
	}

	for _, e := range fire {
		r.invoke(e.handler, msg)
	}
	return true
}

// invoke isolates one handler: a returned error is dropped and a panic
// is recovered and logged, so subsequent handlers (and the caller's
// read loop) always keep running.
func (r *Router) invoke(h Handler, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router: handler panicked",
				slog.String("type", msg.Type), slog.Any("panic", rec))
		}
	}()
	_ = h(msg)
}

// matchSegments reports whether pattern (already split) matches msg's
// type segments. "*" matches exactly one segment; "**" matches zero
// or more remaining segments, anywhere in the pattern.
func matchSegments(pattern, msg []string) bool {
	return matchFrom(pattern, msg, 0, 0)
}

func matchFrom(pattern, msg []string, pi, mi int) bool {
	for pi < len(pattern) {
		seg := pattern[pi]
		switch {
		case seg == "**":
			if pi == len(pattern)-1 {
				return true
			}
			for k := mi; k <= len(msg); k++ {
				if matchFrom(pattern, msg, pi+1, k) {
					return true
				}
			}
			return false
		case seg == "*":
			if mi >= len(msg) {
				return false
			}
			pi++
			mi++
		default:
			if mi >= len(msg) || msg[mi] != seg {
				return false
			}
			pi++
			mi++
		}
	}
	return mi == len(msg)
}
