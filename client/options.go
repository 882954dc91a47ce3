// Package client composes the runtime's subsystems — event bus, state
// machine, reconnect, heartbeat, queue, middleware, codec, ACK, RPC,
// router, dedup, monitor — into the single public surface. It is the
// composition root: every subsystem instance and the transport Adapter
// are owned exclusively here and wired by direct constructor calls,
// with no DI-container dependency in the library itself.
package client

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/webitel/ws-client-runtime/internal/ack"
	"github.com/webitel/ws-client-runtime/internal/codec"
	"github.com/webitel/ws-client-runtime/internal/dedup"
	"github.com/webitel/ws-client-runtime/internal/heartbeat"
	"github.com/webitel/ws-client-runtime/internal/idgen"
	"github.com/webitel/ws-client-runtime/internal/monitor"
	"github.com/webitel/ws-client-runtime/internal/persistence"
	"github.com/webitel/ws-client-runtime/internal/queue"
	"github.com/webitel/ws-client-runtime/internal/reconnect"
	"github.com/webitel/ws-client-runtime/internal/rpc"
	"github.com/webitel/ws-client-runtime/internal/transport"
)

// Options configures a Client at construction. Construction never
// opens a socket; Connect does.
type Options struct {
	URL               string
	Protocols         []string
	Headers           map[string][]string
	Adapter           transport.Variant
	ConnectionTimeout time.Duration

	Reconnect reconnect.Config
	Heartbeat heartbeat.Config
	Queue     queue.Config
	Codec     codec.Config
	ACK       ack.Config
	RPC       rpc.Config
	Dedup     dedup.Config
	Monitor   monitor.Config

	IDStrategy idgen.Strategy
	Store      persistence.Store
	Logger     *slog.Logger
	Meter      metric.Meter
	Debug      bool

	// MaxListeners overrides the Event Bus's default per-event warning
	// threshold when non-zero.
	MaxListeners int
}

func (o Options) transportConfig() transport.Config {
	return transport.Config{
		URL:               o.URL,
		Protocols:         o.Protocols,
		Headers:           o.Headers,
		ConnectionTimeout: o.ConnectionTimeout,
	}
}

// SendOptions configures a single Send call.
type SendOptions struct {
	Priority queue.Priority
	// Reliable routes the send through the ACK Tracker: onAck/onTimeout
	// observe delivery, and AckOpts governs retry/timeout.
	Reliable  bool
	AckOpts   ack.Options
	OnAck     func(ackData any)
	OnTimeout func(err error)

	// NoQueueFallback forces a send failure to be rethrown even when
	// the queue is enabled, instead of being absorbed by enqueueing the
	// payload for later flush. Default false: a connected-but-failing
	// send is queued and the error suppressed, unless the caller opts
	// out per call.
	NoQueueFallback bool
}
