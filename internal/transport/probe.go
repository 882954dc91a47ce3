package transport

import (
	"context"
	"log/slog"
)

// Variant selects which Adapter implementation to build.
type Variant string

const (
	VariantNative   Variant = "native"
	VariantSocketIO Variant = "socketio"
	// VariantAuto asks Probe to pick the lowest-overhead adapter that
	// can reach cfg.URL.
	VariantAuto Variant = ""
)

// Build constructs the Adapter for variant, or probes for one when
// variant is VariantAuto.
func Build(ctx context.Context, variant Variant, cfg Config, logger *slog.Logger) Adapter {
	switch variant {
	case VariantNative:
		return NewNative(cfg)
	case VariantSocketIO:
		return NewSocketIO(cfg)
	default:
		return Probe(ctx, cfg, logger)
	}
}

// Probe prefers Native (the lowest-overhead option: a single round
// trip, no engine.io negotiation): it connects a Native adapter and,
// on success, returns it already open. Any Native connect failure,
// whatever its cause, falls back to an unconnected SocketIO-like
// adapter.
func Probe(ctx context.Context, cfg Config, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	native := NewNative(cfg)
	if err := native.Connect(probeCtx); err == nil {
		logger.Debug("transport: probe selected native adapter", slog.String("url", cfg.URL))
		return native
	}

	logger.Debug("transport: probe falling back to socketio-like adapter",
		slog.String("url", cfg.URL))
	return NewSocketIO(cfg)
}
