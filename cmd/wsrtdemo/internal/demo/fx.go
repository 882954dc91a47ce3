package demo

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"

	"github.com/webitel/ws-client-runtime/client"
	"github.com/webitel/ws-client-runtime/config"
	"github.com/webitel/ws-client-runtime/internal/codec"
)

// runApp wires the demo's dependency graph with fx: a logger, a
// meter, the Client facade built from the loaded Config, a lifecycle
// hook that connects on start and destroys on stop, and either the
// termui dashboard or a headless event logger. fx stays confined to
// this binary; the client package itself is constructed directly,
// with no container dependency.
func runApp(ctx context.Context, cfg config.Config, loader *config.Loader, tui, otelLogs bool) error {
	app := fx.New(
		fx.Provide(
			func() config.Config { return cfg },
			func() *slog.Logger { return newLogger(cfg.Debug, otelLogs) },
			newMeter,
			newClient,
		),
		fx.Invoke(func(lc fx.Lifecycle, c *client.Client, logger *slog.Logger) {
			loader.Watch(func(fresh config.Config) {
				c.UpdateConfig(client.ConfigUpdate{
					Reconnect: &fresh.Reconnect,
					Heartbeat: &fresh.Heartbeat,
					Queue:     &fresh.Queue,
				})
			})
			lc.Append(fx.Hook{
				OnStart: func(startCtx context.Context) error {
					return c.Connect(startCtx)
				},
				OnStop: func(context.Context) error {
					c.Destroy()
					return nil
				},
			})
			if tui {
				lc.Append(fx.Hook{OnStart: func(context.Context) error {
					go runDashboard(c)
					return nil
				}})
			} else {
				lc.Append(fx.Hook{OnStart: func(context.Context) error {
					go logEvents(c, logger)
					return nil
				}})
			}
		}),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	<-app.Done()
	return app.Stop(context.Background())
}

// newLogger picks the demo's slog backend: the plain stderr text
// handler, or the otelslog bridge so log records flow to whatever
// OTel logger provider the host environment has registered globally.
func newLogger(debug, otelLogs bool) *slog.Logger {
	if otelLogs {
		return otelslog.NewLogger(AppName)
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newMeter stands up an SDK meter provider (no reader attached: the
// instruments stay cheap no-ops until an exporter is configured) and
// registers it globally so any OTel-aware dependency shares it.
func newMeter() metric.Meter {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(resource.Default()))
	otel.SetMeterProvider(provider)
	return provider.Meter(AppName)
}

func newClient(cfg config.Config, logger *slog.Logger, meter metric.Meter) (*client.Client, error) {
	return client.New(client.Options{
		URL:       cfg.URL,
		Protocols: cfg.Protocols,
		Adapter:   cfg.Adapter,
		Reconnect: cfg.Reconnect,
		Heartbeat: cfg.Heartbeat,
		Queue:     cfg.Queue,
		Codec: codec.Config{
			Encryption:  cfg.Encryption,
			Compression: cfg.Compression,
		},
		Logger: logger,
		Meter:  meter,
		Debug:  cfg.Debug,
	})
}
