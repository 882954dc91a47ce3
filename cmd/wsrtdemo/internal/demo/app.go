// Package demo wraps the client facade in a small urfave/cli app: its
// single command connects to a configured endpoint and renders either
// a live termui dashboard of the runtime's metrics or a headless
// event log.
package demo

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/webitel/ws-client-runtime/config"
)

const (
	// AppName identifies the binary in logs, telemetry scope names,
	// and --version output.
	AppName = "wsrtdemo"
)

var (
	version    = "0.0.0"
	commit     = "hash"
	commitDate = time.Now().String()
	branch     = "branch"
)

// Run builds and executes the urfave/cli app. It is the demo binary's
// sole entrypoint, called from cmd/wsrtdemo/main.go.
func Run() error {
	app := &cli.App{
		Name:    AppName,
		Usage:   "Interactive driver for the WebSocket client runtime",
		Version: fmt.Sprintf("%s (%s, %s, %s)", version, commit, branch, commitDate),
		Commands: []*cli.Command{
			connectCmd(),
		},
	}
	return app.Run(os.Args)
}

func connectCmd() *cli.Command {
	return &cli.Command{
		Name:    "connect",
		Aliases: []string{"c"},
		Usage:   "Open a session against a WebSocket endpoint and render live metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "WebSocket endpoint (ws:// or wss://)", EnvVars: []string{"WSRT_URL"}},
			&cli.StringFlag{Name: "adapter", Usage: "native | socketio | (empty for auto-probe)"},
			&cli.StringFlag{Name: "config_file", Usage: "Path to a YAML/JSON/TOML config file"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable verbose diagnostic logging"},
			&cli.BoolFlag{Name: "no-tui", Usage: "Run headless: log events through the demo logger instead of the termui dashboard"},
			&cli.BoolFlag{Name: "otel-logs", Usage: "Route logs through the OpenTelemetry slog bridge instead of stderr"},
		},
		Action: func(c *cli.Context) error {
			fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
			fs.String("url", c.String("url"), "")
			fs.String("adapter", c.String("adapter"), "")
			fs.Bool("debug", c.Bool("debug"), "")

			loader, err := config.Load(c.String("config_file"), fs)
			if err != nil {
				return fmt.Errorf("wsrtdemo: load config: %w", err)
			}
			cfg := loader.Snapshot()
			if c.String("url") != "" {
				cfg.URL = c.String("url")
			}
			if cfg.URL == "" {
				return fmt.Errorf("wsrtdemo: --url (or WSRT_URL / config url) is required")
			}

			return runApp(c.Context, cfg, loader, !c.Bool("no-tui"), c.Bool("otel-logs"))
		},
	}
}
