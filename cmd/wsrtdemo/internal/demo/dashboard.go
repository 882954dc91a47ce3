package demo

import (
	"fmt"
	"log/slog"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/webitel/ws-client-runtime/client"
	"github.com/webitel/ws-client-runtime/internal/monitor"
)

// formatReport renders a Report snapshot for the dashboard body; the
// full text form lives on *monitor.Monitor.GenerateReport, but the
// Client only exposes the immutable Report value, so the demo keeps
// its own compact rendering of the same fields.
func formatReport(r monitor.Report) string {
	return fmt.Sprintf(
		"sent: %d (%.1f/s)\nreceived: %d (%.1f/s)\nerrors: %d (%.1f%%)\n\nlatency: cur=%s avg=%s p95=%s p99=%s\n\nreconnects: %d\nqueue usage: %.0f%%\n\nquality score: %d/100",
		r.SentTotal, r.SentPerSecond,
		r.ReceivedTotal, r.ReceivedPerSecond,
		r.ErrorTotal, r.ErrorRate*100,
		r.Latency.Current, r.Latency.Avg, r.Latency.P95, r.Latency.P99,
		r.ReconnectCount, r.QueueUsage*100,
		r.QualityScore,
	)
}

// runDashboard renders a live termui view of the client's state and
// Performance Monitor snapshot, refreshed on a tick and on every
// state-change/open/close event. It runs for the lifetime of the
// process; 'q' or Ctrl-C exits the dashboard only (the fx lifecycle
// owns actual process shutdown).
func runDashboard(c *client.Client) {
	if err := ui.Init(); err != nil {
		return
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = "wsrtdemo"
	header.SetRect(0, 0, 70, 3)

	body := widgets.NewParagraph()
	body.Title = "session"
	body.SetRect(0, 3, 70, 18)

	render := func() {
		header.Text = fmt.Sprintf("state: %s   queue: %d", c.State(), c.QueueSize())
		body.Text = formatReport(c.Metrics())
		ui.Render(header, body)
	}
	render()

	c.Bus.On("state-change", func(any) { render() })
	c.Bus.On("open", func(any) { render() })
	c.Bus.On("close", func(any) { render() })

	tick := time.NewTicker(time.Second).C
	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return
			}
		case <-tick:
			render()
		}
	}
}

// logEvents is the headless (--no-tui) alternative to the dashboard:
// it subscribes to the full public event surface and writes one log
// line per event, useful when driving the demo from a script or CI.
func logEvents(c *client.Client, logger *slog.Logger) {
	for _, name := range []string{
		"open", "close", "error", "message",
		"reconnecting", "reconnected", "reconnect-failed",
		"ping", "pong", "state-change",
	} {
		evName := name
		c.Bus.On(evName, func(data any) {
			logger.Info("event", "name", evName, "data", data)
		})
	}
	select {}
}
