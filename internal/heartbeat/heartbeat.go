// Package heartbeat implements the periodic liveness probe: a
// ticker-driven send of a configured probe payload, a pong-timeout
// timer armed per probe, and a bounded ring of observed round-trip
// samples.
package heartbeat

import (
	"sync"
	"time"
)

// Config governs the probe cycle; zero fields fall back to defaults.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	Message  any
	PongType string
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Message == nil {
		c.Message = map[string]any{"type": "ping"}
	}
	if c.PongType == "" {
		c.PongType = "pong"
	}
	return c
}

const maxLatencySamples = 64

// Controller owns the probe/pong cycle. At most one probe is in
// flight at a time: a tick that lands while the previous probe is
// still awaiting its pong is skipped, so the pending timeout always
// runs to resolution even when the interval is shorter than the
// timeout.
type Controller struct {
	cfg Config

	send func(payload any) error

	onProbe   func(payload any)
	onSample  func(rtt time.Duration)
	onTimeout func()

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	pongTimer *time.Timer
	sentAt    time.Time
	latencies []time.Duration
}

// Callbacks bundles the Facade hooks the controller invokes.
type Callbacks struct {
	// OnProbe fires every time a probe is sent, mapping to the "ping" event.
	OnProbe func(payload any)
	// OnSample fires on every pong received, mapping to the "pong" event.
	OnSample func(rtt time.Duration)
	// OnTimeout fires when a probe's pong never arrives within Timeout.
	OnTimeout func()
}

// New builds a Controller. send is the normal send path (so probes
// pass through the same middleware/codec machinery as any other
// outbound message).
func New(cfg Config, send func(payload any) error, cb Callbacks) *Controller {
	cfg = cfg.normalized()
	return &Controller{
		cfg:       cfg,
		send:      send,
		onProbe:   orNoop(cb.OnProbe),
		onSample:  orNoopSample(cb.OnSample),
		onTimeout: orNoopFunc(cb.OnTimeout),
	}
}

func orNoop(f func(any)) func(any) {
	if f != nil {
		return f
	}
	return func(any) {}
}
func orNoopSample(f func(time.Duration)) func(time.Duration) {
	if f != nil {
		return f
	}
	return func(time.Duration) {}
}
func orNoopFunc(f func()) func() {
	if f != nil {
		return f
	}
	return func() {}
}

// Start begins the periodic probe loop. Calling Start while already
// running is a no-op; configuration updates suspend the controller and
// require an explicit Start to resume.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	go c.loop(stop)
}

func (c *Controller) loop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.probe()
		}
	}
}

func (c *Controller) probe() {
	c.mu.Lock()
	if c.pongTimer != nil {
		c.mu.Unlock()
		return // previous probe still awaiting its pong; let its timeout fire
	}
	c.sentAt = time.Now()
	stopCh := c.stopCh
	c.pongTimer = time.AfterFunc(c.cfg.Timeout, func() {
		c.timeout(stopCh)
	})
	c.mu.Unlock()

	c.onProbe(c.cfg.Message)
	_ = c.send(c.cfg.Message)
}

func (c *Controller) timeout(owner chan struct{}) {
	c.mu.Lock()
	if c.stopCh != owner {
		c.mu.Unlock()
		return // superseded by a Stop/restart; ignore a stale timer fire
	}
	c.pongTimer = nil // consumed; the next tick may arm a fresh probe
	c.mu.Unlock()
	c.onTimeout()
}

// HandlePong reports a pong frame (identified by the caller matching
// its type field against cfg.PongType before calling in). It clears
// the outstanding timer and appends the observed round trip to the
// latency ring.
func (c *Controller) HandlePong() {
	c.mu.Lock()
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	rtt := time.Since(c.sentAt)
	c.latencies = append(c.latencies, rtt)
	if len(c.latencies) > maxLatencySamples {
		c.latencies = c.latencies[len(c.latencies)-maxLatencySamples:]
	}
	c.mu.Unlock()

	c.onSample(rtt)
}

// IsPong reports whether payload's type field matches the configured
// pong type.
func (c *Controller) IsPong(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	t, _ := m["type"].(string)
	return t == c.cfg.PongType
}

// LatencyMean returns the mean of the retained round-trip samples.
func (c *Controller) LatencyMean() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range c.latencies {
		total += l
	}
	return total / time.Duration(len(c.latencies))
}

// UpdateConfig replaces the controller's configuration. The update
// suspends the controller: if it was running, it is stopped and the
// caller must call Start again to resume probing under the new config.
func (c *Controller) UpdateConfig(cfg Config) {
	c.Stop()
	c.mu.Lock()
	c.cfg = cfg.normalized()
	c.mu.Unlock()
}

// Stop halts the probe loop and clears any outstanding pong timer.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.mu.Unlock()
}
