// Package monitor implements windowed throughput/latency/error
// tracking and quality scoring for a live session. OpenTelemetry
// counters/histograms shadow the in-memory samples so an exporter can
// be attached without touching the hot path, and an optional
// chi-mounted debug surface exposes the report forms over HTTP.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// noctx supplies a background context for instrument recording calls
// on hot paths that have none readily at hand.
func noctx() context.Context { return context.Background() }

const maxErrorRing = 256

// Config bounds the sample windows.
type Config struct {
	WindowSize        time.Duration
	MaxLatencySamples int
}

func (c Config) normalized() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 60 * time.Second
	}
	if c.MaxLatencySamples <= 0 {
		c.MaxLatencySamples = 256
	}
	return c
}

// Latency summarizes the retained latency samples.
type Latency struct {
	Current, Avg, Min, Max time.Duration
	P95, P99               time.Duration
}

// Report is the snapshot generateReport renders.
type Report struct {
	SentTotal, ReceivedTotal, ErrorTotal int
	SentPerSecond, ReceivedPerSecond     float64
	Latency                              Latency
	ErrorRate                            float64
	QueueUsage                           float64
	ReconnectCount                       int
	QualityScore                         int
}

// Monitor accumulates observability samples and derives a quality
// score. Built without a meter, its otel instruments stay nil and every
// record call skips them.
type Monitor struct {
	cfg Config

	mu         sync.Mutex
	sent       []time.Time
	received   []time.Time
	latencies  []time.Duration
	errors     []errorEntry
	sentTotal  int
	recvTotal  int
	errTotal   int
	reconnects int
	queueUsage float64 // 0..1, set by the caller from current/max queue depth

	sentCounter metric.Int64Counter
	recvCounter metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

type errorEntry struct {
	at  time.Time
	msg string
}

// New builds a Monitor. meter may be nil, in which case no otel
// instruments are registered and recording is metrics-free.
func New(cfg Config, meter metric.Meter) *Monitor {
	m := &Monitor{cfg: cfg.normalized()}
	if meter != nil {
		m.sentCounter, _ = meter.Int64Counter("ws_client_messages_sent_total")
		m.recvCounter, _ = meter.Int64Counter("ws_client_messages_received_total")
		m.errCounter, _ = meter.Int64Counter("ws_client_errors_total")
		m.latencyHist, _ = meter.Float64Histogram("ws_client_latency_ms")
	}
	return m
}

// RecordSent records an outbound message at now.
func (m *Monitor) RecordSent() {
	now := time.Now()
	m.mu.Lock()
	m.sent = append(m.sent, now)
	m.sentTotal++
	m.trimLocked()
	m.mu.Unlock()
	if m.sentCounter != nil {
		m.sentCounter.Add(noctx(), 1)
	}
}

// RecordReceived records an inbound message at now.
func (m *Monitor) RecordReceived() {
	now := time.Now()
	m.mu.Lock()
	m.received = append(m.received, now)
	m.recvTotal++
	m.trimLocked()
	m.mu.Unlock()
	if m.recvCounter != nil {
		m.recvCounter.Add(noctx(), 1)
	}
}

// RecordLatency appends a round-trip sample, bounded to the last N
// (MaxLatencySamples) readings.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	if len(m.latencies) > m.cfg.MaxLatencySamples {
		m.latencies = m.latencies[len(m.latencies)-m.cfg.MaxLatencySamples:]
	}
	m.mu.Unlock()
	if m.latencyHist != nil {
		m.latencyHist.Record(noctx(), float64(d.Milliseconds()))
	}
}

// RecordError appends msg to the bounded error ring.
func (m *Monitor) RecordError(msg string) {
	m.mu.Lock()
	m.errors = append(m.errors, errorEntry{at: time.Now(), msg: msg})
	if len(m.errors) > maxErrorRing {
		m.errors = m.errors[len(m.errors)-maxErrorRing:]
	}
	m.errTotal++
	m.mu.Unlock()
	if m.errCounter != nil {
		m.errCounter.Add(noctx(), 1)
	}
}

// RecordReconnect increments the cumulative reconnect count, an input
// to the quality score.
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

// SetQueueUsage records the current queue fill ratio (0..1), an input
// to the quality score.
func (m *Monitor) SetQueueUsage(ratio float64) {
	m.mu.Lock()
	m.queueUsage = ratio
	m.mu.Unlock()
}

// trimLocked drops sent/received timestamps outside the window. Must
// be called with m.mu held.
func (m *Monitor) trimLocked() {
	cutoff := time.Now().Add(-m.cfg.WindowSize)
	m.sent = trimBefore(m.sent, cutoff)
	m.received = trimBefore(m.received, cutoff)
}

func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return ts[i:]
}

// Snapshot computes the current Report.
func (m *Monitor) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	windowSecs := m.cfg.WindowSize.Seconds()
	r := Report{
		SentTotal:         m.sentTotal,
		ReceivedTotal:     m.recvTotal,
		ErrorTotal:        m.errTotal,
		SentPerSecond:     float64(len(m.sent)) / windowSecs,
		ReceivedPerSecond: float64(len(m.received)) / windowSecs,
		QueueUsage:        m.queueUsage,
		ReconnectCount:    m.reconnects,
	}
	r.Latency = latencyStats(m.latencies)

	totalTraffic := m.sentTotal + m.recvTotal
	if totalTraffic > 0 {
		r.ErrorRate = float64(m.errTotal) / float64(totalTraffic)
	}
	r.QualityScore = qualityScore(r.Latency.Avg, r.ErrorRate, r.ReconnectCount, r.QueueUsage)
	return r
}

func latencyStats(samples []time.Duration) Latency {
	if len(samples) == 0 {
		return Latency{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}

	return Latency{
		Current: samples[len(samples)-1],
		Avg:     sum / time.Duration(len(sorted)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// qualityScore starts at 100 and deducts by thresholded bands:
// interactive latency budgets, error rates tracking common SLO tiers,
// and queue/reconnect pressure as secondary health signals.
func qualityScore(avgLatency time.Duration, errorRate float64, reconnects int, queueUsage float64) int {
	score := 100

	switch {
	case avgLatency > 2*time.Second:
		score -= 40
	case avgLatency > 1*time.Second:
		score -= 25
	case avgLatency > 300*time.Millisecond:
		score -= 10
	}

	switch {
	case errorRate > 0.2:
		score -= 30
	case errorRate > 0.05:
		score -= 15
	case errorRate > 0.01:
		score -= 5
	}

	switch {
	case reconnects > 10:
		score -= 20
	case reconnects > 3:
		score -= 10
	case reconnects > 0:
		score -= 3
	}

	switch {
	case queueUsage > 0.9:
		score -= 15
	case queueUsage > 0.6:
		score -= 8
	}

	if score < 0 {
		score = 0
	}
	return score
}

// GenerateReport renders a human-readable multi-line summary.
func (m *Monitor) GenerateReport() string {
	r := m.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Connection Quality: %d/100\n", r.QualityScore)
	fmt.Fprintf(&b, "Sent: %d (%.2f/s)  Received: %d (%.2f/s)\n", r.SentTotal, r.SentPerSecond, r.ReceivedTotal, r.ReceivedPerSecond)
	fmt.Fprintf(&b, "Latency: current=%s avg=%s min=%s max=%s p95=%s p99=%s\n",
		r.Latency.Current, r.Latency.Avg, r.Latency.Min, r.Latency.Max, r.Latency.P95, r.Latency.P99)
	fmt.Fprintf(&b, "Error rate: %.4f (%d errors)\n", r.ErrorRate, r.ErrorTotal)
	fmt.Fprintf(&b, "Queue usage: %.1f%%  Reconnects: %d\n", r.QueueUsage*100, r.ReconnectCount)
	return b.String()
}
