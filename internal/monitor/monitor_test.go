package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalsAndRates(t *testing.T) {
	m := New(Config{WindowSize: time.Second}, nil)
	m.RecordSent()
	m.RecordSent()
	m.RecordReceived()

	r := m.Snapshot()
	assert.Equal(t, 2, r.SentTotal)
	assert.Equal(t, 1, r.ReceivedTotal)
}

func TestLatencyPercentiles(t *testing.T) {
	m := New(Config{WindowSize: time.Minute}, nil)
	for i := 1; i <= 100; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}
	r := m.Snapshot()
	assert.Equal(t, 100*time.Millisecond, r.Latency.Max)
	assert.Equal(t, 1*time.Millisecond, r.Latency.Min)
	assert.Equal(t, 95*time.Millisecond, r.Latency.P95)
	assert.Equal(t, 99*time.Millisecond, r.Latency.P99)
}

func TestErrorRate(t *testing.T) {
	m := New(Config{WindowSize: time.Minute}, nil)
	m.RecordSent()
	m.RecordSent()
	m.RecordReceived()
	m.RecordError("boom")

	r := m.Snapshot()
	assert.InDelta(t, 1.0/3.0, r.ErrorRate, 0.001)
}

func TestQualityScoreDegradesUnderPressure(t *testing.T) {
	healthy := qualityScore(10*time.Millisecond, 0, 0, 0.1)
	assert.Equal(t, 100, healthy)

	degraded := qualityScore(3*time.Second, 0.3, 20, 0.95)
	assert.Less(t, degraded, healthy)
	assert.GreaterOrEqual(t, degraded, 0)
}

func TestGenerateReportIsMultiLine(t *testing.T) {
	m := New(Config{WindowSize: time.Minute}, nil)
	m.RecordSent()
	report := m.GenerateReport()
	require.Contains(t, report, "Connection Quality")
	require.Contains(t, report, "Latency")
}

func TestWindowTrimsOldSamplesFromRatesNotTotals(t *testing.T) {
	m := New(Config{WindowSize: 30 * time.Millisecond}, nil)
	m.RecordSent()
	time.Sleep(100 * time.Millisecond)
	m.RecordSent()

	r := m.Snapshot()
	assert.Equal(t, 2, r.SentTotal)
	assert.LessOrEqual(t, r.SentPerSecond, float64(2)/0.03+1)
}
