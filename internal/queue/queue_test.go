package queue

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/ws-client-runtime/errs"
	"github.com/webitel/ws-client-runtime/internal/idgen"
	"github.com/webitel/ws-client-runtime/internal/persistence"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	return New(cfg, idgen.NewGenerator(idgen.StrategyUUID), nil, slog.Default())
}

func TestHigherBandDequeuesFirstRegardlessOfInsertionOrder(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})

	_, err := q.Enqueue("low", PriorityLow)
	require.NoError(t, err)
	_, err = q.Enqueue("normal", PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue("high", PriorityHigh)
	require.NoError(t, err)

	var got []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, item.Payload.(string))
	}
	assert.Equal(t, []string{"high", "normal", "low"}, got)
}

func TestFIFOWithinBand(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	for _, p := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(p, PriorityNormal)
		require.NoError(t, err)
	}

	var got []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, item.Payload.(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestOverflowEvictsOldestLowBandItem(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true, MaxSize: 3})
	_, _ = q.Enqueue("low-old", PriorityLow)
	_, _ = q.Enqueue("low-new", PriorityLow)
	_, _ = q.Enqueue("normal", PriorityNormal)

	_, err := q.Enqueue("high", PriorityHigh)
	require.NoError(t, err)
	require.Equal(t, 3, q.Len())

	var got []string
	for _, it := range q.GetAll() {
		got = append(got, it.Payload.(string))
	}
	assert.Equal(t, []string{"high", "normal", "low-new"}, got)
}

func TestOverflowWithAllHighEvictsOldestHigh(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true, MaxSize: 2})
	_, _ = q.Enqueue("high-1", PriorityHigh)
	_, _ = q.Enqueue("high-2", PriorityHigh)
	_, _ = q.Enqueue("high-3", PriorityHigh)

	require.Equal(t, 2, q.Len())
	var got []string
	for _, it := range q.GetAll() {
		got = append(got, it.Payload.(string))
	}
	assert.Equal(t, []string{"high-2", "high-3"}, got)
}

func TestOversizedEnqueueFailsWithMessageSize(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true, MaxMessage: 8})
	_, err := q.Enqueue(strings.Repeat("x", 64), PriorityNormal)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MessageSize))
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	_, _ = q.Enqueue("only", PriorityNormal)

	item, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "only", item.Payload)
	assert.Equal(t, 1, q.Len())
}

func TestDequeueBatchReturnsInDequeueOrder(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	_, _ = q.Enqueue("low", PriorityLow)
	_, _ = q.Enqueue("high", PriorityHigh)
	_, _ = q.Enqueue("normal", PriorityNormal)

	batch := q.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "high", batch[0].Payload)
	assert.Equal(t, "normal", batch[1].Payload)
	assert.Equal(t, 1, q.Len())
}

func TestFlushStopsOnFirstRejectionAndReenqueuesWithRetryBump(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	_, _ = q.Enqueue("a", PriorityNormal)
	_, _ = q.Enqueue("b", PriorityNormal)
	_, _ = q.Enqueue("c", PriorityNormal)

	var sent []string
	delivered := q.Flush(func(item *Item) error {
		if item.Payload == "b" {
			return errors.New("transport refused")
		}
		sent = append(sent, item.Payload.(string))
		return nil
	})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"a"}, sent)
	require.Equal(t, 2, q.Len())

	item, ok := findByPayload(q, "b")
	require.True(t, ok)
	assert.Equal(t, 1, item.Retries)
}

func findByPayload(q *Queue, payload any) (*Item, bool) {
	for _, it := range q.GetAll() {
		if it.Payload == payload {
			return it, true
		}
	}
	return nil, false
}

func TestRemoveByID(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	id, err := q.Enqueue("x", PriorityNormal)
	require.NoError(t, err)

	_, ok := q.FindByID(id)
	require.True(t, ok)
	require.True(t, q.RemoveByID(id))
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.RemoveByID(id))
}

func TestGetStatsCountsBandsAndBytes(t *testing.T) {
	q := newTestQueue(t, Config{Enabled: true})
	_, _ = q.Enqueue("hi", PriorityHigh)
	_, _ = q.Enqueue("no", PriorityNormal)
	_, _ = q.Enqueue("lo", PriorityLow)

	s := q.GetStats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.High)
	assert.Equal(t, 1, s.Normal)
	assert.Equal(t, 1, s.Low)
	assert.Greater(t, s.Bytes, 0)
}

func TestPersistRestoreRoundTripPreservesOrderAndContent(t *testing.T) {
	store := persistence.NewMemStore()
	ids := idgen.NewGenerator(idgen.StrategyUUID)
	cfg := Config{Enabled: true, Persistent: true, StorageKey: "q.test"}

	q1 := New(cfg, ids, store, slog.Default())
	_, _ = q1.Enqueue("low", PriorityLow)
	_, _ = q1.Enqueue("high", PriorityHigh)
	_, _ = q1.Enqueue("normal", PriorityNormal)

	q2 := New(cfg, ids, store, slog.Default())
	require.Equal(t, 3, q2.Len())

	var got []string
	for {
		item, ok := q2.Dequeue()
		if !ok {
			break
		}
		got = append(got, item.Payload.(string))
	}
	assert.Equal(t, []string{"high", "normal", "low"}, got)
}

func TestRestoreDropsExpiredEntries(t *testing.T) {
	store := persistence.NewMemStore()
	stale, err := time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
	require.NoError(t, err)

	raw := `[{"id":"fresh","payload":"keep","priority":1,"enqueued_at":"` +
		time.Now().Format(time.RFC3339Nano) +
		`","retries":0},{"id":"stale","payload":"drop","priority":1,"enqueued_at":"` +
		stale.Format(time.RFC3339Nano) + `","retries":0}]`
	require.NoError(t, store.Set("q.test", raw))

	q := New(Config{Enabled: true, Persistent: true, StorageKey: "q.test"},
		idgen.NewGenerator(idgen.StrategyUUID), store, slog.Default())

	require.Equal(t, 1, q.Len())
	item, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "keep", item.Payload)
}

// quotaStore rejects every Set with ErrQuotaExceeded until unblocked.
type quotaStore struct {
	*persistence.MemStore
	full bool
}

func (s *quotaStore) Set(key, value string) error {
	if s.full {
		return persistence.ErrQuotaExceeded
	}
	return s.MemStore.Set(key, value)
}

func TestQuotaExhaustionEvictsHalfLowAndDegradesOnRepeatFailure(t *testing.T) {
	store := &quotaStore{MemStore: persistence.NewMemStore()}
	q := New(Config{Enabled: true, Persistent: true, StorageKey: "q.test"},
		idgen.NewGenerator(idgen.StrategyUUID), store, slog.Default())

	for i := 0; i < 4; i++ {
		_, _ = q.Enqueue(i, PriorityLow)
	}
	_, _ = q.Enqueue("keep", PriorityHigh)
	require.Equal(t, 5, q.Len())

	store.full = true
	_, err := q.Enqueue("trigger", PriorityLow)
	require.NoError(t, err)

	// 6 buffered at write time, quota hit, half of the 5 low-band
	// items evicted, retry also failed: memory-only from here on.
	assert.True(t, q.degraded)
	assert.Equal(t, 4, q.Len())

	_, ok := findByPayload(q, "keep")
	assert.True(t, ok)
}
