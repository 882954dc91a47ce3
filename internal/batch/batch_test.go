package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushesOnMaxSize(t *testing.T) {
	var mu sync.Mutex
	var got []any
	s := New(Config{MaxSize: 3, MaxWait: time.Hour}, func(batch []any) error {
		mu.Lock()
		got = append(got, batch)
		mu.Unlock()
		return nil
	})

	s.Add(1)
	s.Add(2)
	s.Add(3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, []any{1, 2, 3}, got[0])
}

func TestFlushesOnMaxWait(t *testing.T) {
	done := make(chan []any, 1)
	s := New(Config{MaxSize: 1000, MaxWait: 20 * time.Millisecond}, func(batch []any) error {
		done <- batch
		return nil
	})

	s.Add("a")
	select {
	case batch := <-done:
		assert.Equal(t, []any{"a"}, batch)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wait-trigger flush")
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	var calls int
	s := New(Config{MaxWait: time.Hour}, func(batch []any) error {
		calls++
		return nil
	})
	s.Flush()
	s.Flush()
	assert.Equal(t, 0, calls)
}

func TestDestroyFlushesThenDropsSend(t *testing.T) {
	var calls int
	s := New(Config{MaxWait: time.Hour}, func(batch []any) error {
		calls++
		return nil
	})
	s.Add("x")
	s.Destroy()
	assert.Equal(t, 1, calls)

	s.Add("y") // silently dropped after destroy
	assert.Equal(t, 0, s.Len())
}

func TestMaxBytesTrigger(t *testing.T) {
	done := make(chan []any, 1)
	s := New(Config{MaxSize: 1000, MaxBytes: 10, MaxWait: time.Hour}, func(batch []any) error {
		done <- batch
		return nil
	})
	s.Add("0123456789") // ~12 bytes serialized as JSON string, crosses threshold
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected byte-trigger flush")
	}
}
