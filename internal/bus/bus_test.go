package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}

func TestOnReceivesEmittedPayload(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var got any
	var wg sync.WaitGroup
	wg.Add(1)
	b.On("open", func(data any) { got = data; wg.Done() })

	b.Emit("open", map[string]any{"timestamp": 1})
	waitFor(t, &wg)

	assert.Equal(t, map[string]any{"timestamp": 1}, got)
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	b.Once("ping", func(data any) {
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
	})

	b.Emit("ping", nil)
	waitFor(t, &wg)
	b.Emit("ping", nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestOffRemovesHandler(t *testing.T) {
	b := New(nil)
	defer b.Close()

	handler := func(data any) {}
	b.On("evt", handler)
	require.True(t, b.HasListeners("evt"))

	b.Off("evt", handler)
	assert.False(t, b.HasListeners("evt"))
}

func TestOffNilRemovesAllHandlersForEvent(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.On("evt", func(data any) {})
	b.On("evt", func(data any) {})
	require.Equal(t, 2, b.ListenerCount("evt"))

	b.Off("evt", nil)
	assert.Equal(t, 0, b.ListenerCount("evt"))
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	b.On("evt", func(data any) { panic("boom") })
	b.On("evt", func(data any) { wg.Done() })

	b.Emit("evt", nil)
	waitFor(t, &wg)
}

func TestSetMaxListenersAffectsWarningThreshold(t *testing.T) {
	b := New(nil)
	defer b.Close()
	b.SetMaxListeners(1)

	b.On("evt", func(data any) {})
	b.On("evt", func(data any) {})
	assert.Equal(t, 2, b.ListenerCount("evt"))

	b.mu.Lock()
	warned := b.warned["evt"]
	b.mu.Unlock()
	assert.True(t, warned)
}

func TestRemoveAllClearsEveryEvent(t *testing.T) {
	b := New(nil)
	defer b.Close()
	b.On("a", func(data any) {})
	b.On("b", func(data any) {})

	b.RemoveAll()
	assert.Empty(t, b.EventNames())
}
