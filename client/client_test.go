package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/ws-client-runtime/internal/ack"
	"github.com/webitel/ws-client-runtime/internal/batch"
	"github.com/webitel/ws-client-runtime/internal/connstate"
	"github.com/webitel/ws-client-runtime/internal/heartbeat"
	"github.com/webitel/ws-client-runtime/internal/queue"
	"github.com/webitel/ws-client-runtime/internal/reconnect"
	"github.com/webitel/ws-client-runtime/internal/transport"
)

// fakeAdapter is an in-memory transport.Adapter for exercising the
// Facade without a real socket.
type fakeAdapter struct {
	mu          sync.Mutex
	state       transport.State
	events      chan transport.Event
	sent        []string
	failConnect bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{state: transport.StateClosed, events: make(chan transport.Event, 32)}
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	if f.failConnect {
		return assertErr
	}
	f.mu.Lock()
	f.state = transport.StateOpen
	f.mu.Unlock()
	f.events <- transport.Event{Kind: transport.EventOpen}
	return nil
}

func (f *fakeAdapter) Disconnect(code int, reason string) {
	f.mu.Lock()
	if f.state != transport.StateOpen {
		f.mu.Unlock()
		return
	}
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.events <- transport.Event{Kind: transport.EventClose, Close: transport.CloseInfo{Code: code, Reason: reason, WasClean: true}}
	close(f.events)
}

func (f *fakeAdapter) Send(payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := payload.(string)
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeAdapter) SendBinary(data []byte) error { return nil }

func (f *fakeAdapter) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) Events() <-chan transport.Event { return f.events }

var assertErr = &connectError{}

type connectError struct{}

func (e *connectError) Error() string { return "fake connect failure" }

func newTestClient(t *testing.T, adapter *fakeAdapter) *Client {
	t.Helper()
	c, err := New(Options{URL: "ws://example.invalid", Queue: queue.Config{Enabled: true}})
	require.NoError(t, err)
	c.buildAdapter = func(ctx context.Context) (transport.Adapter, error) {
		return adapter, nil
	}
	return c
}

func TestConnectTransitionsToConnectedAndEmitsOpen(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)

	var opened bool
	var wg sync.WaitGroup
	wg.Add(1)
	c.Bus.On("open", func(data any) { opened = true; wg.Done() })

	err := c.Connect(context.Background())
	require.NoError(t, err)
	wg.Wait()

	assert.True(t, opened)
	assert.Equal(t, connstate.Connected, c.State())
	assert.True(t, c.IsConnected())
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
}

func TestSendWhileConnectedWritesThroughAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	err := c.Send(map[string]any{"hello": "world"}, SendOptions{})
	require.NoError(t, err)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Len(t, adapter.sent, 1)
}

func TestSendWhileDisconnectedEnqueues(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)

	err := c.Send("queued", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.QueueSize())
}

func TestSendWhileDisconnectedWithoutQueueFails(t *testing.T) {
	c, err := New(Options{URL: "ws://example.invalid"})
	require.NoError(t, err)

	err = c.Send("x", SendOptions{})
	require.Error(t, err)
}

func TestReliableSendCarriesIDAndSettlesOnAck(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	acked := make(chan any, 1)
	err := c.Send(map[string]any{"x": 1}, SendOptions{
		Reliable:  true,
		AckOpts:   ack.Options{Timeout: time.Hour},
		OnAck:     func(data any) { acked <- data },
		OnTimeout: func(error) { t.Error("onTimeout must not fire") },
	})
	require.NoError(t, err)

	adapter.mu.Lock()
	require.Len(t, adapter.sent, 1)
	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(adapter.sent[0]), &frame))
	adapter.mu.Unlock()

	id, _ := frame["id"].(string)
	require.NotEmpty(t, id, "wire frame must carry the id the peer echoes back")
	assert.Equal(t, float64(1), frame["x"])

	adapter.events <- transport.Event{Kind: transport.EventMessage, Data: map[string]any{"type": "ack", "id": id, "ackData": "ok"}}

	select {
	case data := <-acked:
		assert.Equal(t, "ok", data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onAck")
	}
}

func TestOfflineQueueFlushesInPriorityOrderOnConnect(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)

	require.NoError(t, c.Send(map[string]any{"a": 1}, SendOptions{Priority: queue.PriorityHigh}))
	require.NoError(t, c.Send(map[string]any{"a": 2}, SendOptions{Priority: queue.PriorityLow}))
	require.NoError(t, c.Send(map[string]any{"a": 3}, SendOptions{Priority: queue.PriorityNormal}))
	require.Equal(t, 3, c.QueueSize())

	require.NoError(t, c.Connect(context.Background()))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":3}`, `{"a":2}`}, adapter.sent)
	assert.Equal(t, 0, c.QueueSize())
}

func TestDisconnectSettlesAtDisconnected(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect(1000, "bye")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, connstate.Disconnected, c.State())
}

func TestDestroyIsIdempotentAndFailsFastAfterwards(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	c.Destroy()
	c.Destroy() // must not panic

	err := c.Send("x", SendOptions{})
	require.Error(t, err)
}

func TestBatchSenderFlushesThroughTheSendPath(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	b := c.NewBatchSender(batch.Config{MaxSize: 2})
	b.Add("a")
	b.Add("b")

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Len(t, adapter.sent, 1)
}

func TestUpdateConfigAppliesWithoutPanicking(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Connect(context.Background()))

	reconnCfg := reconnect.Config{Enabled: true, MaxAttempts: 3}
	heartCfg := heartbeat.Config{Interval: time.Minute}
	queueCfg := queue.Config{Enabled: true, MaxSize: 5}
	c.UpdateConfig(ConfigUpdate{Reconnect: &reconnCfg, Heartbeat: &heartCfg, Queue: &queueCfg})
}

func TestClearQueueEmptiesTheOutbox(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestClient(t, adapter)
	require.NoError(t, c.Send("a", SendOptions{}))
	require.NoError(t, c.Send("b", SendOptions{}))
	assert.Equal(t, 2, c.QueueSize())

	c.ClearQueue()
	assert.Equal(t, 0, c.QueueSize())
}
