package rpc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/ws-client-runtime/errs"
)

func TestRequestResolve(t *testing.T) {
	c := New(Config{DefaultTimeout: time.Second}, func(id string, payload any) error { return nil })

	id, completion := c.Request(map[string]any{"op": "ping"}, 0)
	go c.Resolve(id, "pong")

	result := <-completion
	require.NoError(t, result.Err)
	assert.Equal(t, "pong", result.Value)
}

func TestRequestReject(t *testing.T) {
	c := New(Config{DefaultTimeout: time.Second}, func(id string, payload any) error { return nil })

	id, completion := c.Request("x", 0)
	go c.Reject(id, errors.New("remote error"))

	result := <-completion
	require.Error(t, result.Err)
}

func TestRequestTimeout(t *testing.T) {
	c := New(Config{}, func(id string, payload any) error { return nil })

	_, completion := c.Request("x", 20*time.Millisecond)
	select {
	case result := <-completion:
		require.Error(t, result.Err)
		assert.True(t, errs.Is(result.Err, errs.Timeout))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection")
	}
}

func TestSendFailureRejectsImmediately(t *testing.T) {
	c := New(Config{DefaultTimeout: time.Second}, func(id string, payload any) error { return errors.New("adapter down") })

	_, completion := c.Request("x", 0)
	result := <-completion
	require.Error(t, result.Err)
}

func TestCancelAllRejectsEveryPending(t *testing.T) {
	c := New(Config{DefaultTimeout: time.Hour}, func(id string, payload any) error { return nil })

	var completions []Completion
	for i := 0; i < 3; i++ {
		_, completion := c.Request(i, 0)
		completions = append(completions, completion)
	}
	assert.Equal(t, 3, c.Pending())

	c.CancelAll("connection lost")

	for _, completion := range completions {
		result := <-completion
		require.Error(t, result.Err)
	}
	assert.Equal(t, 0, c.Pending())
}
