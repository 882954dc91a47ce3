package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptySendChainPassesPayloadThroughUnchanged(t *testing.T) {
	p := New()
	payload := map[string]any{"hello": "world"}

	var atTerminal any
	mc := &Context{Data: payload}
	err := p.ExecuteSend(context.Background(), mc, func(ctx context.Context, mc *Context) error {
		atTerminal = mc.Data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload, atTerminal)
	assert.Equal(t, Send, mc.Direction)
}

func TestOnionOrderingPreThenNextThenPost(t *testing.T) {
	p := New()
	var order []string
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		order = append(order, "outer-pre")
		err := next(ctx, mc)
		order = append(order, "outer-post")
		return err
	})
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		order = append(order, "inner-pre")
		err := next(ctx, mc)
		order = append(order, "inner-post")
		return err
	})

	err := p.ExecuteSend(context.Background(), &Context{}, func(context.Context, *Context) error {
		order = append(order, "terminal")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer-pre", "inner-pre", "terminal", "inner-post", "outer-post"}, order)
}

func TestShouldSkipStopsChainAndTerminal(t *testing.T) {
	p := New()
	var innerRan, terminalRan bool
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		mc.ShouldSkip = true
		return next(ctx, mc)
	})
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		innerRan = true
		return next(ctx, mc)
	})

	mc := &Context{}
	err := p.ExecuteSend(context.Background(), mc, func(context.Context, *Context) error {
		terminalRan = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, innerRan)
	assert.False(t, terminalRan)
	assert.True(t, mc.ShouldSkip)
}

func TestMiddlewareErrorPropagatesOut(t *testing.T) {
	p := New()
	boom := errors.New("boom")
	var terminalRan bool
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		return boom
	})

	err := p.ExecuteSend(context.Background(), &Context{}, func(context.Context, *Context) error {
		terminalRan = true
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, terminalRan)
}

func TestMiddlewareMayRewriteData(t *testing.T) {
	p := New()
	p.UseSend(func(ctx context.Context, mc *Context, next Next) error {
		mc.Data = "rewritten"
		return next(ctx, mc)
	})

	var atTerminal any
	err := p.ExecuteSend(context.Background(), &Context{Data: "original"}, func(ctx context.Context, mc *Context) error {
		atTerminal = mc.Data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", atTerminal)
}

func TestUseRegistersOnBothChains(t *testing.T) {
	p := New()
	var directions []Direction
	p.Use(func(ctx context.Context, mc *Context, next Next) error {
		directions = append(directions, mc.Direction)
		return next(ctx, mc)
	})

	require.NoError(t, p.ExecuteSend(context.Background(), &Context{}, func(context.Context, *Context) error { return nil }))
	require.NoError(t, p.ExecuteReceive(context.Background(), &Context{}))
	assert.Equal(t, []Direction{Send, Receive}, directions)
}

func TestReceiveChainLeavesFinalDataForCaller(t *testing.T) {
	p := New()
	p.UseReceive(func(ctx context.Context, mc *Context, next Next) error {
		m, ok := mc.Data.(map[string]any)
		if ok {
			m["seen"] = true
		}
		return next(ctx, mc)
	})

	mc := &Context{Data: map[string]any{"v": 1}}
	require.NoError(t, p.ExecuteReceive(context.Background(), mc))
	assert.Equal(t, true, mc.Data.(map[string]any)["seen"])
}
