package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

func TestThrottler_DeliversSubmittedOrderThroughRun(t *testing.T) {
	th := New(zap.NewNop(), 100, 10, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = th.Run(ctx) }()

	th.Submit(types.Order{ID: "o1", Symbol: "BTC"})

	select {
	case order := <-th.Out():
		assert.Equal(t, "o1", order.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for throttled order")
	}
}

func TestThrottler_OverflowDropsOldestQueuedOrder(t *testing.T) {
	th := New(zap.NewNop(), 1, 1, 1) // queue capacity 1, no Run() draining it

	th.Submit(types.Order{ID: "first"})
	th.Submit(types.Order{ID: "second"}) // queue full -> drops "first", keeps "second"

	order, ok := th.peekLocked()
	require.True(t, ok, "expected a queued order")
	assert.Equal(t, "second", order.ID)
}

// Overflow never drops a Sell while an earlier same-symbol Buy is still
// queued ahead of it: the Buy it would otherwise close on has nothing left
// to close it with.
func TestThrottler_OverflowNeverDropsSellBehindItsOwnBuy(t *testing.T) {
	th := New(zap.NewNop(), 1, 1, 2)

	th.Submit(types.Order{ID: "buy", Symbol: "BTC", Side: types.OrderSideBuy})
	th.Submit(types.Order{ID: "sell", Symbol: "BTC", Side: types.OrderSideSell})
	// Queue is full (cap 2); a third submission forces an eviction. The only
	// unprotected victim is "buy" itself, since "sell" is protected by it.
	th.Submit(types.Order{ID: "other", Symbol: "ETH", Side: types.OrderSideBuy})

	th.mu.Lock()
	ids := make([]string, len(th.queue))
	for i, o := range th.queue {
		ids[i] = o.ID
	}
	th.mu.Unlock()

	assert.NotContains(t, ids, "buy", "the Buy should have been evicted, not the Sell it protects")
	assert.Contains(t, ids, "sell")
	assert.Contains(t, ids, "other")
}

func TestThrottler_RunStopsOnContextCancel(t *testing.T) {
	th := New(zap.NewNop(), 100, 10, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- th.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
