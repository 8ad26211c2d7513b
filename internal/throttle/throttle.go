// Package throttle implements the Order Throttler: a token-bucket rate
// limiter gating Orders between the Risk Manager and the Executor, grounded
// on golang.org/x/time/rate usage in the pack's xmaker market-making
// strategy for order-placement throttling.
package throttle

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Throttler rate-limits Order submission to ordersPerSecond with burst
// capacity, queueing excess orders in a bounded FIFO and dropping on
// overflow, per spec.md's Order Throttler contract. The drop never picks a
// Sell that still has an earlier same-symbol Buy ahead of it in the queue:
// dropping that Sell would leave the position the Buy opens with nothing
// left in flight to close it.
type Throttler struct {
	logger  *zap.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []types.Order
	cap   int
	wake  chan struct{}

	out chan types.Order
}

// New builds a Throttler admitting ordersPerSecond steady-state with burst
// headroom, backed by an internal queue capacity of queueCap.
func New(logger *zap.Logger, ordersPerSecond float64, burst int, queueCap int) *Throttler {
	if queueCap <= 0 {
		queueCap = 100
	}
	return &Throttler{
		logger:  logger.Named("throttler"),
		limiter: rate.NewLimiter(rate.Limit(ordersPerSecond), burst),
		cap:     queueCap,
		wake:    make(chan struct{}, 1),
		out:     make(chan types.Order, queueCap),
	}
}

// Submit enqueues order for throttled delivery, preserving the same
// per-symbol ordering from RiskManager -> Throttler -> Executor. If the
// queue is already at capacity, the oldest droppable order is evicted
// first: a Sell order is not droppable while an earlier Buy for its symbol
// is still queued ahead of it.
func (t *Throttler) Submit(order types.Order) {
	t.mu.Lock()
	if len(t.queue) >= t.cap {
		t.evictOneLocked()
	}
	t.queue = append(t.queue, order)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// evictOneLocked drops the oldest order in t.queue that isn't a Sell
// protected by an earlier same-symbol Buy still ahead of it. Callers must
// already hold t.mu. If every queued order is protected, the literal oldest
// is dropped anyway — the queue cannot be allowed to grow unbounded.
func (t *Throttler) evictOneLocked() {
	victim := 0
	for i, o := range t.queue {
		if o.Side == types.OrderSideSell && t.hasEarlierBuyLocked(i, o.Symbol) {
			continue
		}
		victim = i
		break
	}
	dropped := t.queue[victim]
	t.queue = append(t.queue[:victim], t.queue[victim+1:]...)
	t.logger.Warn("throttle queue full, dropping order",
		zap.String("order_id", dropped.ID), zap.String("symbol", dropped.Symbol))
}

func (t *Throttler) hasEarlierBuyLocked(before int, symbol string) bool {
	for _, o := range t.queue[:before] {
		if o.Symbol == symbol && o.Side == types.OrderSideBuy {
			return true
		}
	}
	return false
}

// Out is the throttled delivery channel the Executor reads from.
func (t *Throttler) Out() <-chan types.Order {
	return t.out
}

// Run pumps orders from the queue through the rate limiter to Out() in FIFO
// order until ctx is canceled.
func (t *Throttler) Run(ctx context.Context) error {
	defer close(t.out)
	for {
		order, ok := t.peekLocked()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.wake:
				continue
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		select {
		case t.out <- order:
			t.popLocked()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Throttler) peekLocked() (types.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return types.Order{}, false
	}
	return t.queue[0], true
}

func (t *Throttler) popLocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) > 0 {
		t.queue = t.queue[1:]
	}
}
