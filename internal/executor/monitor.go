// Package executor implements the Executor and Order Monitor: submitting
// Orders to the broker, optimistically updating the portfolio, and
// retrying/abandoning orders that time out. Grounded on
// internal/execution/executor.go and internal/execution/order_manager.go.
package executor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// ActionKind distinguishes what the OrderMonitor wants the Executor to do
// about a tracked order past its deadline.
type ActionKind string

const (
	ActionNone            ActionKind = ""
	ActionConvertToMarket ActionKind = "convert_to_market"
	ActionAbandon         ActionKind = "abandon"
)

// Action is one timeout-handling instruction for a tracked order.
type Action struct {
	Kind         ActionKind
	OrderID      string
	Original     types.Order
	NewMarketOrder types.Order
}

type tracked struct {
	order       types.Order
	tok         *types.ReservationToken
	version     uint64
	submittedAt time.Time
	retried     bool
}

// Monitor tracks in-flight orders and their retry state.
type Monitor struct {
	mu      sync.Mutex
	orders  map[string]*tracked
	timeout time.Duration
}

// NewMonitor builds a Monitor abandoning/retrying orders idle past timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Monitor{orders: make(map[string]*tracked), timeout: timeout}
}

// Track registers a newly submitted order along with the portfolio version
// and reservation token its optimistic update depends on, so the Executor
// can reverse exactly that update on a cancel-and-replace.
func (m *Monitor) Track(order types.Order, tok *types.ReservationToken, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = &tracked{order: order, tok: tok, version: version, submittedAt: time.Now()}
}

// Untrack removes an order, typically because the broker's order-update
// stream reported it reached a terminal status.
func (m *Monitor) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
}

// Reservation returns the reservation token and portfolio version recorded
// for a tracked order, if still tracked.
func (m *Monitor) Reservation(orderID string) (*types.ReservationToken, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.orders[orderID]
	if !ok {
		return nil, 0, false
	}
	return t.tok, t.version, true
}

// CheckTimeouts returns the actions due for every tracked order whose
// deadline has passed: a stale Limit order converts to Market once; a
// second timeout on a Market order is abandoned.
func (m *Monitor) CheckTimeouts() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var actions []Action
	for id, t := range m.orders {
		if now.Sub(t.submittedAt) < m.timeout {
			continue
		}
		if t.order.Type != types.OrderTypeMarket && !t.retried {
			newOrder := t.order
			newOrder.Type = types.OrderTypeMarket
			newOrder.Price = decimal.Zero
			actions = append(actions, Action{
				Kind:           ActionConvertToMarket,
				OrderID:        id,
				Original:       t.order,
				NewMarketOrder: newOrder,
			})
			t.retried = true
			t.submittedAt = now
			continue
		}
		actions = append(actions, Action{Kind: ActionAbandon, OrderID: id, Original: t.order})
		delete(m.orders, id)
	}
	return actions
}
