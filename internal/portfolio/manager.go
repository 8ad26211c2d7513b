// Package portfolio implements the process-wide Portfolio State Manager: a
// single sync.RWMutex-guarded VersionedPortfolio with optimistic-concurrency
// updates and capital reservations for in-flight orders.
package portfolio

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Manager is the Portfolio State Manager described in the component design:
// the single authoritative, versioned view of cash/positions, with an
// optimistic-concurrency write path and a reservation ledger that earmarks
// cash for orders still in flight without mutating the broker-authoritative
// balance.
type Manager struct {
	mu     sync.RWMutex
	state  types.VersionedPortfolio
	log    *zap.Logger
	nowMs  func() int64
}

// New builds a Manager seeded with startingCash and no open positions.
func New(log *zap.Logger, startingCash decimal.Decimal, nowMs func() int64) *Manager {
	return &Manager{
		state: types.VersionedPortfolio{
			Version: 1,
			Portfolio: types.Portfolio{
				Cash:         startingCash,
				StartingCash: startingCash,
				Positions:    make(map[string]*types.Position),
				Synchronized: true,
			},
			TimestampMs:      nowMs(),
			ReservedExposure: make(map[string]decimal.Decimal),
		},
		log:   log.Named("portfolio-manager"),
		nowMs: nowMs,
	}
}

// Snapshot returns a deep copy of the current versioned portfolio, safe to
// read and mutate without affecting the Manager's internal state.
func (m *Manager) Snapshot() types.VersionedPortfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clone()
}

func (m *Manager) clone() types.VersionedPortfolio {
	out := m.state
	out.Portfolio = types.ClonePortfolio(m.state.Portfolio)
	out.ReservedExposure = make(map[string]decimal.Decimal, len(m.state.ReservedExposure))
	for k, v := range m.state.ReservedExposure {
		out.ReservedExposure[k] = v
	}
	return out
}

// Reserve earmarks amount of cash against availableCash (cash minus existing
// reservations) for symbol, returning an opaque ReservationToken. It does not
// mutate Portfolio.Cash — only the in-memory reservation ledger — so it never
// conflicts with a concurrent broker fill reconciliation. expectedVersion
// must match the current version under the lock, the same optimistic-
// concurrency check ApplyFill makes, so a reservation computed against a
// snapshot that another writer has since advanced past is rejected with
// VersionConflict rather than earmarking cash against stale state.
func (m *Manager) Reserve(expectedVersion uint64, symbol string, amount decimal.Decimal) (types.ReservationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Version != expectedVersion {
		return types.ReservationToken{}, fmt.Errorf("reserve for %s: %w", symbol, types.ErrVersionConflict)
	}

	available := m.state.Portfolio.Cash
	for _, v := range m.state.ReservedExposure {
		available = available.Sub(v)
	}
	if amount.GreaterThan(available) {
		return types.ReservationToken{}, fmt.Errorf("reserve %s for %s: %w", amount, symbol, types.ErrInsufficientFunds)
	}
	tok := types.ReservationToken{ID: uuid.NewString(), Symbol: symbol, Amount: amount}
	m.state.ReservedExposure[tok.ID] = amount
	return tok, nil
}

// Release removes a previously issued reservation, freeing its cash back to
// availableCash. Releasing an unknown token is a no-op: the caller may be
// reconciling after a crash where the reservation already lapsed.
func (m *Manager) Release(tok types.ReservationToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.ReservedExposure, tok.ID)
}

// ApplyFill performs the compare-and-swap write described by spec.md's
// optimistic-concurrency model: it only commits if expectedVersion still
// matches the current version, then advances the version, updates
// cash/positions for a fill, and releases the reservation (if any) tied to
// this order. fee is debited from cash on both sides — a commission owed to
// the broker regardless of whether the fill bought or sold.
func (m *Manager) ApplyFill(expectedVersion uint64, tok *types.ReservationToken, order types.Order, fillPrice decimal.Decimal, fillQty decimal.Decimal, fee decimal.Decimal) (types.VersionedPortfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Version != expectedVersion {
		return types.VersionedPortfolio{}, fmt.Errorf("apply fill for order %s: %w", order.ID, types.ErrVersionConflict)
	}

	signedQty := fillQty
	notional := fillPrice.Mul(fillQty)
	if order.Side == types.OrderSideBuy {
		m.state.Portfolio.Cash = m.state.Portfolio.Cash.Sub(notional)
	} else {
		m.state.Portfolio.Cash = m.state.Portfolio.Cash.Add(notional)
		signedQty = signedQty.Neg()
	}
	m.state.Portfolio.Cash = m.state.Portfolio.Cash.Sub(fee)

	pos, ok := m.state.Portfolio.Positions[order.Symbol]
	if !ok {
		pos = &types.Position{Symbol: order.Symbol}
		m.state.Portfolio.Positions[order.Symbol] = pos
	}
	m.applyPositionDelta(pos, signedQty, fillPrice)
	if pos.Quantity.IsZero() {
		delete(m.state.Portfolio.Positions, order.Symbol)
	}

	m.state.Portfolio.DayTradesCount++
	m.state.Version++
	m.state.TimestampMs = m.nowMs()
	if tok != nil {
		delete(m.state.ReservedExposure, tok.ID)
	}

	m.log.Debug("applied fill",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Uint64("version", m.state.Version))

	return m.clone(), nil
}

// applyPositionDelta folds a signed fill quantity into pos, weighted-averaging
// the entry price on adds. Realized P&L is not computed here, and
// Portfolio.RealizedPnL is left unchanged.
func (m *Manager) applyPositionDelta(pos *types.Position, signedQty, price decimal.Decimal) {
	if pos.Quantity.IsZero() || pos.Quantity.Sign() == signedQty.Sign() {
		totalQty := pos.Quantity.Add(signedQty)
		if !totalQty.IsZero() {
			weighted := pos.AveragePrice.Mul(pos.Quantity).Add(price.Mul(signedQty))
			pos.AveragePrice = weighted.Div(totalQty)
		}
		pos.Quantity = totalQty
		return
	}
	// Closing or flipping: average price only changes if the position flips sign.
	pos.Quantity = pos.Quantity.Add(signedQty)
	if pos.Quantity.Sign() != 0 && pos.Quantity.Sign() == signedQty.Sign() {
		pos.AveragePrice = price
	}
}

// MarkStale flags the portfolio as unsynchronized, e.g. after a broker
// reconciliation failure; Equity/AvailableCash callers should treat stale
// data conservatively (spec.md's Synchronized flag).
func (m *Manager) MarkStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Portfolio.Synchronized = false
}

// Reconcile overwrites cash/positions from an authoritative broker snapshot,
// bumping the version and clearing the stale flag.
func (m *Manager) Reconcile(p types.Portfolio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Synchronized = true
	m.state.Portfolio = types.ClonePortfolio(p)
	m.state.Version++
	m.state.TimestampMs = m.nowMs()
}
