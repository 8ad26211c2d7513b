// Package riskgate implements the Risk Manager: the gate between
// TradeProposals and Orders. Grounded on internal/execution/risk_manager.go
// (circuit-breaker cascade, position/sector limits, PDT guard, symbol
// normalization for crypto pairs).
package riskgate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/session"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Limits groups every threshold the Risk Manager enforces.
type Limits struct {
	MaxPositionPct      decimal.Decimal
	MaxSectorPct        decimal.Decimal
	MaxDailyDrawdownPct decimal.Decimal
	MaxTotalDrawdownPct decimal.Decimal
	MaxConsecutiveLoss  int
	PDTGuardEnabled     bool
}

// RejectReason classifies why a proposal was dropped, for logging/metrics.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectDailyDrawdown   RejectReason = "daily_drawdown_breach"
	RejectTotalDrawdown   RejectReason = "total_drawdown_breach"
	RejectConsecutiveLoss RejectReason = "consecutive_loss_limit"
	RejectPositionSize    RejectReason = "position_size_limit"
	RejectSectorExposure  RejectReason = "sector_exposure_limit"
	RejectInsufficientCash RejectReason = "insufficient_cash"
	RejectNoHolding       RejectReason = "no_holding_to_sell"
	RejectPDT             RejectReason = "pdt_guard"
)

// Manager gates TradeProposals, turning approved ones into Orders.
type Manager struct {
	logger  *zap.Logger
	limits  Limits
	pm      *portfolio.Manager
	sm      *session.Manager
	broker  broker.ExecutionService
	sectors broker.SectorLookup

	mu          sync.Mutex
	sectorCache map[string]string
	halted      map[RejectReason]bool
}

// New builds a risk-gate Manager.
func New(logger *zap.Logger, limits Limits, pm *portfolio.Manager, sm *session.Manager, execSvc broker.ExecutionService, sectors broker.SectorLookup) *Manager {
	return &Manager{
		logger:      logger.Named("risk-manager"),
		limits:      limits,
		pm:          pm,
		sm:          sm,
		broker:      execSvc,
		sectors:     sectors,
		sectorCache: make(map[string]string),
		halted:      make(map[RejectReason]bool),
	}
}

// Evaluate runs a TradeProposal through every gate in spec order, returning
// an approved Order or a RejectReason explaining the drop.
func (m *Manager) Evaluate(ctx context.Context, proposal types.TradeProposal, prices map[string]decimal.Decimal) (types.Order, RejectReason) {
	snap := m.pm.Snapshot()
	equity := snap.Portfolio.Equity(prices)
	riskState := m.sm.Observe(equity)

	if reason := m.checkCircuitBreakers(equity, riskState); reason != RejectNone {
		return types.Order{}, reason
	}

	notional := proposal.Price.Mul(proposal.Quantity)
	if equity.Sign() > 0 && notional.Div(equity).GreaterThan(m.limits.MaxPositionPct) {
		return types.Order{}, RejectPositionSize
	}

	if proposal.Side == types.OrderSideBuy {
		if reason := m.checkSectorExposure(ctx, proposal, snap.Portfolio, equity); reason != RejectNone {
			return types.Order{}, reason
		}
		if snap.AvailableCash().LessThan(notional) {
			return types.Order{}, RejectInsufficientCash
		}
	}

	quantity := proposal.Quantity
	if proposal.Side == types.OrderSideSell {
		owned := ownedQuantity(snap.Portfolio, proposal.Symbol)
		if owned.Sign() <= 0 {
			return types.Order{}, RejectNoHolding
		}
		if quantity.GreaterThan(owned) {
			m.logger.Warn("truncating sell to owned quantity",
				zap.String("symbol", proposal.Symbol),
				zap.String("requested", quantity.String()),
				zap.String("owned", owned.String()))
			quantity = owned
		}
	}

	if proposal.Side == types.OrderSideSell && m.limits.PDTGuardEnabled {
		if reason := m.checkPDT(ctx, proposal.Symbol); reason != RejectNone {
			return types.Order{}, reason
		}
	}

	order := types.Order{
		ID:        uuid.NewString(),
		Symbol:    proposal.Symbol,
		Side:      proposal.Side,
		Type:      proposal.OrderType,
		Price:     proposal.Price,
		Quantity:  quantity,
		Status:    types.OrderStatusNew,
		Timestamp: time.Now().UnixMilli(),
	}
	return order, RejectNone
}

// checkCircuitBreakers implements the three breaches in spec order. A
// daily-drawdown breach latches: later proposals are dropped under that
// reason until ResetDaily clears it. A total-drawdown breach latches for the
// life of the Manager; ResetDaily does not clear it. The consecutive-loss
// breach is re-evaluated from riskState on every call.
func (m *Manager) checkCircuitBreakers(equity decimal.Decimal, riskState types.RiskState) RejectReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted[RejectDailyDrawdown] || m.sm.DailyDrawdownPct(equity).GreaterThan(m.limits.MaxDailyDrawdownPct) {
		m.halted[RejectDailyDrawdown] = true
		return RejectDailyDrawdown
	}
	if m.halted[RejectTotalDrawdown] || m.sm.TotalDrawdownPct(equity).GreaterThan(m.limits.MaxTotalDrawdownPct) {
		m.halted[RejectTotalDrawdown] = true
		return RejectTotalDrawdown
	}
	if m.limits.MaxConsecutiveLoss > 0 && riskState.ConsecutiveLosses >= m.limits.MaxConsecutiveLoss {
		m.halted[RejectConsecutiveLoss] = true
		return RejectConsecutiveLoss
	}
	return RejectNone
}

// ResetDaily clears the daily-drawdown and consecutive-loss halts. Nothing
// in this module calls it (the session Manager's UTC rollover does not), so
// a daily-drawdown halt otherwise lasts for the life of the Manager.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.halted, RejectDailyDrawdown)
	delete(m.halted, RejectConsecutiveLoss)
}

func (m *Manager) checkSectorExposure(ctx context.Context, proposal types.TradeProposal, p types.Portfolio, equity decimal.Decimal) RejectReason {
	sector := m.lookupSector(ctx, proposal.Symbol)
	if sector == "" || sector == "unknown" {
		return RejectNone
	}

	existing := decimal.Zero
	for sym, pos := range p.Positions {
		if m.lookupSector(ctx, sym) == sector {
			existing = existing.Add(pos.Quantity.Mul(pos.AveragePrice))
		}
	}
	proposed := proposal.Price.Mul(proposal.Quantity)
	if equity.Sign() <= 0 {
		return RejectNone
	}
	if existing.Add(proposed).Div(equity).GreaterThan(m.limits.MaxSectorPct) {
		return RejectSectorExposure
	}
	return RejectNone
}

func (m *Manager) lookupSector(ctx context.Context, symbol string) string {
	m.mu.Lock()
	if sector, ok := m.sectorCache[symbol]; ok {
		m.mu.Unlock()
		return sector
	}
	m.mu.Unlock()

	if m.sectors == nil {
		return "unknown"
	}
	sector, err := m.sectors.Sector(symbol)
	if err != nil || sector == "" {
		sector = "unknown"
	}
	m.mu.Lock()
	m.sectorCache[symbol] = sector
	m.mu.Unlock()
	return sector
}

// checkPDT rejects a Sell whenever the same symbol was already bought today,
// unconditionally: a same-day round trip is a day trade regardless of how
// many other day trades preceded it.
func (m *Manager) checkPDT(ctx context.Context, symbol string) RejectReason {
	orders, err := m.broker.GetTodayOrders(ctx)
	if err != nil {
		m.logger.Warn("pdt guard: could not fetch today's orders", zap.Error(err))
		return RejectNone
	}
	normalized := normalizeSymbol(symbol)
	for _, o := range orders {
		if normalizeSymbol(o.Symbol) == normalized && o.Side == types.OrderSideBuy {
			return RejectPDT
		}
	}
	return RejectNone
}

// normalizeSymbol maps crypto slash-form pairs ("BTC/USDT") onto their
// concatenated form ("BTCUSDT") so the same instrument compares equal
// regardless of which form the broker or the proposal used.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func ownedQuantity(p types.Portfolio, symbol string) decimal.Decimal {
	normalized := normalizeSymbol(symbol)
	for sym, pos := range p.Positions {
		if normalizeSymbol(sym) == normalized {
			return pos.Quantity.Abs()
		}
	}
	return decimal.Zero
}
