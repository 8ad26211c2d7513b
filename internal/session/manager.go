// Package session implements the Session Manager: tracking session/day
// start equity, the equity high-water mark, and consecutive-loss streaks
// used by the Risk Manager's drawdown and cooldown checks.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Manager owns the persisted RiskState record and rolls it over at UTC
// midnight, grounded on the daily P&L bookkeeping formerly inlined in the
// execution risk manager.
type Manager struct {
	mu    sync.Mutex
	state types.RiskState
	log   *zap.Logger
	clock func() time.Time
}

// New seeds a Manager for a fresh session starting at equity startEquity.
func New(log *zap.Logger, startEquity decimal.Decimal, clock func() time.Time) *Manager {
	now := clock()
	return &Manager{
		state: types.RiskState{
			ID:                  uuid.NewString(),
			SessionStartEquity:  startEquity,
			DailyStartEquity:    startEquity,
			EquityHighWaterMark: startEquity,
			ReferenceDate:       referenceDate(now),
			UpdatedAt:           now,
		},
		log:   log.Named("session-manager"),
		clock: clock,
	}
}

// NewFromState rebuilds a Manager from a persisted RiskState, honoring the
// restore split between session-level and daily state: EquityHighWaterMark
// and ConsecutiveLosses always survive a restart (a circuit breaker that
// forgot a prior drawdown on every restart would never trip), while
// DailyStartEquity/DailyDrawdownReset are carried over only if restored's
// ReferenceDate is still today — otherwise the daily baseline resets fresh
// from startEquity exactly as a first-ever session would.
func NewFromState(log *zap.Logger, startEquity decimal.Decimal, clock func() time.Time, restored types.RiskState) *Manager {
	now := clock()
	state := types.RiskState{
		ID:                  restored.ID,
		SessionStartEquity:  startEquity,
		DailyStartEquity:    startEquity,
		EquityHighWaterMark: restored.EquityHighWaterMark,
		ConsecutiveLosses:   restored.ConsecutiveLosses,
		ReferenceDate:       referenceDate(now),
		UpdatedAt:           now,
	}
	if state.EquityHighWaterMark.LessThan(startEquity) {
		state.EquityHighWaterMark = startEquity
	}
	if restored.ReferenceDate == referenceDate(now) {
		state.DailyStartEquity = restored.DailyStartEquity
		state.DailyDrawdownReset = restored.DailyDrawdownReset
	}
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	return &Manager{state: state, log: log.Named("session-manager"), clock: clock}
}

func referenceDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Observe updates the high-water mark and, if UTC midnight has rolled over
// since the last observation, resets DailyStartEquity and clears
// DailyDrawdownReset. It must be called on every equity-changing event
// (fills, mark-to-market ticks).
func (m *Manager) Observe(equity decimal.Decimal) types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	today := referenceDate(now)
	if today != m.state.ReferenceDate {
		m.state.ReferenceDate = today
		m.state.DailyStartEquity = equity
		m.state.DailyDrawdownReset = false
		m.log.Info("daily reset", zap.String("reference_date", today))
	}
	if equity.GreaterThan(m.state.EquityHighWaterMark) {
		m.state.EquityHighWaterMark = equity
	}
	m.state.UpdatedAt = now
	return m.state
}

// RecordTradeOutcome updates the consecutive-loss streak: a losing trade
// (realized P&L < 0) increments it, any other outcome resets it to zero.
func (m *Manager) RecordTradeOutcome(realizedPnL decimal.Decimal) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if realizedPnL.Sign() < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
	return m.state.ConsecutiveLosses
}

// MarkDailyDrawdownTripped records that the daily drawdown limit fired once
// today, so the Risk Manager's halt decision is idempotent until the next
// UTC rollover.
func (m *Manager) MarkDailyDrawdownTripped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyDrawdownReset = true
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DailyDrawdownPct returns (dailyStart-equity)/dailyStart, positive when
// underwater, given the current equity.
func (m *Manager) DailyDrawdownPct(equity decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.DailyStartEquity.IsZero() {
		return decimal.Zero
	}
	return m.state.DailyStartEquity.Sub(equity).Div(m.state.DailyStartEquity)
}

// TotalDrawdownPct returns (highWaterMark-equity)/highWaterMark.
func (m *Manager) TotalDrawdownPct(equity decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.EquityHighWaterMark.IsZero() {
		return decimal.Zero
	}
	return m.state.EquityHighWaterMark.Sub(equity).Div(m.state.EquityHighWaterMark)
}
