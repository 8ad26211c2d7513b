package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Property 8: crossing a UTC midnight boundary resets DailyStartEquity to
// the equity observed at that point and clears DailyDrawdownReset.
func TestObserve_UTCMidnightRolloverResetsDailyState(t *testing.T) {
	now := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	m := New(zap.NewNop(), decimal.NewFromInt(100000), clock)
	m.MarkDailyDrawdownTripped()
	require.True(t, m.Snapshot().DailyDrawdownReset)

	// Still July 30 — no rollover yet.
	m.Observe(decimal.NewFromInt(90000))
	assert.True(t, m.Snapshot().DailyStartEquity.Equal(decimal.NewFromInt(100000)))
	assert.True(t, m.Snapshot().DailyDrawdownReset)

	// Cross into July 31 UTC.
	now = time.Date(2026, 7, 31, 0, 5, 0, 0, time.UTC)
	state := m.Observe(decimal.NewFromInt(95000))

	assert.Equal(t, "2026-07-31", state.ReferenceDate)
	assert.True(t, state.DailyStartEquity.Equal(decimal.NewFromInt(95000)))
	assert.False(t, state.DailyDrawdownReset)
}

func TestObserve_TracksEquityHighWaterMark(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	m := New(zap.NewNop(), decimal.NewFromInt(10000), func() time.Time { return now })

	m.Observe(decimal.NewFromInt(12000))
	m.Observe(decimal.NewFromInt(11000)) // dip doesn't lower the mark

	assert.True(t, m.Snapshot().EquityHighWaterMark.Equal(decimal.NewFromInt(12000)))
}

func TestRecordTradeOutcome_ResetsStreakOnWin(t *testing.T) {
	now := time.Now
	m := New(zap.NewNop(), decimal.NewFromInt(1000), now)

	assert.Equal(t, 1, m.RecordTradeOutcome(decimal.NewFromInt(-5)))
	assert.Equal(t, 2, m.RecordTradeOutcome(decimal.NewFromInt(-3)))
	assert.Equal(t, 0, m.RecordTradeOutcome(decimal.NewFromInt(10)))
}

// NewFromState always restores the high-water mark and loss streak, even
// across a UTC day rollover, so a restart after a drawdown cannot silently
// relax the circuit breakers.
func TestNewFromState_AlwaysRestoresHWMAndLossStreakAcrossDayRollover(t *testing.T) {
	restored := types.RiskState{
		ID:                  "prior-session",
		EquityHighWaterMark: decimal.NewFromInt(120000),
		ConsecutiveLosses:   3,
		DailyStartEquity:    decimal.NewFromInt(95000),
		ReferenceDate:       "2026-07-30",
	}
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	m := NewFromState(zap.NewNop(), decimal.NewFromInt(100000), func() time.Time { return now }, restored)

	state := m.Snapshot()
	assert.True(t, state.EquityHighWaterMark.Equal(decimal.NewFromInt(120000)))
	assert.Equal(t, 3, state.ConsecutiveLosses)
	// Yesterday's reference date means the daily baseline resets fresh.
	assert.Equal(t, "2026-07-31", state.ReferenceDate)
	assert.True(t, state.DailyStartEquity.Equal(decimal.NewFromInt(100000)))
}

// NewFromState restores the daily baseline too when the persisted reference
// date is still today (e.g. a crash-and-restart mid-session).
func TestNewFromState_RestoresDailyBaselineWhenSameDay(t *testing.T) {
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	restored := types.RiskState{
		EquityHighWaterMark: decimal.NewFromInt(100000),
		DailyStartEquity:    decimal.NewFromInt(98000),
		DailyDrawdownReset:  true,
		ReferenceDate:       "2026-07-31",
	}
	m := NewFromState(zap.NewNop(), decimal.NewFromInt(100000), func() time.Time { return now }, restored)

	state := m.Snapshot()
	assert.True(t, state.DailyStartEquity.Equal(decimal.NewFromInt(98000)))
	assert.True(t, state.DailyDrawdownReset)
}
