package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/agent-core/internal/backtest"
)

// S6 — objective score math.
func TestScore_ObjectiveMath(t *testing.T) {
	m := backtest.Metrics{Sharpe: 2.0, TotalReturn: 15.0, MaxDrawdown: 5.0, WinRate: 60.0}
	assert.InDelta(t, 0.96, Score(m), 1e-9)
}

// Universal property 5: GridSearch never produces a fast_sma >= slow_sma
// combination.
func TestGridConfigs_SkipsFastGESlow(t *testing.T) {
	configs := gridConfigs(ParameterGrid{
		FastSMAValues: []int{5, 10, 30},
		SlowSMAValues: []int{10, 20},
	})
	for _, cfg := range configs {
		assert.Lessf(t, cfg.FastSMAPeriod, cfg.SlowSMAPeriod,
			"fast=%d slow=%d should have been skipped", cfg.FastSMAPeriod, cfg.SlowSMAPeriod)
	}
	// 5/10, 5/20, 10/20 survive; 10/10, 30/10, 30/20 are skipped.
	assert.Len(t, configs, 3)
}

func sharpePtr(v float64) *float64 { return &v }

// S5 — walk-forward overfit rejection: config A (IS=2.0, OOS=0.5) is
// excluded since 0.5 < 0.5*2.0; config B (IS=1.5, OOS=1.2) survives and
// ranks first since its OOS Sharpe is higher.
func TestFilterAndRank_WalkForwardOverfitRejection(t *testing.T) {
	configA := GridResult{Metrics: backtest.Metrics{Sharpe: 0.5}, InSampleSharpe: sharpePtr(2.0), index: 0}
	configB := GridResult{Metrics: backtest.Metrics{Sharpe: 1.2}, InSampleSharpe: sharpePtr(1.5), index: 1}

	survivors := filterAndRank([]GridResult{configA, configB}, true)

	if assert.Len(t, survivors, 1) {
		assert.InDelta(t, 1.2, survivors[0].Metrics.Sharpe, 1e-9)
	}
}

// Universal property 6, restated directly: no surviving result has
// in_sample_sharpe > 0 AND out_of_sample_sharpe < 0.5 * in_sample_sharpe.
func TestFilterAndRank_NoOverfitSurvivors(t *testing.T) {
	results := []GridResult{
		{Metrics: backtest.Metrics{Sharpe: 1.0}, InSampleSharpe: sharpePtr(3.0)},
		{Metrics: backtest.Metrics{Sharpe: 2.0}, InSampleSharpe: sharpePtr(3.0)},
		{Metrics: backtest.Metrics{Sharpe: -1.0}, InSampleSharpe: sharpePtr(-2.0)}, // IS<=0, never filtered
	}
	survivors := filterAndRank(results, true)
	for _, r := range survivors {
		if r.InSampleSharpe != nil && *r.InSampleSharpe > 0 {
			assert.GreaterOrEqual(t, r.Metrics.Sharpe, 0.5**r.InSampleSharpe)
		}
	}
	assert.Len(t, survivors, 2)
}

// Single-period mode (TrainRatio outside [0.5,0.9]) ranks by objective score
// and never applies the overfit filter.
func TestFilterAndRank_SinglePeriodRanksByObjectiveScore(t *testing.T) {
	low := GridResult{ObjectiveScore: 0.2, index: 0}
	high := GridResult{ObjectiveScore: 0.9, index: 1}
	survivors := filterAndRank([]GridResult{low, high}, false)
	if assert.Len(t, survivors, 2) {
		assert.InDelta(t, 0.9, survivors[0].ObjectiveScore, 1e-9)
	}
}
