package optimize

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Genome.Decode must always land within genomeLayout's bounds and keep
// slow_sma strictly greater than fast_sma (the genetic engine's analogue of
// universal property 5).
func TestGenomeDecode_WithinBoundsAndOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := types.AnalystConfig{StrategyMode: "dual_sma"}

	for i := 0; i < 50; i++ {
		g := randomGenome(rng)
		cfg := g.Decode(base)

		assert.Less(t, cfg.FastSMAPeriod, cfg.SlowSMAPeriod)
		assert.GreaterOrEqual(t, cfg.RSIPeriod, 7)
		assert.LessOrEqual(t, cfg.RSIPeriod, 21)
		assert.True(t, cfg.BBStdDev.GreaterThanOrEqual(decimal.NewFromFloat(1.5)))
		assert.True(t, cfg.BBStdDev.LessThanOrEqual(decimal.NewFromFloat(3)))
		assert.Equal(t, "dual_sma", cfg.StrategyMode)
	}
}

// Universal property 7: the first element of the final results has
// objective score >= the best per-generation score observed.
func TestFinalizeGenetic_GlobalBestWins(t *testing.T) {
	finalGen := []individual{
		{score: 0.3, config: types.AnalystConfig{FastSMAPeriod: 5}},
		{score: 0.1, config: types.AnalystConfig{FastSMAPeriod: 6}},
	}
	// A stronger individual seen in an earlier generation, lost to drift.
	earlierBest := individual{score: 0.9, config: types.AnalystConfig{FastSMAPeriod: 7}}

	out := finalizeGenetic(finalGen, &earlierBest)

	require.NotEmpty(t, out)
	assert.Equal(t, 0.9, out[0].ObjectiveScore)
	assert.GreaterOrEqual(t, out[0].ObjectiveScore, finalGen[0].score)
}

// When the final generation's own top scorer already is the global best, it
// is not duplicated at position 0.
func TestFinalizeGenetic_NoDuplicationWhenFinalGenWins(t *testing.T) {
	finalGen := []individual{
		{score: 0.9, config: types.AnalystConfig{FastSMAPeriod: 5}},
		{score: 0.1, config: types.AnalystConfig{FastSMAPeriod: 6}},
	}
	globalBest := finalGen[0]

	out := finalizeGenetic(finalGen, &globalBest)

	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].ObjectiveScore)
}
