package analyst

import "github.com/atlas-desktop/agent-core/pkg/types"

// candleOFI classifies one candle's order-flow direction from its body: a
// green candle (close above open) counts as all-aggressive buying (+1), a
// red candle (close below open) as all-aggressive selling (-1), and a
// candle that closes at its open contributes 0.
func candleOFI(c types.Candle) float64 {
	switch c.Close.Cmp(c.Open) {
	case 1:
		return 1
	case -1:
		return -1
	default:
		return 0
	}
}

// AggregateOFI folds a window of candles into a single volume-weighted
// order-flow imbalance in [-1, 1]. Equal-volume all-green candles average to
// +1, equal-volume all-red candles average to -1, and mixed activity lands
// strictly between the two.
func AggregateOFI(candles []types.Candle) float64 {
	var weightedSum, totalVolume float64
	for _, c := range candles {
		vol, _ := c.Volume.Float64()
		if vol <= 0 {
			vol = 1 // an unweighted bar still contributes its direction
		}
		weightedSum += candleOFI(c) * vol
		totalVolume += vol
	}
	if totalVolume == 0 {
		return 0
	}
	return weightedSum / totalVolume
}
