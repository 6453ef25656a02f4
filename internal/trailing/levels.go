package trailing

import (
	"math"
	"sort"

	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// Level is a support or resistance price. Strength is in [0, 1].
type Level struct {
	Price    float64
	Strength float64
	Touches  int
}

const (
	pivotWindow  = 2
	clusterPct   = 0.005
	fullStrength = 3 // touches at which a level reaches strength 1
)

// findLevels detects swing lows (supports) and swing highs (resistances) in candles,
// merging pivots within clusterPct of each other
func findLevels(candles []types.OHLCV) (supports, resistances []Level) {
	if len(candles) < 2*pivotWindow+1 {
		return nil, nil
	}
	var lows, highs []float64
	for i := pivotWindow; i < len(candles)-pivotWindow; i++ {
		isLow, isHigh := true, true
		for j := i - pivotWindow; j <= i+pivotWindow; j++ {
			if j == i {
				continue
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
			if candles[j].High > candles[i].High {
				isHigh = false
			}
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
		if isHigh {
			highs = append(highs, candles[i].High)
		}
	}
	return cluster(lows), cluster(highs)
}

func cluster(prices []float64) []Level {
	if len(prices) == 0 {
		return nil
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	var (
		out   []Level
		sum   float64
		count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		out = append(out, Level{
			Price:    sum / float64(count),
			Touches:  count,
			Strength: math.Min(float64(count)/fullStrength, 1),
		})
		sum, count = 0, 0
	}
	for i, p := range sorted {
		if count > 0 && (p-sorted[i-1])/sorted[i-1] > clusterPct {
			flush()
		}
		sum += p
		count++
	}
	flush()
	return out
}

// nearestLevel returns the strongest-qualifying level closest to price on the protective side
func nearestLevel(levels []Level, price, minStrength float64, side PositionSide) (Level, bool) {
	var (
		best  Level
		found bool
	)
	for _, l := range levels {
		if l.Strength < minStrength {
			continue
		}
		if side == Long && l.Price >= price {
			continue
		}
		if side == Short && l.Price <= price {
			continue
		}
		if !found || math.Abs(l.Price-price) < math.Abs(best.Price-price) {
			best, found = l, true
		}
	}
	return best, found
}
