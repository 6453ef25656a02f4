package risk

import (
	"math"
	"sort"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const (
	kellyFraction = 0.25
	year          = 365 * 24 * time.Hour
)

// MaxDrawdown is the largest peak-to-trough decline of compounded returns, in percent
func MaxDrawdown(returns []float64) float64 {
	peak, equity, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > worst {
			worst = dd
		}
	}
	return worst * 100
}

// VaR is the historical value at risk of returns at confidence, in percent.
// Losses are negative.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	return sorted[tailIndex(len(sorted), confidence)] * 100
}

// CVaR is the mean of the returns at or beyond VaR, in percent
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	tail := sorted[:tailIndex(len(sorted), confidence)+1]
	sum := 0.0
	for _, r := range tail {
		sum += r
	}
	return sum / float64(len(tail)) * 100
}

func tailIndex(n int, confidence float64) int {
	idx := int((1 - confidence) * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Sharpe is the per-period excess return over its standard deviation
func Sharpe(returns []float64, riskFree float64) float64 {
	sd := indicators.StdDev(returns)
	if sd == 0 {
		return 0
	}
	return (mean(returns) - riskFree) / sd
}

// Sortino is the per-period excess return over the downside deviation
func Sortino(returns []float64, riskFree float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var downside float64
	for _, r := range returns {
		if d := math.Min(r-riskFree, 0); d < 0 {
			downside += d * d
		}
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (mean(returns) - riskFree) / dd
}

// KellyFraction is the full Kelly bet f = (b·p − q)/b with b = avgWin/avgLoss
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	return (b*winRate - (1 - winRate)) / b
}

// FractionalKelly takes a quarter of full Kelly, clamped into [lo, hi]
func FractionalKelly(winRate, avgWin, avgLoss, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, KellyFraction(winRate, avgWin, avgLoss)*kellyFraction))
}

// PeriodsPerYear infers the sampling frequency of points from their timestamps
func PeriodsPerYear(points []types.PricePoint) float64 {
	if len(points) < 2 {
		return 365
	}
	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp)
	if span <= 0 {
		return 365
	}
	step := span / time.Duration(len(points)-1)
	return float64(year) / float64(step)
}

// computeMetrics derives every model metric from the price history
func computeMetrics(points []types.PricePoint, lookback int) Metrics {
	if lookback > 0 && len(points) > lookback+1 {
		points = points[len(points)-lookback-1:]
	}
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	returns := indicators.Returns(prices)

	return Metrics{
		Volatility:  indicators.AnnualizedVolatility(prices, PeriodsPerYear(points)),
		VaR95:       VaR(returns, 0.95),
		CVaR95:      CVaR(returns, 0.95),
		MaxDrawdown: MaxDrawdown(returns),
		Sharpe:      Sharpe(returns, 0),
		Sortino:     Sortino(returns, 0),
		Samples:     len(returns),
	}
}
