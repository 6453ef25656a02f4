package indicators

import "math"

// Returns converts a price series into simple period returns, skipping non-positive prices
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// RealizedVolatility is the standard deviation of simple returns, as a fraction per period
func RealizedVolatility(prices []float64) float64 {
	returns := Returns(prices)
	if len(returns) < 2 {
		return 0
	}
	return sampleStdDev(returns)
}

// AnnualizedVolatility scales per-period volatility by sqrt(periodsPerYear)
func AnnualizedVolatility(prices []float64, periodsPerYear float64) float64 {
	return RealizedVolatility(prices) * math.Sqrt(periodsPerYear)
}

func sampleStdDev(values []float64) float64 {
	n := float64(len(values))
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= n

	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / (n - 1))
}
