package indicators

import "errors"

// SMA returns the simple mean of the last period values
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, errors.New("insufficient data for SMA calculation")
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMASeries returns the exponential moving average at every index from period-1 onwards,
// seeded with the SMA of the first period values
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, errors.New("insufficient data for EMA calculation")
	}

	alpha := 2.0 / float64(period+1)
	seed, _ := SMA(values[:period], period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	ema := seed
	for _, v := range values[period:] {
		ema = alpha*v + (1-alpha)*ema
		out = append(out, ema)
	}
	return out, nil
}

// EMA returns the latest exponential moving average value
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}
