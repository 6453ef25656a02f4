package indicators

import "errors"

type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// MACDValue holds the latest MACD line, signal line and histogram
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// NewMACD creates a new MACD instance with specified fast, slow, and signal periods
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
	}
}

// RequiredPeriods returns the number of prices needed for a signal line
func (m *MACD) RequiredPeriods() int {
	return m.slowPeriod + m.signalPeriod - 1
}

// Calculate computes the MACD line, signal line, and histogram
func (m *MACD) Calculate(prices []float64) (MACDValue, error) {
	if len(prices) < m.RequiredPeriods() {
		return MACDValue{}, errors.New("insufficient data for MACD calculation")
	}

	fast, err := EMASeries(prices, m.fastPeriod)
	if err != nil {
		return MACDValue{}, err
	}
	slow, err := EMASeries(prices, m.slowPeriod)
	if err != nil {
		return MACDValue{}, err
	}

	// Align both series on the slow EMA's first index
	offset := m.slowPeriod - m.fastPeriod
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	signal, err := EMA(line, m.signalPeriod)
	if err != nil {
		return MACDValue{}, err
	}

	last := line[len(line)-1]
	return MACDValue{MACD: last, Signal: signal, Histogram: last - signal}, nil
}
