package orders

import (
	"math"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/internal/market"
)

// PriceConditionType selects how a price condition compares
type PriceConditionType string

const (
	PriceAbove            PriceConditionType = "above"
	PriceBelow            PriceConditionType = "below"
	PriceCrossingAbove    PriceConditionType = "crossing_above"
	PriceCrossingBelow    PriceConditionType = "crossing_below"
	PricePercentageChange PriceConditionType = "percentage_change"
	PriceMovingAverage    PriceConditionType = "moving_average"
)

// MAType for moving-average price conditions
type MAType string

const (
	MASimple      MAType = "sma"
	MAExponential MAType = "ema"
)

// PriceCondition compares the current price with a target.
// For PercentageChange the target is a signed percent over Timeframe;
// for MovingAverage it is a signed percent offset from the average.
type PriceCondition struct {
	Type         PriceConditionType `json:"type" yaml:"type"`
	Target       float64            `json:"target" yaml:"target"`
	ToleranceBps uint32             `json:"tolerance_bps" yaml:"tolerance_bps"`
	Timeframe    time.Duration      `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
	MAType       MAType             `json:"ma_type,omitempty" yaml:"ma_type,omitempty"`
	Periods      int                `json:"periods,omitempty" yaml:"periods,omitempty"`
}

type VolumeConditionType string

const (
	VolumeAbove   VolumeConditionType = "above"
	VolumeBelow   VolumeConditionType = "below"
	VolumeSpike   VolumeConditionType = "spike"
	VolumeUnusual VolumeConditionType = "unusual"
)

// VolumeCondition compares 24h volume with a threshold, a multiple of the average, or a z-score
type VolumeCondition struct {
	Type       VolumeConditionType `json:"type" yaml:"type"`
	Threshold  float64             `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Multiplier float64             `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Deviation  float64             `json:"deviation,omitempty" yaml:"deviation,omitempty"`
}

type TimeConditionType string

const (
	TimeAfter       TimeConditionType = "after"
	TimeBefore      TimeConditionType = "before"
	TimeBetween     TimeConditionType = "between"
	TimeMarketOpen  TimeConditionType = "market_open"
	TimeMarketClose TimeConditionType = "market_close"
)

// TimeCondition holds either absolute timestamps or a market name
type TimeCondition struct {
	Type   TimeConditionType `json:"type" yaml:"type"`
	At     time.Time         `json:"at,omitempty" yaml:"at,omitempty"`
	Start  time.Time         `json:"start,omitempty" yaml:"start,omitempty"`
	End    time.Time         `json:"end,omitempty" yaml:"end,omitempty"`
	Market string            `json:"market,omitempty" yaml:"market,omitempty"`
}

type Indicator string

const (
	IndicatorRSI       Indicator = "rsi"
	IndicatorMACD      Indicator = "macd"
	IndicatorBollinger Indicator = "bollinger_bands"
	IndicatorSMA       Indicator = "sma"
)

type IndicatorCondition string

const (
	IndicatorAbove         IndicatorCondition = "above"
	IndicatorBelow         IndicatorCondition = "below"
	IndicatorBetween       IndicatorCondition = "between"
	IndicatorCrossingAbove IndicatorCondition = "crossing_above"
	IndicatorCrossingBelow IndicatorCondition = "crossing_below"
)

// TechnicalCondition compares an indicator reading with a value.
// RSI and Bollinger %B are on 0-100; MACD compares its histogram; SMA compares the average price.
type TechnicalCondition struct {
	Indicator Indicator          `json:"indicator" yaml:"indicator"`
	Condition IndicatorCondition `json:"condition" yaml:"condition"`
	Value     float64            `json:"value" yaml:"value"`
	Upper     float64            `json:"upper,omitempty" yaml:"upper,omitempty"` // Between only
	Period    int                `json:"period,omitempty" yaml:"period,omitempty"`
}

type LogicType string

const (
	LogicAnd      LogicType = "and"
	LogicOr       LogicType = "or"
	LogicWeighted LogicType = "weighted"
)

// Weight order for LogicWeighted
const (
	WeightPrice = iota
	WeightVolume
	WeightTime
	WeightTechnical
	weightCount
)

// TriggerConditions combines every condition of an order
type TriggerConditions struct {
	Price     []PriceCondition     `json:"price,omitempty" yaml:"price,omitempty"`
	Volume    []VolumeCondition    `json:"volume,omitempty" yaml:"volume,omitempty"`
	Time      []TimeCondition      `json:"time,omitempty" yaml:"time,omitempty"`
	Technical []TechnicalCondition `json:"technical,omitempty" yaml:"technical,omitempty"`
	Logic     LogicType            `json:"logic" yaml:"logic"`
	Weights   []float64            `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Empty reports whether no condition of any category is set
func (tc TriggerConditions) Empty() bool {
	return len(tc.Price) == 0 && len(tc.Volume) == 0 && len(tc.Time) == 0 && len(tc.Technical) == 0
}

func (tc TriggerConditions) clone() TriggerConditions {
	c := tc
	c.Price = append([]PriceCondition(nil), tc.Price...)
	c.Volume = append([]VolumeCondition(nil), tc.Volume...)
	c.Time = append([]TimeCondition(nil), tc.Time...)
	c.Technical = append([]TechnicalCondition(nil), tc.Technical...)
	c.Weights = append([]float64(nil), tc.Weights...)
	return c
}

const weightedThreshold = 0.5

// Evaluation is the outcome of checking an order's conditions against a snapshot
type Evaluation struct {
	Triggered bool
	Reason    TriggerReason
	Score     float64
}

type category struct {
	reason    TriggerReason
	satisfied int
	total     int
}

// Evaluate checks conditions against one market snapshot at now
func Evaluate(tc TriggerConditions, snap market.Snapshot, now time.Time) Evaluation {
	cats := [weightCount]category{
		{reason: ReasonPrice},
		{reason: ReasonVolume},
		{reason: ReasonTime},
		{reason: ReasonTechnical},
	}
	for _, c := range tc.Price {
		cats[WeightPrice].add(evalPrice(c, snap, now))
	}
	for _, c := range tc.Volume {
		cats[WeightVolume].add(evalVolume(c, snap))
	}
	for _, c := range tc.Time {
		cats[WeightTime].add(evalTime(c, now))
	}
	for _, c := range tc.Technical {
		cats[WeightTechnical].add(evalTechnical(c, snap))
	}

	switch tc.Logic {
	case LogicOr:
		for _, c := range cats {
			if c.satisfied > 0 {
				return Evaluation{Triggered: true, Reason: c.reason, Score: 1}
			}
		}
		return Evaluation{}

	case LogicWeighted:
		if len(tc.Weights) != weightCount {
			return Evaluation{}
		}
		score := 0.0
		for i, c := range cats {
			if c.total > 0 {
				score += tc.Weights[i] * float64(c.satisfied) / float64(c.total)
			}
		}
		return Evaluation{Triggered: score >= weightedThreshold, Reason: ReasonWeighted, Score: score}

	default:
		var reason TriggerReason
		total := 0
		for _, c := range cats {
			if c.satisfied < c.total {
				return Evaluation{}
			}
			if c.total > 0 && reason == "" {
				reason = c.reason
			}
			total += c.total
		}
		if total == 0 {
			return Evaluation{}
		}
		return Evaluation{Triggered: true, Reason: reason, Score: 1}
	}
}

func (c *category) add(ok bool) {
	c.total++
	if ok {
		c.satisfied++
	}
}

func evalPrice(c PriceCondition, snap market.Snapshot, now time.Time) bool {
	price := snap.Price
	tol := float64(c.ToleranceBps) / 10000

	switch c.Type {
	case PriceAbove:
		return price >= c.Target*(1-tol)
	case PriceBelow:
		return price <= c.Target*(1+tol)
	case PriceCrossingAbove:
		prev, ok := snap.PreviousPrice()
		return ok && prev < c.Target && price >= c.Target
	case PriceCrossingBelow:
		prev, ok := snap.PreviousPrice()
		return ok && prev > c.Target && price <= c.Target
	case PricePercentageChange:
		if c.Timeframe <= 0 {
			return false
		}
		base, ok := snap.PriceAt(now.Add(-c.Timeframe))
		if !ok || base <= 0 {
			return false
		}
		change := (price - base) / base * 100
		if c.Target >= 0 {
			return change >= c.Target
		}
		return change <= c.Target
	case PriceMovingAverage:
		ma, ok := movingAverage(snap.Prices(), c.MAType, c.Periods)
		if !ok {
			return false
		}
		level := ma * (1 + c.Target/100)
		if c.Target >= 0 {
			return price >= level
		}
		return price <= level
	default:
		return false
	}
}

func movingAverage(prices []float64, kind MAType, periods int) (float64, bool) {
	if periods <= 0 {
		periods = 20
	}
	var (
		v   float64
		err error
	)
	if kind == MAExponential {
		v, err = indicators.EMA(prices, periods)
	} else {
		v, err = indicators.SMA(prices, periods)
	}
	return v, err == nil
}

func evalVolume(c VolumeCondition, snap market.Snapshot) bool {
	vol := snap.Volume24h

	switch c.Type {
	case VolumeAbove:
		return vol >= c.Threshold
	case VolumeBelow:
		return vol < c.Threshold
	case VolumeSpike:
		avg := snap.AverageVolume()
		mult := c.Multiplier
		if mult <= 0 {
			mult = 2
		}
		return avg > 0 && vol >= avg*mult
	case VolumeUnusual:
		if len(snap.History) < 3 {
			return false
		}
		past := make([]float64, 0, len(snap.History)-1)
		for _, p := range snap.History[:len(snap.History)-1] {
			past = append(past, p.Volume)
		}
		sd := indicators.StdDev(past)
		if sd == 0 {
			return false
		}
		mean := 0.0
		for _, v := range past {
			mean += v
		}
		mean /= float64(len(past))
		dev := c.Deviation
		if dev <= 0 {
			dev = 2
		}
		return math.Abs(vol-mean)/sd >= dev
	default:
		return false
	}
}

func evalTime(c TimeCondition, now time.Time) bool {
	switch c.Type {
	case TimeAfter:
		return !now.Before(c.At)
	case TimeBefore:
		return now.Before(c.At)
	case TimeBetween:
		return !now.Before(c.Start) && now.Before(c.End)
	case TimeMarketOpen:
		return marketFor(c.Market).IsOpen(now)
	case TimeMarketClose:
		return !marketFor(c.Market).IsOpen(now)
	default:
		return false
	}
}

func marketFor(name string) market.MarketHours {
	if name == "" {
		return market.NYSE()
	}
	if m, ok := market.MarketByName(name); ok {
		return m
	}
	return market.NYSE()
}

func evalTechnical(c TechnicalCondition, snap market.Snapshot) bool {
	prices := snap.Prices()
	cur, ok := indicatorValue(c, prices)
	if !ok {
		return false
	}

	switch c.Condition {
	case IndicatorAbove:
		return cur > c.Value
	case IndicatorBelow:
		return cur < c.Value
	case IndicatorBetween:
		return cur >= c.Value && cur <= c.Upper
	case IndicatorCrossingAbove, IndicatorCrossingBelow:
		if len(prices) < 2 {
			return false
		}
		prev, ok := indicatorValue(c, prices[:len(prices)-1])
		if !ok {
			return false
		}
		if c.Condition == IndicatorCrossingAbove {
			return prev <= c.Value && cur > c.Value
		}
		return prev >= c.Value && cur < c.Value
	default:
		return false
	}
}

func indicatorValue(c TechnicalCondition, prices []float64) (float64, bool) {
	switch c.Indicator {
	case IndicatorRSI:
		period := c.Period
		if period <= 0 {
			period = 14
		}
		v, err := indicators.NewRSI(period).Calculate(prices)
		return v, err == nil
	case IndicatorMACD:
		v, err := indicators.NewMACD(12, 26, 9).Calculate(prices)
		return v.Histogram, err == nil
	case IndicatorBollinger:
		period := c.Period
		if period <= 0 {
			period = 20
		}
		v, err := indicators.NewBollingerBands(period, 2).Calculate(prices)
		return v.PercentB, err == nil
	case IndicatorSMA:
		period := c.Period
		if period <= 0 {
			period = 20
		}
		v, err := indicators.SMA(prices, period)
		return v, err == nil
	default:
		return 0, false
	}
}
