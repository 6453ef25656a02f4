package trailing

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/regime"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const (
	defaultInitialPct   = 5.0
	defaultAdaptiveMin  = 0.5
	defaultAdaptiveMax  = 25.0
	defaultATRPeriods   = 14
	defaultVolLookback  = 20
	sidewaysTrendFactor = 0.5
)

// marketView is what a strategy may read about the token on one tick
type marketView struct {
	snap      market.Snapshot
	sentiment float64 // -1 bearish .. 1 bullish
	trend     *regime.Detector
}

func (v marketView) candles() []types.OHLCV {
	if len(v.snap.Candles) > 0 {
		return v.snap.Candles
	}
	out := make([]types.OHLCV, len(v.snap.History))
	for i, p := range v.snap.History {
		out[i] = types.OHLCV{Open: p.Price, High: p.Price, Low: p.Price, Close: p.Price, Volume: p.Volume, Timestamp: p.Timestamp}
	}
	return out
}

// realizedVolPct is the per-period standard deviation of returns in percent
func (v marketView) realizedVolPct(lookback int) float64 {
	prices := v.snap.Prices()
	if lookback > 0 && len(prices) > lookback+1 {
		prices = prices[len(prices)-lookback-1:]
	}
	return indicators.RealizedVolatility(prices) * 100
}

func (v marketView) regime() regime.Regime {
	if v.trend == nil {
		return regime.Regime{Type: regime.RegimeSideways, Strength: sidewaysTrendFactor}
	}
	r, err := v.trend.Classify(v.snap.History)
	if err != nil {
		return regime.Regime{Type: regime.RegimeSideways, Strength: sidewaysTrendFactor}
	}
	return r
}

func (v marketView) volumeRatio() float64 {
	avg := v.snap.AverageVolume()
	if avg <= 0 {
		return 1
	}
	return v.snap.Volume24h / avg
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// validateStrategy rejects strategies whose parameters cannot produce a stop
func validateStrategy(s Strategy) error {
	bad := func(msg string) error {
		return errors.NewValidationError(component, "create", msg)
	}
	pct := func(name string, v float64) error {
		if v <= 0 || v >= 100 {
			return bad(fmt.Sprintf("%s must be in (0, 100), got %.4f", name, v))
		}
		return nil
	}

	switch s.Kind {
	case KindFixedAmount:
		if s.FixedAmount == nil || s.FixedAmount.TrailingAmount <= 0 {
			return bad("fixed amount strategy needs a positive trailing amount")
		}
	case KindPercentage:
		if s.Percentage == nil {
			return bad("percentage strategy has no parameters")
		}
		return pct("trailing percentage", s.Percentage.TrailingPercentage)
	case KindATR:
		if s.ATR == nil || s.ATR.Multiplier <= 0 {
			return bad("atr strategy needs a positive multiplier")
		}
		if s.ATR.MaxTrailingAmount > 0 && s.ATR.MaxTrailingAmount < s.ATR.MinTrailingAmount {
			return bad("atr max trailing amount is below the minimum")
		}
	case KindVolatilityAdjusted:
		if s.Volatility == nil {
			return bad("volatility strategy has no parameters")
		}
		if s.Volatility.MaxPercentage > 0 && s.Volatility.MaxPercentage < s.Volatility.MinPercentage {
			return bad("volatility max percentage is below the minimum")
		}
		return pct("base percentage", s.Volatility.BasePercentage)
	case KindAdaptive:
		if s.Adaptive == nil {
			return bad("adaptive strategy has no parameters")
		}
		return pct("base percentage", s.Adaptive.BasePercentage)
	case KindTimeBased:
		tb := s.TimeBased
		if tb == nil || tb.Period <= 0 {
			return bad("time based strategy needs a positive period")
		}
		if tb.Curve == CurveStep {
			if len(tb.Steps) == 0 {
				return bad("step curve needs at least one step")
			}
			return nil
		}
		if err := pct("initial percentage", tb.InitialPercentage); err != nil {
			return err
		}
		return pct("final percentage", tb.FinalPercentage)
	case KindTechnicalLevels:
		if s.TechnicalLevels == nil {
			return bad("technical levels strategy has no parameters")
		}
		return pct("max trail percentage", s.TechnicalLevels.MaxTrailPercentage)
	default:
		return bad(fmt.Sprintf("unknown strategy %q", s.Kind))
	}
	return nil
}

// initialStop places the first stop from the entry price
func initialStop(s Strategy, side PositionSide, entry float64) float64 {
	st := State{Side: side}
	switch s.Kind {
	case KindFixedAmount:
		return st.offset(entry, s.FixedAmount.TrailingAmount)
	case KindPercentage:
		return st.offset(entry, entry*s.Percentage.TrailingPercentage/100)
	default:
		return st.offset(entry, entry*defaultInitialPct/100)
	}
}

// curve maps progress in [0, 1] to the share of the move from initial to final percentage
func curve(kind CurveType, p float64) float64 {
	switch kind {
	case CurveExponential:
		return p * p
	case CurveLogarithmic:
		return math.Log1p(p) / math.Ln2
	default:
		return p
	}
}

// timeBasedPct interpolates the trail percentage for elapsed time since creation
func timeBasedPct(tb *TimeBasedParams, elapsed time.Duration) float64 {
	p := clamp(float64(elapsed)/float64(tb.Period), 0, 1)
	if tb.Curve == CurveStep {
		idx := int(p * float64(len(tb.Steps)))
		if idx >= len(tb.Steps) {
			idx = len(tb.Steps) - 1
		}
		return tb.Steps[idx]
	}
	return tb.InitialPercentage + (tb.FinalPercentage-tb.InitialPercentage)*curve(tb.Curve, p)
}

func adaptivePct(a *AdaptiveParams, v marketView) float64 {
	pct := a.BasePercentage

	r := v.regime()
	switch r.Type {
	case regime.RegimeBull:
		pct *= 1 + a.TrendFactor*r.Strength
	case regime.RegimeBear:
		pct *= 1 - a.TrendFactor*r.Strength
	}

	pct *= 1 + a.VolatilityFactor*v.realizedVolPct(defaultVolLookback)
	pct *= 1 + a.VolumeFactor*clamp(v.volumeRatio()-1, -1, 1)
	pct *= 1 + a.SentimentFactor*v.sentiment

	lo, hi := a.MinPercentage, a.MaxPercentage
	if lo <= 0 {
		lo = defaultAdaptiveMin
	}
	if hi <= 0 {
		hi = defaultAdaptiveMax
	}
	return clamp(pct, lo, hi)
}

// candidateStop computes the stop the strategy wants at price.
// It returns false while an activation threshold holds trailing back or data is missing.
func candidateStop(st *State, price float64, v marketView, now time.Time) (float64, bool) {
	s := st.Strategy
	switch s.Kind {
	case KindFixedAmount:
		if th := s.FixedAmount.ActivationThreshold; th != nil {
			profit := price - st.EntryPrice
			if st.Side == Short {
				profit = st.EntryPrice - price
			}
			if profit < *th {
				return 0, false
			}
		}
		return st.offset(price, s.FixedAmount.TrailingAmount), true

	case KindPercentage:
		if th := s.Percentage.ActivationThreshold; th != nil && st.profitPct(price) < *th {
			return 0, false
		}
		return st.offset(price, price*s.Percentage.TrailingPercentage/100), true

	case KindATR:
		periods := s.ATR.Periods
		if periods <= 0 {
			periods = defaultATRPeriods
		}
		atr, err := indicators.NewATR(periods).Calculate(v.candles())
		if err != nil {
			return 0, false
		}
		dist := clamp(atr*s.ATR.Multiplier, s.ATR.MinTrailingAmount, s.ATR.MaxTrailingAmount)
		return st.offset(price, dist), true

	case KindVolatilityAdjusted:
		lookback := s.Volatility.LookbackPeriods
		if lookback <= 0 {
			lookback = defaultVolLookback
		}
		pct := s.Volatility.BasePercentage + v.realizedVolPct(lookback)*s.Volatility.VolatilityMultiplier
		pct = clamp(pct, s.Volatility.MinPercentage, s.Volatility.MaxPercentage)
		return st.offset(price, price*pct/100), true

	case KindAdaptive:
		pct := adaptivePct(s.Adaptive, v)
		return st.offset(price, price*pct/100), true

	case KindTimeBased:
		pct := timeBasedPct(s.TimeBased, now.Sub(st.CreatedAt))
		return st.offset(price, price*pct/100), true

	case KindTechnicalLevels:
		tl := s.TechnicalLevels
		supports, resistances := findLevels(v.candles())
		levels := supports
		if st.Side == Short {
			levels = resistances
		}
		if l, ok := nearestLevel(levels, price, tl.LevelStrengthThreshold, st.Side); ok {
			return st.offset(l.Price, l.Price*tl.BufferPercentage/100), true
		}
		return st.offset(price, price*tl.MaxTrailPercentage/100), true
	}
	return 0, false
}
