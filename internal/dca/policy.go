package dca

import (
	"math"

	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/risk"
)

const (
	// dip buys get this extra factor while 24h volume is above dipVolumeFloor
	dipVolumeBoost = 1.5
	dipVolumeFloor = 1_000_000

	overboughtFactor = 0.5
	defaultRSIPeriod = 14
)

// Skip reasons reported to metrics
const (
	SkipHighVolatility = "high_volatility"
	SkipLowLiquidity   = "low_liquidity"
	SkipTargetReached  = "target_reached"
	SkipNoGridLevel    = "no_grid_level"
	SkipLowConfidence  = "low_confidence"
	SkipBudgetSpent    = "budget_spent"
	SkipNoPrice        = "no_price"
)

// decision is the sized amount for one cycle, or the reason none is due
type decision struct {
	Amount    float64
	Reason    Reason
	Skip      string
	GridFills []int
}

// conditions summarizes the snapshot for sizing and the risk gate
func conditions(s *Strategy, snap market.Snapshot, confidence *float64) MarketConditions {
	mc := MarketConditions{
		Price:      snap.Price,
		Volume24h:  snap.Volume24h,
		RecentHigh: snap.Price,
		Confidence: confidence,
	}
	prices := snap.Prices()
	for _, p := range prices {
		if p > mc.RecentHigh {
			mc.RecentHigh = p
		}
	}
	if len(prices) > 2 {
		mc.VolatilityPct = indicators.AnnualizedVolatility(prices, risk.PeriodsPerYear(snap.History)) * 100
	}
	if s.Type.Kind == KindMomentum {
		period := defaultRSIPeriod
		if s.Type.Momentum.RSIPeriod > 0 {
			period = s.Type.Momentum.RSIPeriod
		}
		if rsi, err := indicators.NewRSI(period).Calculate(prices); err == nil {
			mc.RSI = &rsi
		}
	}
	return mc
}

// riskGate reports why the market is outside the strategy's limits, or ""
func riskGate(p RiskParameters, mc MarketConditions) string {
	if p.VolatilityThreshold > 0 && mc.VolatilityPct > p.VolatilityThreshold {
		return SkipHighVolatility
	}
	if p.MinLiquidity > 0 && mc.Volume24h < p.MinLiquidity {
		return SkipLowLiquidity
	}
	return ""
}

// size applies the strategy-type policy, then caps at MaxMultiplier times the base and at the remaining budget
func size(s *Strategy, mc MarketConditions) decision {
	base := s.AmountPerExecution
	d := decision{Amount: base, Reason: ReasonScheduled}

	switch s.Type.Kind {
	case KindFixed:
	case KindValueAveraging:
		periods := float64(s.ExecutionCount + 1)
		growth := 1 + s.Type.ValueAveraging.TargetGrowthPct/100
		target := base * periods * math.Pow(growth, periods)
		held := s.TokensAcquired * mc.Price
		d.Amount = target - held
		if d.Amount <= 0 {
			return decision{Skip: SkipTargetReached}
		}
	case KindBuyTheDip:
		p := s.Type.BuyTheDip
		if mc.RecentHigh > 0 {
			dip := (mc.RecentHigh - mc.Price) / mc.RecentHigh * 100
			if dip >= p.DipThreshold {
				d.Amount = base * p.Multiplier
				if mc.Volume24h > dipVolumeFloor {
					d.Amount *= dipVolumeBoost
				}
				d.Reason = ReasonPriceDip
			}
		}
	case KindMomentum:
		p := s.Type.Momentum
		if mc.RSI != nil {
			rsi := *mc.RSI
			switch {
			case rsi < p.Oversold:
				d.Amount = base * (1 + (p.Oversold-rsi)/p.Oversold)
				d.Reason = ReasonMomentum
			case rsi > p.Overbought:
				d.Amount = base * overboughtFactor
			}
		}
	case KindGrid:
		var alloc float64
		for i, lvl := range s.Type.Grid.Levels {
			if !lvl.Filled && mc.Price <= lvl.Price {
				alloc += lvl.AllocationPct
				d.GridFills = append(d.GridFills, i)
			}
		}
		if len(d.GridFills) == 0 {
			return decision{Skip: SkipNoGridLevel}
		}
		d.Amount = s.TotalAmount * alloc / 100
		d.Reason = ReasonGridLevel
	case KindAIEnhanced:
		conf := 0.5
		if mc.Confidence != nil {
			conf = *mc.Confidence
		}
		if conf < s.Type.AIEnhanced.ConfidenceThreshold {
			return decision{Skip: SkipLowConfidence}
		}
		d.Amount = base * (0.5 + conf)
		d.Reason = ReasonAISignal
	}

	if s.MaxMultiplier > 0 && s.Type.Kind != KindGrid {
		d.Amount = math.Min(d.Amount, base*s.MaxMultiplier)
	}
	d.Amount = math.Min(d.Amount, s.Remaining())
	if d.Amount <= 0 {
		return decision{Skip: SkipBudgetSpent}
	}
	return d
}

// riskExit reports a stop-loss, take-profit or drawdown breach of the position against its average entry
func riskExit(s *Strategy, price float64) (string, bool) {
	avg := s.AverageEntry()
	if avg <= 0 || price <= 0 {
		return "", false
	}
	pnl := (price - avg) / avg * 100
	switch {
	case s.Risk.StopLossPct != nil && pnl <= -*s.Risk.StopLossPct:
		return "stop_loss", true
	case s.Risk.TakeProfitPct != nil && pnl >= *s.Risk.TakeProfitPct:
		return "take_profit", true
	case s.Risk.MaxDrawdownPct > 0 && pnl <= -s.Risk.MaxDrawdownPct:
		return "max_drawdown", true
	}
	return "", false
}
