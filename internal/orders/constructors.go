package orders

import (
	"time"

	"github.com/ducminhle1904/trade-automation/internal/execution"
)

func priceTrigger(kind PriceConditionType, target float64) TriggerConditions {
	return TriggerConditions{
		Price: []PriceCondition{{Type: kind, Target: target}},
		Logic: LogicAnd,
	}
}

// NewStopLoss builds an unsaved order selling amount once price falls to stopPrice
func NewStopLoss(owner, token string, amount, stopPrice float64) *Order {
	return &Order{
		Owner:      owner,
		Token:      token,
		Amount:     amount,
		Type:       OrderType{Kind: KindStopLoss, StopLoss: &StopLossParams{TriggerPrice: stopPrice}},
		Conditions: priceTrigger(PriceBelow, stopPrice),
		Execution:  DefaultExecutionConfig(),
	}
}

// NewTakeProfit builds an unsaved order selling once price rises to target.
// partialPct below 100 sells that share first and the remainder on the next trigger.
func NewTakeProfit(owner, token string, amount, target, partialPct float64) *Order {
	return &Order{
		Owner:      owner,
		Token:      token,
		Amount:     amount,
		Type:       OrderType{Kind: KindTakeProfit, TakeProfit: &TakeProfitParams{TriggerPrice: target, PartialFillPct: partialPct}},
		Conditions: priceTrigger(PriceAbove, target),
		Execution:  DefaultExecutionConfig(),
	}
}

// NewLimit builds an unsaved limit order. Buys trigger at or below price, sells at or above.
func NewLimit(owner, token string, amount, price float64, side execution.Side, tif TimeInForce, goodTill *time.Time) *Order {
	cond := PriceAbove
	if side == execution.SideBuy {
		cond = PriceBelow
	}
	if tif == "" {
		tif = GTC
	}
	return &Order{
		Owner:  owner,
		Token:  token,
		Amount: amount,
		Type: OrderType{Kind: KindLimit, Limit: &LimitParams{
			Price: price, Side: side, TimeInForce: tif, GoodTill: goodTill,
		}},
		Conditions: priceTrigger(cond, price),
		Execution:  DefaultExecutionConfig(),
	}
}

// NewTrailingStop builds an unsaved trailing stop whose initial stop sits trailPct below currentPrice
func NewTrailingStop(owner, token string, amount, trailPct, currentPrice float64) *Order {
	stop := currentPrice * (1 - trailPct/100)
	return &Order{
		Owner:  owner,
		Token:  token,
		Amount: amount,
		Type: OrderType{Kind: KindTrailingStop, TrailingStop: &TrailingStopParams{
			TrailPercentage: trailPct, CurrentStop: stop, HighestPrice: currentPrice,
		}},
		Conditions: priceTrigger(PriceBelow, stop),
		Execution:  DefaultExecutionConfig(),
	}
}
