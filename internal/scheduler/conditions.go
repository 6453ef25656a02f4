package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/internal/orders"
	"github.com/ducminhle1904/trade-automation/internal/risk"
	"github.com/ducminhle1904/trade-automation/internal/safety"
)

// BalanceSource reads owner balances for minimum_balance conditions
type BalanceSource interface {
	GetBalance(ctx context.Context, owner string) (*execution.Balance, error)
}

// Quoter prices a buy without executing it
type Quoter interface {
	Quote(ctx context.Context, side execution.Side, req execution.TradeRequest) (*execution.TradeResult, error)
}

// FeeSource reports the current network priority fee in lamports
type FeeSource interface {
	GetRecentPriorityFee(ctx context.Context) (uint64, error)
}

// BreakerRegistry exposes the circuit breakers guarding external APIs
type BreakerRegistry interface {
	Get(name string) (*safety.CircuitBreaker, bool)
}

// ConditionSources backs execution conditions. A nil source fails the conditions that need it.
type ConditionSources struct {
	Balances BalanceSource
	Quotes   Quoter
	Fees     FeeSource
	Breakers BreakerRegistry
}

// checkConditions returns the first failing condition, or "" when all hold.
// A user approval is consumed only when every other condition passed.
func (s *Scheduler) checkConditions(ctx context.Context, c *ScheduleConfig, now time.Time) string {
	s.mu.RLock()
	src := s.sources
	s.mu.RUnlock()

	needsApproval := false
	for _, cond := range c.Conditions {
		if cond.Kind == ConditionUserApproval {
			needsApproval = true
			continue
		}
		if reason := s.checkCondition(ctx, src, c, cond, now); reason != "" {
			return reason
		}
	}
	if !needsApproval {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.approvals[c.ID] {
		return "awaiting user approval"
	}
	delete(s.approvals, c.ID)
	return ""
}

func (s *Scheduler) checkCondition(ctx context.Context, src ConditionSources, c *ScheduleConfig, cond ExecutionCondition, now time.Time) string {
	switch cond.Kind {
	case ConditionMinBalance:
		if src.Balances == nil {
			return "balance source unavailable"
		}
		bal, err := src.Balances.GetBalance(ctx, c.Owner)
		if err != nil {
			return fmt.Sprintf("balance check failed: %v", err)
		}
		var have float64
		switch strings.ToUpper(cond.Asset) {
		case "USDC":
			have = bal.USDC
		case "USD":
			have = bal.TotalUSD
		default:
			have = bal.SOL
		}
		if have < cond.MinAmount {
			return fmt.Sprintf("%s balance %.6f below %.6f", cond.Asset, have, cond.MinAmount)
		}

	case ConditionMaxSlippage:
		if src.Quotes == nil {
			return "quote source unavailable"
		}
		snap, ok := s.snapshot(c.Token)
		if !ok {
			return "no market price"
		}
		amount := cond.QuoteAmount
		if amount <= 0 {
			amount = 1
		}
		quote, err := src.Quotes.Quote(ctx, execution.SideBuy, execution.TradeRequest{Owner: c.Owner, Token: c.Token, Amount: amount})
		if err != nil {
			return fmt.Sprintf("quote failed: %v", err)
		}
		if quote.PriceUSD <= 0 {
			return "quote has no usd price"
		}
		bps := (quote.PriceUSD - snap.Price) / snap.Price * 10_000
		if bps > float64(cond.MaxSlippageBps) {
			return fmt.Sprintf("expected slippage %.0f bps above %d", bps, cond.MaxSlippageBps)
		}

	case ConditionMaxVolatility:
		snap, ok := s.snapshot(c.Token)
		if !ok {
			return "no market data"
		}
		prices := snap.Prices()
		if len(prices) < 3 {
			return ""
		}
		vol := indicators.AnnualizedVolatility(prices, risk.PeriodsPerYear(snap.History)) * 100
		if vol > cond.MaxVolatility {
			return fmt.Sprintf("volatility %.1f%% above %.1f%%", vol, cond.MaxVolatility)
		}

	case ConditionMaxPriorityFee:
		if src.Fees == nil {
			return "fee source unavailable"
		}
		fee, err := src.Fees.GetRecentPriorityFee(ctx)
		if err != nil {
			return fmt.Sprintf("fee check failed: %v", err)
		}
		if fee > cond.MaxPriorityFee {
			return fmt.Sprintf("network congested: priority fee %d above %d", fee, cond.MaxPriorityFee)
		}

	case ConditionAPIHealth:
		if src.Breakers == nil {
			return ""
		}
		if cb, ok := src.Breakers.Get(cond.API); ok && cb.GetState() == safety.StateOpen {
			return fmt.Sprintf("%s is unavailable", cond.API)
		}

	case ConditionPriceStability:
		snap, ok := s.snapshot(c.Token)
		if !ok {
			return "no market data"
		}
		past, ok := snap.PriceAt(now.Add(-time.Duration(cond.TimeframeMinutes) * time.Minute))
		if !ok || past <= 0 {
			return "not enough price history"
		}
		change := math.Abs(snap.Price-past) / past * 100
		if change > cond.MaxChangePct {
			return fmt.Sprintf("price moved %.2f%% in %dm", change, cond.TimeframeMinutes)
		}
	}
	return ""
}

// conditionMet reports whether a polling schedule's market condition holds now
func (s *Scheduler) conditionMet(c *ScheduleConfig, now time.Time) bool {
	snap, ok := s.snapshot(c.Token)
	if !ok {
		return false
	}
	switch c.Type.Kind {
	case KindPrice:
		tc := orders.TriggerConditions{Price: c.Type.Price.Conditions, Logic: orders.LogicAnd}
		return orders.Evaluate(tc, snap, now).Triggered
	case KindTechnical:
		tc := orders.TriggerConditions{Technical: c.Type.Technical.Indicators, Logic: orders.LogicAnd}
		return orders.Evaluate(tc, snap, now).Triggered
	case KindVolume:
		v := c.Type.Volume
		if snap.Volume24h < v.VolumeThreshold {
			return false
		}
		if v.SpikePct <= 0 {
			return true
		}
		avg := snap.AverageVolume()
		return avg > 0 && snap.Volume24h >= avg*(1+v.SpikePct/100)
	}
	return true
}
