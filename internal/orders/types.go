package orders

import (
	"time"

	"github.com/ducminhle1904/trade-automation/internal/execution"
)

// OrderKind selects which OrderType payload is set
type OrderKind string

const (
	KindStopLoss     OrderKind = "stop_loss"
	KindTakeProfit   OrderKind = "take_profit"
	KindLimit        OrderKind = "limit"
	KindTrailingStop OrderKind = "trailing_stop"
	KindOCO          OrderKind = "oco"
	KindBracket      OrderKind = "bracket"
)

// TimeInForce for limit orders
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // good till cancelled
	IOC TimeInForce = "IOC" // immediate or cancel
	FOK TimeInForce = "FOK" // fill or kill
	GTD TimeInForce = "GTD" // good till date
)

type StopLossParams struct {
	TriggerPrice float64  `json:"trigger_price"`
	LimitPrice   *float64 `json:"limit_price,omitempty"`
}

type TakeProfitParams struct {
	TriggerPrice   float64 `json:"trigger_price"`
	PartialFillPct float64 `json:"partial_fill_pct,omitempty"` // 0 or 100 sells everything at once
}

type LimitParams struct {
	Price       float64        `json:"price"`
	Side        execution.Side `json:"side"`
	TimeInForce TimeInForce    `json:"time_in_force"`
	GoodTill    *time.Time     `json:"good_till,omitempty"`
}

type TrailingStopParams struct {
	TrailPercentage float64  `json:"trail_percentage"`
	TrailAmount     *float64 `json:"trail_amount,omitempty"`
	CurrentStop     float64  `json:"current_stop"`
	HighestPrice    float64  `json:"highest_price"`
}

type OCOParams struct {
	PrimaryID   string `json:"primary_id"`
	SecondaryID string `json:"secondary_id"`
}

type BracketParams struct {
	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	EntryID      string  `json:"entry_id"`
	StopLossID   string  `json:"stop_loss_id"`
	TakeProfitID string  `json:"take_profit_id"`
}

// OrderType is a closed union; exactly the payload named by Kind is set
type OrderType struct {
	Kind         OrderKind           `json:"kind"`
	StopLoss     *StopLossParams     `json:"stop_loss,omitempty"`
	TakeProfit   *TakeProfitParams   `json:"take_profit,omitempty"`
	Limit        *LimitParams        `json:"limit,omitempty"`
	TrailingStop *TrailingStopParams `json:"trailing_stop,omitempty"`
	OCO          *OCOParams          `json:"oco,omitempty"`
	Bracket      *BracketParams      `json:"bracket,omitempty"`
}

// Side returns the trade direction an order of this type executes
func (t OrderType) Side() execution.Side {
	switch t.Kind {
	case KindLimit:
		if t.Limit != nil {
			return t.Limit.Side
		}
		return execution.SideBuy
	case KindStopLoss, KindTakeProfit, KindTrailingStop:
		return execution.SideSell
	default:
		return execution.SideSell
	}
}

// container orders group legs and never execute themselves
func (t OrderType) container() bool {
	return t.Kind == KindOCO || t.Kind == KindBracket
}

func (t OrderType) payloadMatches() bool {
	switch t.Kind {
	case KindStopLoss:
		return t.StopLoss != nil
	case KindTakeProfit:
		return t.TakeProfit != nil
	case KindLimit:
		return t.Limit != nil
	case KindTrailingStop:
		return t.TrailingStop != nil
	case KindOCO:
		return t.OCO != nil
	case KindBracket:
		return t.Bracket != nil
	default:
		return false
	}
}

// Status of an order
type Status string

const (
	StatusPending         Status = "pending"
	StatusActive          Status = "active"
	StatusTriggered       Status = "triggered"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
	StatusFailed          Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusActive, StatusCancelled, StatusExpired, StatusFailed},
	StatusActive:          {StatusTriggered, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired, StatusFailed},
	StatusTriggered:       {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusFailed},
	StatusPartiallyFilled: {StatusFilled, StatusCancelled, StatusExpired, StatusFailed},
}

// IsTerminal reports whether the status can never change again
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the status graph
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ExecutionConfig controls how a triggered order is executed
type ExecutionConfig struct {
	MaxSlippageBps uint32        `json:"max_slippage_bps"`
	MinLiquidity   float64       `json:"min_liquidity"` // 24h USD volume floor
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	PriorityFee    uint64        `json:"priority_fee"`
}

// DefaultExecutionConfig returns 1% slippage, 10k liquidity and 3 retries 5s apart
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxSlippageBps: 100,
		MinLiquidity:   10000,
		RetryAttempts:  3,
		RetryDelay:     5 * time.Second,
		PriorityFee:    10000,
	}
}

// Order is a conditional trade owned by the Manager
type Order struct {
	ID           string            `json:"id"`
	Owner        string            `json:"owner"`
	Token        string            `json:"token"`
	Amount       float64           `json:"amount"` // tokens for sells, quote token for buys
	Remaining    float64           `json:"remaining"`
	Type         OrderType         `json:"type"`
	Status       Status            `json:"status"`
	Conditions   TriggerConditions `json:"conditions"`
	Execution    ExecutionConfig   `json:"execution"`
	ParentID     string            `json:"parent_id,omitempty"`
	LinkedIDs    []string          `json:"linked_ids,omitempty"`
	Forced       bool              `json:"forced,omitempty"` // execute without evaluating conditions
	FailureCount int               `json:"failure_count"`
	LastError    string            `json:"last_error,omitempty"`
	LastAttempt  time.Time         `json:"last_attempt,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

func (o *Order) clone() *Order {
	c := *o
	c.LinkedIDs = append([]string(nil), o.LinkedIDs...)
	c.Conditions = o.Conditions.clone()
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	t := o.Type
	if t.StopLoss != nil {
		v := *t.StopLoss
		t.StopLoss = &v
	}
	if t.TakeProfit != nil {
		v := *t.TakeProfit
		t.TakeProfit = &v
	}
	if t.Limit != nil {
		v := *t.Limit
		t.Limit = &v
	}
	if t.TrailingStop != nil {
		v := *t.TrailingStop
		t.TrailingStop = &v
	}
	if t.OCO != nil {
		v := *t.OCO
		t.OCO = &v
	}
	if t.Bracket != nil {
		v := *t.Bracket
		t.Bracket = &v
	}
	c.Type = t
	return &c
}

// TriggerReason records which condition category fired an execution
type TriggerReason string

const (
	ReasonPrice     TriggerReason = "price_condition_met"
	ReasonVolume    TriggerReason = "volume_condition_met"
	ReasonTime      TriggerReason = "time_condition_met"
	ReasonTechnical TriggerReason = "technical_condition_met"
	ReasonWeighted  TriggerReason = "weighted_score_met"
	ReasonForced    TriggerReason = "force_execution"
)

// OrderExecution is one execution attempt
type OrderExecution struct {
	ID            string         `json:"id"`
	OrderID       string         `json:"order_id"`
	Owner         string         `json:"owner"`
	Token         string         `json:"token"`
	Side          execution.Side `json:"side"`
	Reason        TriggerReason  `json:"reason"`
	MarketPrice   float64        `json:"market_price"`
	ExecutedPrice float64        `json:"executed_price"`
	Amount        float64        `json:"amount"`
	SlippageBps   float64        `json:"slippage_bps"`
	Fee           float64        `json:"fee"`
	TxSignature   string         `json:"tx_signature,omitempty"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	ExecutedAt    time.Time      `json:"executed_at"`
}
