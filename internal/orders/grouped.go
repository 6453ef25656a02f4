package orders

import (
	"context"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
)

// CreateOCO registers two sell legs where a fill of either cancels the other.
// The returned container order tracks the pair.
func (m *Manager) CreateOCO(ctx context.Context, primary, secondary *Order) (*Order, error) {
	if primary == nil || secondary == nil {
		return nil, errors.NewValidationError(component, "create_oco", "both legs are required")
	}
	if primary.Owner != secondary.Owner || primary.Token != secondary.Token {
		return nil, errors.NewValidationError(component, "create_oco", "legs must share owner and token")
	}

	legs := []*Order{primary.clone(), secondary.clone()}
	for _, leg := range legs {
		if leg.Type.container() || leg.Type.Side() != execution.SideSell {
			return nil, errors.NewValidationError(component, "create_oco", "legs must be sell orders")
		}
		m.prepare(leg, StatusActive)
		if err := m.validate(leg); err != nil {
			return nil, err
		}
	}

	container := &Order{
		Owner:  primary.Owner,
		Token:  primary.Token,
		Amount: primary.Amount,
		Type: OrderType{Kind: KindOCO, OCO: &OCOParams{
			PrimaryID:   legs[0].ID,
			SecondaryID: legs[1].ID,
		}},
		LinkedIDs: []string{legs[0].ID, legs[1].ID},
	}
	m.prepare(container, StatusActive)

	legs[0].ParentID, legs[0].LinkedIDs = container.ID, []string{legs[1].ID}
	legs[1].ParentID, legs[1].LinkedIDs = container.ID, []string{legs[0].ID}

	if err := m.persist(ctx, container, legs[0], legs[1]); err != nil {
		return nil, err
	}
	m.insert(container, legs[0], legs[1])

	m.logger.Info("oco order created",
		zap.String("order_id", container.ID),
		zap.String("primary_id", legs[0].ID),
		zap.String("secondary_id", legs[1].ID))
	m.notify(ctx, container, notifications.EventOrderCreated, notifications.LevelInfo, "one-cancels-other order created")
	return container.clone(), nil
}

// CreateBracket registers an entry limit buy spending quoteAmount at entryPrice
// with a stop loss and take profit that activate as an OCO pair once the entry fills.
func (m *Manager) CreateBracket(ctx context.Context, owner, token string, quoteAmount, entryPrice, stopLoss, takeProfit float64) (*Order, error) {
	if !(stopLoss < entryPrice && entryPrice < takeProfit) {
		return nil, errors.NewValidationError(component, "create_bracket", "bracket needs stop_loss < entry_price < take_profit")
	}

	entry := NewLimit(owner, token, quoteAmount, entryPrice, execution.SideBuy, GTC, nil)
	m.prepare(entry, StatusActive)
	if err := m.validate(entry); err != nil {
		return nil, err
	}

	// Children carry a placeholder amount until the entry reports tokens received
	sl := NewStopLoss(owner, token, quoteAmount/entryPrice, stopLoss)
	tp := NewTakeProfit(owner, token, quoteAmount/entryPrice, takeProfit, 100)
	for _, child := range []*Order{sl, tp} {
		m.prepare(child, StatusPending)
		if err := m.validate(child); err != nil {
			return nil, err
		}
	}

	container := &Order{
		Owner:  owner,
		Token:  token,
		Amount: quoteAmount,
		Type: OrderType{Kind: KindBracket, Bracket: &BracketParams{
			EntryPrice:   entryPrice,
			StopLoss:     stopLoss,
			TakeProfit:   takeProfit,
			EntryID:      entry.ID,
			StopLossID:   sl.ID,
			TakeProfitID: tp.ID,
		}},
		LinkedIDs: []string{entry.ID, sl.ID, tp.ID},
	}
	m.prepare(container, StatusActive)

	entry.ParentID = container.ID
	sl.ParentID, sl.LinkedIDs = container.ID, []string{tp.ID}
	tp.ParentID, tp.LinkedIDs = container.ID, []string{sl.ID}

	if err := m.persist(ctx, container, entry, sl, tp); err != nil {
		return nil, err
	}
	m.insert(container, entry, sl, tp)

	m.logger.Info("bracket order created",
		zap.String("order_id", container.ID),
		zap.String("token", token),
		zap.Float64("entry", entryPrice),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit))
	m.notify(ctx, container, notifications.EventOrderCreated, notifications.LevelInfo, "bracket order created")
	return container.clone(), nil
}

// onFill propagates a leg fill to its group; caller holds the lock.
// It returns copies of every order it changed.
func (m *Manager) onFill(o *Order, result *execution.TradeResult) []*Order {
	if o.ParentID == "" {
		return nil
	}
	parent, ok := m.orders[o.ParentID]
	if !ok {
		return nil
	}

	if parent.Type.Kind == KindBracket && parent.Type.Bracket.EntryID == o.ID {
		if o.Status != StatusFilled {
			return nil
		}
		var changed []*Order
		for _, id := range []string{parent.Type.Bracket.StopLossID, parent.Type.Bracket.TakeProfitID} {
			child, ok := m.orders[id]
			if !ok || child.Status != StatusPending {
				continue
			}
			if result != nil && result.TokensReceived > 0 {
				child.Amount = result.TokensReceived
				child.Remaining = result.TokensReceived
			}
			m.setStatus(child, StatusActive)
			changed = append(changed, child.clone())
		}
		return changed
	}

	var changed []*Order
	for _, id := range o.LinkedIDs {
		sibling, ok := m.orders[id]
		if !ok {
			continue
		}
		switch o.Status {
		case StatusFilled:
			if m.setStatus(sibling, StatusCancelled) {
				changed = append(changed, sibling.clone())
			}
		case StatusPartiallyFilled:
			// both legs sell the same position
			if sibling.Remaining > o.Remaining {
				sibling.Remaining = o.Remaining
				sibling.UpdatedAt = m.now()
				changed = append(changed, sibling.clone())
			}
		}
	}
	return append(changed, m.settleParent(o)...)
}

// settleParent closes a group once every leg has finished; caller holds the lock
func (m *Manager) settleParent(o *Order) []*Order {
	if o.ParentID == "" || !o.Status.IsTerminal() {
		return nil
	}
	parent, ok := m.orders[o.ParentID]
	if !ok {
		return nil
	}

	var changed []*Order
	if parent.Type.Kind == KindBracket && parent.Type.Bracket.EntryID == o.ID && o.Status != StatusFilled {
		for _, id := range []string{parent.Type.Bracket.StopLossID, parent.Type.Bracket.TakeProfitID} {
			if child, ok := m.orders[id]; ok && m.setStatus(child, StatusCancelled) {
				changed = append(changed, child.clone())
			}
		}
		m.setStatus(parent, StatusCancelled)
		return append(changed, parent.clone())
	}

	filled := o.Status == StatusFilled
	for _, id := range parent.LinkedIDs {
		if id == o.ID {
			continue
		}
		if _, live := m.orders[id]; live {
			if parent.Type.Kind == KindBracket && id == parent.Type.Bracket.EntryID {
				continue
			}
			return changed
		}
	}
	if filled {
		m.setStatus(parent, StatusFilled)
	} else {
		m.setStatus(parent, StatusCancelled)
	}
	return append(changed, parent.clone())
}
