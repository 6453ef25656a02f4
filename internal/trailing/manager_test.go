package trailing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/orders"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const owner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fakeOrders struct {
	mu        sync.Mutex
	next      int
	live      map[string]*orders.Order
	stops     []float64
	triggered []string
	cancelled []string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{live: make(map[string]*orders.Order)}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	o.ID = fmt.Sprintf("order-%d", f.next)
	f.live[o.ID] = o
	return o, nil
}

func (f *fakeOrders) CancelOrder(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return false, nil
	}
	delete(f.live, id)
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeOrders) UpdateStopPrice(ctx context.Context, id string, stop float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, stop)
	return nil
}

func (f *fakeOrders) UpdateTrailingWatermark(id string, highest float64) {}

func (f *fakeOrders) TriggerOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return errors.NewNotFoundError("orders", "trigger_order", id)
	}
	delete(f.live, id)
	f.triggered = append(f.triggered, id)
	return nil
}

func (f *fakeOrders) GetOrder(id string) (*orders.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.live[id]
	return o, ok
}

type harness struct {
	mgr      *Manager
	orders   *fakeOrders
	monitors *market.Monitors
	now      time.Time
	volume   float64
}

func newHarness(t *testing.T, price float64) *harness {
	t.Helper()
	h := &harness{
		orders:   newFakeOrders(),
		monitors: market.NewMonitors(nil, nil, time.Minute, nil),
		now:      time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC),
		volume:   5_000_000,
	}
	h.mgr = NewManager(h.orders, h.monitors, nil, time.Second, nil)
	h.mgr.SetClock(func() time.Time { return h.now })
	h.setPrice(price)
	return h
}

func (h *harness) setPrice(price float64) {
	h.now = h.now.Add(time.Second)
	h.monitors.Update("SOL", types.PriceData{Token: "SOL", USDPrice: price, Volume24h: h.volume, Timestamp: h.now})
}

func (h *harness) tickAt(price float64) {
	h.setPrice(price)
	h.mgr.Tick(context.Background())
}

func TestManager_PercentageTrailsAndTriggers(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	st, err := h.mgr.CreatePercentage(ctx, owner, "SOL", Long, 100, 2, 5)
	require.NoError(t, err)
	assert.InDelta(t, 95, st.CurrentStop, 1e-9)
	assert.Equal(t, StatusActive, st.Status)

	linked, ok := h.orders.GetOrder(st.OrderID)
	require.True(t, ok)
	assert.Equal(t, orders.KindStopLoss, linked.Type.Kind)
	assert.Equal(t, 2.0, linked.Amount)

	h.tickAt(110)
	got, _ := h.mgr.Get(st.ID)
	assert.InDelta(t, 104.5, got.CurrentStop, 1e-9)
	assert.Equal(t, 1, got.Performance.Adjustments)
	assert.InDelta(t, 9.5, got.Performance.AverageAdjustment, 1e-9)
	require.Len(t, h.orders.stops, 1)
	assert.InDelta(t, 104.5, h.orders.stops[0], 1e-9)

	h.tickAt(106)
	got, _ = h.mgr.Get(st.ID)
	assert.InDelta(t, 104.5, got.CurrentStop, 1e-9, "stop never loosens")
	assert.Equal(t, StatusActive, got.Status)
	assert.Len(t, h.orders.stops, 1)

	h.tickAt(104)
	got, _ = h.mgr.Get(st.ID)
	assert.Equal(t, StatusTriggered, got.Status)
	assert.Equal(t, CauseStopHit, got.TriggerCause)
	assert.Equal(t, []string{st.OrderID}, h.orders.triggered)
	assert.InDelta(t, 110, got.Performance.MaxFavorableExcursion, 1e-9)
	assert.InDelta(t, 4, got.Performance.CurrentProfitPct, 1e-9)
	assert.Equal(t, 2*time.Second, got.Performance.TimeInProfit)

	h.tickAt(120)
	got, _ = h.mgr.Get(st.ID)
	assert.InDelta(t, 104.5, got.CurrentStop, 1e-9, "triggered stops are no longer updated")
}

func TestManager_ShortTrailsDownward(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	st, err := h.mgr.CreatePercentage(ctx, owner, "SOL", Short, 100, 2, 5)
	require.NoError(t, err)
	assert.InDelta(t, 105, st.CurrentStop, 1e-9)

	linked, _ := h.orders.GetOrder(st.OrderID)
	require.Equal(t, orders.KindLimit, linked.Type.Kind)
	assert.Equal(t, execution.SideBuy, linked.Type.Limit.Side)
	assert.Equal(t, orders.PriceAbove, linked.Conditions.Price[0].Type)

	h.tickAt(90)
	got, _ := h.mgr.Get(st.ID)
	assert.InDelta(t, 94.5, got.CurrentStop, 1e-9)

	h.tickAt(93)
	got, _ = h.mgr.Get(st.ID)
	assert.InDelta(t, 94.5, got.CurrentStop, 1e-9)

	h.tickAt(95)
	got, _ = h.mgr.Get(st.ID)
	assert.Equal(t, StatusTriggered, got.Status)
	assert.Len(t, h.orders.triggered, 1)
}

func TestManager_RiskControls(t *testing.T) {
	wide := Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 40}}
	past := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		risk  RiskControls
		price float64
		cause string
	}{
		{"max loss", RiskControls{MaxLossPercentage: 20}, 79, CauseMaxLoss},
		{"profit lock", RiskControls{ProfitLockPercentage: ptr(8)}, 109, CauseProfitLock},
		{"time stop", RiskControls{TimeStop: &past}, 100, CauseTimeStop},
		{"within limits", RiskControls{MaxLossPercentage: 20}, 85, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 100)
			risk := tt.risk
			st, err := h.mgr.Create(context.Background(), CreateRequest{
				Owner: owner, Token: "SOL", Strategy: wide, Side: Long,
				EntryPrice: 100, PositionSize: 1, Risk: &risk,
			})
			require.NoError(t, err)

			h.tickAt(tt.price)
			got, _ := h.mgr.Get(st.ID)
			assert.Equal(t, tt.cause, got.TriggerCause)
			if tt.cause == "" {
				assert.Equal(t, StatusActive, got.Status)
				assert.Empty(t, h.orders.triggered)
			} else {
				assert.Equal(t, StatusTriggered, got.Status)
				assert.Len(t, h.orders.triggered, 1)
			}
		})
	}
}

func TestManager_DrawdownFromWatermark(t *testing.T) {
	h := newHarness(t, 100)
	dd := 10.0
	st, err := h.mgr.Create(context.Background(), CreateRequest{
		Owner: owner, Token: "SOL", Side: Long, EntryPrice: 100, PositionSize: 1,
		Strategy: Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 50}},
		Risk:     &RiskControls{DrawdownLimit: &dd},
	})
	require.NoError(t, err)

	h.tickAt(150)
	h.tickAt(136)
	got, _ := h.mgr.Get(st.ID)
	assert.Equal(t, StatusActive, got.Status)

	h.tickAt(134)
	got, _ = h.mgr.Get(st.ID)
	assert.Equal(t, CauseDrawdown, got.TriggerCause)
}

func TestManager_LowVolumePausesAdjustment(t *testing.T) {
	h := newHarness(t, 100)
	threshold := 10_000_000.0
	risk := DefaultRiskControls()
	risk.VolumeThreshold = &threshold

	st, err := h.mgr.Create(context.Background(), CreateRequest{
		Owner: owner, Token: "SOL", Strategy: PercentageStrategy(5), Side: Long,
		EntryPrice: 100, PositionSize: 1, Risk: &risk,
	})
	require.NoError(t, err)

	h.tickAt(120)
	got, _ := h.mgr.Get(st.ID)
	assert.Equal(t, StatusPaused, got.Status)
	assert.InDelta(t, 95, got.CurrentStop, 1e-9)

	h.volume = 20_000_000
	h.tickAt(120)
	got, _ = h.mgr.Get(st.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.InDelta(t, 114, got.CurrentStop, 1e-9)
}

func TestManager_LinkedOrderClosedElsewhere(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	st, err := h.mgr.CreatePercentage(ctx, owner, "SOL", Long, 100, 1, 5)
	require.NoError(t, err)
	_, err = h.orders.CancelOrder(ctx, st.OrderID)
	require.NoError(t, err)

	h.tickAt(101)
	got, _ := h.mgr.Get(st.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	filled, err := h.mgr.CreatePercentage(ctx, owner, "SOL", Long, 101, 1, 5)
	require.NoError(t, err)
	delete(h.orders.live, filled.OrderID)

	h.tickAt(90)
	got, _ = h.mgr.Get(filled.ID)
	assert.Equal(t, StatusTriggered, got.Status)
	assert.Equal(t, CauseStopHit, got.TriggerCause)
}

func TestManager_CancelAndQueries(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	a, err := h.mgr.CreatePercentage(ctx, owner, "SOL", Long, 100, 1, 5)
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	_, err = h.mgr.CreatePercentage(ctx, owner, "SOL", Long, 100, 1, 3)
	require.NoError(t, err)
	_, err = h.mgr.CreatePercentage(ctx, "someone-else", "SOL", Long, 100, 1, 3)
	require.NoError(t, err)

	stops := h.mgr.GetUserStops(owner)
	require.Len(t, stops, 2)
	assert.Equal(t, a.ID, stops[0].ID)

	ok, err := h.mgr.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{a.OrderID}, h.orders.cancelled)

	ok, err = h.mgr.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel is a no-op")

	ok, _ = h.mgr.Cancel(ctx, "missing")
	assert.False(t, ok)

	perf, ok := h.mgr.GetPerformance(a.ID)
	require.True(t, ok)
	assert.Equal(t, 0, perf.Adjustments)
}

func TestManager_CreateValidation(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"bad strategy", CreateRequest{Owner: owner, Token: "SOL", Strategy: PercentageStrategy(150), EntryPrice: 100, PositionSize: 1}},
		{"zero entry", CreateRequest{Owner: owner, Token: "SOL", Strategy: PercentageStrategy(5), PositionSize: 1}},
		{"zero size", CreateRequest{Owner: owner, Token: "SOL", Strategy: PercentageStrategy(5), EntryPrice: 100}},
		{"bad side", CreateRequest{Owner: owner, Token: "SOL", Strategy: PercentageStrategy(5), Side: "sideways", EntryPrice: 100, PositionSize: 1}},
		{"stop below zero", CreateRequest{Owner: owner, Token: "SOL", Strategy: Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 200}}, EntryPrice: 100, PositionSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.mgr.Create(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
	assert.Empty(t, h.orders.live)
}
