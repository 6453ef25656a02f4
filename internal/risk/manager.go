// Package risk sizes DCA executions from per-strategy risk models and reports
// the risk score, risk factors and hedging suggestions behind each size.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/regime"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const component = "dca_risk"

// MaxHistory bounds the price points a model keeps
const MaxHistory = 1000

// Score weights
const (
	weightVolatility = 0.30
	weightRegime     = 0.20
	weightDrawdown   = 0.20
	weightVaR        = 0.15
	weightLiquidity  = 0.15
)

// Manager owns the risk models attached to strategies. Models on the same
// token see the same price history.
type Manager struct {
	mu        sync.RWMutex
	models    map[string]*Model           // by model key
	detectors map[string]*regime.Detector // by model key

	monitors *market.Monitors
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates a risk manager reading price history from monitors
func NewManager(monitors *market.Monitors, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		models:    make(map[string]*Model),
		detectors: make(map[string]*regime.Detector),
		monitors:  monitors,
		now:       time.Now,
		logger:    logger.Named(component),
	}
}

// SetClock overrides the time source
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func validateModel(t ModelType) error {
	bad := func(msg string) error { return errors.NewValidationError(component, "create_model", msg) }
	switch t.Kind {
	case ModelVolatility:
		if t.Volatility == nil || t.Volatility.VolatilityThreshold <= 0 {
			return bad("volatility model needs a positive threshold")
		}
		if t.Volatility.AdjustmentFactor < 0 || t.Volatility.AdjustmentFactor >= 1 {
			return bad("volatility adjustment factor must be in [0, 1)")
		}
	case ModelVaR:
		if t.VaR == nil || t.VaR.MaxLossPercentage <= 0 {
			return bad("var model needs a positive max loss percentage")
		}
		if t.VaR.ConfidenceLevel <= 0 || t.VaR.ConfidenceLevel >= 1 {
			return bad("var confidence level must be in (0, 1)")
		}
	case ModelKelly:
		k := t.Kelly
		if k == nil || k.WinRate <= 0 || k.WinRate >= 1 {
			return bad("kelly win rate must be in (0, 1)")
		}
		if k.AvgWin <= 0 || k.AvgLoss <= 0 {
			return bad("kelly average win and loss must be positive")
		}
	case ModelRegime:
		r := t.Regime
		if r == nil || r.BullMultiplier <= 0 || r.BearMultiplier <= 0 || r.SidewaysMultiplier <= 0 {
			return bad("regime model needs positive multipliers")
		}
	default:
		return bad(fmt.Sprintf("unknown risk model %q", t.Kind))
	}
	return nil
}

// CreateModel attaches a risk model under key, usually a strategy id, seeded from
// the token's price history. An empty key means the token's default model.
// Creating a model under an existing key replaces it. A nil params uses DefaultParameters.
func (m *Manager) CreateModel(key, token string, t ModelType, params *Parameters) (*Model, error) {
	if token == "" {
		return nil, errors.NewValidationError(component, "create_model", "token is required")
	}
	if key == "" {
		key = token
	}
	if err := validateModel(t); err != nil {
		return nil, err
	}
	p := DefaultParameters()
	if params != nil {
		p = *params
	}
	if p.MinFactor <= 0 || p.MaxFactor < p.MinFactor {
		return nil, errors.NewValidationError(component, "create_model", "factor bounds must satisfy 0 < min <= max")
	}

	model := &Model{Key: key, Token: token, Type: t, Params: p}
	if m.monitors != nil {
		m.monitors.Ensure(token)
		if snap, ok := m.monitors.Snapshot(token); ok {
			model.History = tail(snap.History, MaxHistory)
		}
	}

	m.mu.Lock()
	for k, other := range m.models {
		if k != key && other.Token == token && len(other.History) > len(model.History) {
			model.History = tail(other.History, MaxHistory)
		}
	}
	m.recompute(model)
	m.models[key] = model
	m.detectors[key] = newDetector(t)
	out := model.clone()
	m.mu.Unlock()

	m.logger.Info("risk model created",
		zap.String("key", key),
		zap.String("token", token),
		zap.String("model", string(t.Kind)),
		zap.Int("samples", out.Metrics.Samples))
	return out, nil
}

func newDetector(t ModelType) *regime.Detector {
	cfg := regime.DefaultRegimeConfig()
	if t.Kind == ModelRegime && t.Regime.DetectionPeriods > 0 {
		cfg.SlowPeriod = t.Regime.DetectionPeriods
		cfg.FastPeriod = t.Regime.DetectionPeriods / 3
	}
	return regime.NewDetector(cfg)
}

func tail(points []types.PricePoint, n int) []types.PricePoint {
	if len(points) > n {
		points = points[len(points)-n:]
	}
	return append([]types.PricePoint(nil), points...)
}

// recompute refreshes metrics and confidence from the model history
func (m *Manager) recompute(model *Model) {
	lookback := 0
	if model.Type.Kind == ModelVolatility {
		lookback = model.Type.Volatility.LookbackPeriods
	}
	model.Metrics = computeMetrics(model.History, lookback)
	model.Confidence = 0.5 + 0.5*math.Min(float64(len(model.History))/MaxHistory, 1)
	model.UpdatedAt = m.now()
}

// GetModel returns a copy of the model stored under key
func (m *Manager) GetModel(key string) (*Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[key]
	if !ok {
		return nil, false
	}
	return model.clone(), true
}

// RemoveModel detaches the model stored under key; false if there was none
func (m *Manager) RemoveModel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[key]; !ok {
		return false
	}
	delete(m.models, key)
	delete(m.detectors, key)
	return true
}

// Update appends a price point to every model on token and recomputes their metrics.
// It returns false when no model watches token.
func (m *Manager) Update(token string, point types.PricePoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, model := range m.models {
		if model.Token != token {
			continue
		}
		found = true
		if n := len(model.History); n > 0 && !point.Timestamp.After(model.History[n-1].Timestamp) {
			continue
		}
		model.History = append(model.History, point)
		if len(model.History) > MaxHistory {
			model.History = model.History[len(model.History)-MaxHistory:]
		}
		m.recompute(model)
	}
	return found
}

// Sync appends every monitored observation newer than each model's last point
func (m *Manager) Sync() {
	if m.monitors == nil {
		return
	}
	m.mu.RLock()
	tokens := make(map[string]struct{}, len(m.models))
	for _, model := range m.models {
		tokens[model.Token] = struct{}{}
	}
	m.mu.RUnlock()

	for token := range tokens {
		snap, ok := m.monitors.Snapshot(token)
		if !ok {
			continue
		}
		for _, p := range snap.History {
			m.Update(token, p)
		}
	}
}

// Run syncs models from the price monitors every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration, heartbeat func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sync()
			if heartbeat != nil {
				heartbeat(nil)
			}
		}
	}
}

// RecommendRequest asks for the risk-adjusted size of one execution
type RecommendRequest struct {
	StrategyID string
	Token      string
	BaseAmount float64
}

// Recommend sizes an execution with the model attached to the strategy. Without one the
// token's default model is used, created on demand as a volatility model.
func (m *Manager) Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error) {
	if err := errors.FromContext(ctx.Err(), component, "recommend"); err != nil {
		return nil, err
	}
	if req.BaseAmount <= 0 {
		return nil, errors.NewValidationError(component, "recommend", "base amount must be positive")
	}

	var (
		model *Model
		ok    bool
	)
	if req.StrategyID != "" {
		model, ok = m.GetModel(req.StrategyID)
	}
	if !ok {
		model, ok = m.GetModel(req.Token)
	}
	if !ok {
		var err error
		if model, err = m.CreateModel("", req.Token, DefaultModelType(), nil); err != nil {
			return nil, err
		}
	}

	var volume float64
	if m.monitors != nil {
		if snap, ok := m.monitors.Snapshot(req.Token); ok {
			volume = snap.Volume24h
		}
	}

	reg := m.detectRegime(model)
	factor := adjustmentFactor(model, reg)
	amount := math.Min(req.BaseAmount*factor, model.Params.MaxPositionSize)

	factors := identifyFactors(model, reg, volume)
	rec := &Recommendation{
		StrategyID: req.StrategyID,
		Token:      req.Token,
		BaseAmount: req.BaseAmount,
		Amount:     amount,
		Factor:     factor,
		Confidence: model.Confidence,
		Score:      Score(model, reg, volume),
		Regime:     reg,
		Reason:     executionReason(reg, factors),
		Volume24h:  volume,
		Factors:    factors,
		Hedges:     hedges(factors),
	}

	if req.StrategyID != "" {
		monitoring.UpdateDCARiskScore(req.StrategyID, rec.Score)
	}
	m.logger.Debug("risk-adjusted recommendation",
		zap.String("strategy_id", req.StrategyID),
		zap.String("token", req.Token),
		zap.Float64("base", req.BaseAmount),
		zap.Float64("amount", amount),
		zap.Float64("score", rec.Score),
		zap.String("regime", reg.Type.String()))
	return rec, nil
}

// detectRegime runs the model's detector over its history.
// Short histories are treated as sideways at the model's volatility.
func (m *Manager) detectRegime(model *Model) regime.Regime {
	m.mu.RLock()
	det := m.detectors[model.Key]
	m.mu.RUnlock()

	fallback := regime.Regime{Type: regime.RegimeSideways, Volatility: model.Metrics.Volatility, Timestamp: m.now()}
	if det == nil {
		return fallback
	}
	r, err := det.Detect(model.History)
	if err != nil {
		return fallback
	}
	return r
}

// adjustmentFactor is the multiplier the model applies to the base amount
func adjustmentFactor(model *Model, reg regime.Regime) float64 {
	factor := 1.0
	t := model.Type
	switch t.Kind {
	case ModelVolatility:
		if model.Metrics.Volatility > t.Volatility.VolatilityThreshold {
			factor = 1 - t.Volatility.AdjustmentFactor
		}
	case ModelVaR:
		if v := math.Abs(model.Metrics.VaR95); v > t.VaR.MaxLossPercentage {
			factor = t.VaR.MaxLossPercentage / v
		}
	case ModelKelly:
		return FractionalKelly(t.Kelly.WinRate, t.Kelly.AvgWin, t.Kelly.AvgLoss, model.Params.MinFactor, model.Params.MaxFactor)
	case ModelRegime:
		switch reg.Type {
		case regime.RegimeBull:
			factor = t.Regime.BullMultiplier
		case regime.RegimeBear:
			factor = t.Regime.BearMultiplier
		case regime.RegimeSideways:
			factor = t.Regime.SidewaysMultiplier
		case regime.RegimeTransition:
			factor = 0.5
		}
	}
	return factor
}

// Score blends volatility, regime, drawdown, VaR and liquidity risk into [0, 1]
func Score(model *Model, reg regime.Regime, volume float64) float64 {
	volRisk := math.Min(model.Metrics.Volatility/2, 1)

	var regimeRisk float64
	switch reg.Type {
	case regime.RegimeBull:
		regimeRisk = 0.2
	case regime.RegimeBear:
		regimeRisk = 0.8
	case regime.RegimeTransition:
		regimeRisk = 0.6
	default:
		regimeRisk = math.Min(model.Metrics.Volatility/2, 1)
	}

	ddRisk := math.Min(model.Metrics.MaxDrawdown/100, 1)

	varRisk := 0.5
	if model.Metrics.Samples > 0 {
		varRisk = math.Min(math.Abs(model.Metrics.VaR95)/50, 1)
	}

	liqRisk := 0.3
	if volume > 0 && model.Params.LiquidityThreshold > 0 {
		liqRisk = math.Min(model.Params.LiquidityThreshold/volume, 1)
	}

	score := volRisk*weightVolatility +
		regimeRisk*weightRegime +
		ddRisk*weightDrawdown +
		varRisk*weightVaR +
		liqRisk*weightLiquidity
	return math.Max(0, math.Min(score, 1))
}

func identifyFactors(model *Model, reg regime.Regime, volume float64) []Factor {
	var out []Factor
	if vol := model.Metrics.Volatility; vol > 0.5 {
		sev := SeverityMedium
		if vol > 1 {
			sev = SeverityHigh
		}
		out = append(out, Factor{
			Kind:        FactorHighVolatility,
			Severity:    sev,
			Description: fmt.Sprintf("annualized volatility at %.1f%% is elevated", vol*100),
			Mitigation:  "reduce position size",
		})
	}
	if volume > 0 && volume < 100_000 {
		out = append(out, Factor{
			Kind:        FactorLowLiquidity,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("24h volume of $%.0f is low", volume),
			Mitigation:  "use smaller sizes and wider slippage tolerance",
		})
	}
	switch {
	case reg.Type == regime.RegimeBear && reg.Strength > 0.7:
		out = append(out, Factor{
			Kind:        FactorBearMarket,
			Severity:    SeverityHigh,
			Description: "strong bear market detected",
			Mitigation:  "consider defensive positioning",
		})
	case reg.Type == regime.RegimeTransition:
		out = append(out, Factor{
			Kind:        FactorRegimeTransition,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("regime transition away from %s", reg.From),
			Mitigation:  "exercise caution until the regime settles",
		})
	}
	if model.Metrics.MaxDrawdown > 30 {
		out = append(out, Factor{
			Kind:        FactorDrawdown,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("max drawdown of %.1f%% is concerning", model.Metrics.MaxDrawdown),
			Mitigation:  "add stop-loss protection",
		})
	}
	return out
}

func hedges(factors []Factor) []Hedge {
	var out []Hedge
	for _, f := range factors {
		switch f.Kind {
		case FactorHighVolatility:
			out = append(out, Hedge{Kind: HedgePositionSizing, Description: "reduce position sizes while volatility is high", Effectiveness: 0.7})
		case FactorLowLiquidity:
			out = append(out, Hedge{Kind: HedgeDiversification, Description: "spread purchases across liquid assets", Effectiveness: 0.6})
		case FactorDrawdown:
			cost := 0.005
			out = append(out, Hedge{Kind: HedgeStopLoss, Description: "protect holdings with dynamic stop-loss orders", EstimatedCost: &cost, Effectiveness: 0.8})
		}
	}
	return out
}

func executionReason(reg regime.Regime, factors []Factor) Reason {
	for _, f := range factors {
		if f.Severity == SeverityCritical {
			return ReasonManual
		}
	}
	switch reg.Type {
	case regime.RegimeBear:
		return ReasonPriceDip
	case regime.RegimeBull:
		return ReasonMomentum
	default:
		return ReasonScheduled
	}
}
