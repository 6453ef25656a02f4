// Package execution is the single owner of swap submission. Every request
// passes through a bounded mailbox guarded by a permit pool, and every
// external dependency sits behind its own circuit breaker.
package execution

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/venue"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const component = "executor"

type messageKind int

const (
	msgBuy messageKind = iota
	msgSell
	msgQuoteBuy
	msgQuoteSell
	msgGetBalance
	msgGetPositions
	msgShutdown
)

func (k messageKind) String() string {
	switch k {
	case msgBuy:
		return "buy"
	case msgSell:
		return "sell"
	case msgQuoteBuy:
		return "quote_buy"
	case msgQuoteSell:
		return "quote_sell"
	case msgGetBalance:
		return "get_balance"
	case msgGetPositions:
		return "get_positions"
	default:
		return "shutdown"
	}
}

type reply struct {
	value interface{}
	err   error
}

type message struct {
	kind  messageKind
	ctx   context.Context
	req   TradeRequest
	owner string
	reply chan reply
}

// Actor processes execution requests from its mailbox
type Actor struct {
	cfg       Config
	venue     venue.SwapVenue
	rpc       venue.ChainRPC
	oracle    market.PriceOracle
	store     CostBasisStore
	resolver  *market.TokenResolver
	validator *safety.Validator
	logger    *zap.Logger

	venueBreaker  *safety.CircuitBreaker
	oracleBreaker *safety.CircuitBreaker
	rpcBreaker    *safety.CircuitBreaker
	breakers      *safety.CircuitBreakerManager

	mailbox chan message
	permits chan struct{}

	mu       sync.RWMutex
	closed   bool
	started  bool
	done     chan struct{}
	inflight sync.WaitGroup

	now func() time.Time
}

// Deps bundles the actor's collaborators
type Deps struct {
	Venue    venue.SwapVenue
	RPC      venue.ChainRPC
	Oracle   market.PriceOracle
	Store    CostBasisStore
	Resolver *market.TokenResolver
	Breakers *safety.CircuitBreakerManager
	Logger   *zap.Logger
}

// NewActor creates an actor; Start must be called before requests are served
func NewActor(cfg Config, deps Deps) *Actor {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QuoteToken == "" {
		cfg.QuoteToken = def.QuoteToken
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = market.NewTokenResolver(nil)
	}
	if deps.Breakers == nil {
		deps.Breakers = safety.NewCircuitBreakerManager(deps.Logger)
	}

	return &Actor{
		cfg:           cfg,
		venue:         deps.Venue,
		rpc:           deps.RPC,
		oracle:        deps.Oracle,
		store:         deps.Store,
		resolver:      deps.Resolver,
		validator:     safety.NewValidator(cfg.MinTradeAmount, cfg.MaxTradeAmount),
		logger:        deps.Logger.Named(component),
		venueBreaker:  deps.Breakers.GetOrCreate(DepSwapVenue, cfg.VenueBreaker),
		oracleBreaker: deps.Breakers.GetOrCreate(DepPriceOracle, cfg.OracleBreaker),
		rpcBreaker:    deps.Breakers.GetOrCreate(DepChainRPC, cfg.RPCBreaker),
		breakers:      deps.Breakers,
		mailbox:       make(chan message, cfg.MaxQueue),
		permits:       make(chan struct{}, cfg.MaxConcurrent),
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start launches the mailbox loop
func (a *Actor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	go a.run()
	a.logger.Info("execution actor started",
		zap.Int("max_concurrent", a.cfg.MaxConcurrent),
		zap.Int("max_queue", a.cfg.MaxQueue),
		zap.Duration("timeout", a.cfg.Timeout))
}

func (a *Actor) run() {
	defer close(a.done)
	for msg := range a.mailbox {
		if msg.kind == msgShutdown {
			a.drain()
			a.inflight.Wait()
			a.logger.Info("execution actor stopped")
			return
		}
		a.inflight.Add(1)
		go a.handle(msg)
	}
}

// drain fails everything still queued behind the shutdown message
func (a *Actor) drain() {
	for {
		select {
		case msg := <-a.mailbox:
			if msg.reply != nil {
				msg.reply <- reply{err: errors.ErrShutdown}
				a.releasePermit()
			}
		default:
			return
		}
	}
}

func (a *Actor) handle(msg message) {
	defer a.inflight.Done()
	defer a.releasePermit()

	start := a.now()
	var (
		value interface{}
		err   error
	)
	if msg.ctx.Err() != nil {
		err = errors.FromContext(msg.ctx.Err(), component, msg.kind.String())
	} else {
		switch msg.kind {
		case msgBuy:
			value, err = a.buy(msg.ctx, msg.req, false)
		case msgQuoteBuy:
			value, err = a.buy(msg.ctx, msg.req, true)
		case msgSell:
			value, err = a.sell(msg.ctx, msg.req, false)
		case msgQuoteSell:
			value, err = a.sell(msg.ctx, msg.req, true)
		case msgGetBalance:
			value, err = a.getBalance(msg.ctx, msg.owner)
		case msgGetPositions:
			value, err = a.getPositions(msg.ctx, msg.owner)
		}
	}

	monitoring.RecordExecutorRequest(msg.kind.String(), err == nil, a.now().Sub(start))
	if err != nil {
		monitoring.RecordError(component, string(errors.KindOf(err)))
	}
	msg.reply <- reply{value: value, err: err}
}

func (a *Actor) releasePermit() {
	select {
	case <-a.permits:
	default:
	}
	a.updateResourceGauges()
}

func (a *Actor) updateResourceGauges() {
	monitoring.UpdateExecutorResources(len(a.mailbox), cap(a.permits)-len(a.permits))
}

// acquirePermit blocks until a permit is free, the actor closes, or the timeout elapses
func (a *Actor) acquirePermit(ctx context.Context, op string) error {
	timer := time.NewTimer(a.cfg.Timeout)
	defer timer.Stop()

	select {
	case a.permits <- struct{}{}:
		return nil
	case <-a.done:
		return errors.ErrShutdown
	case <-ctx.Done():
		return errors.FromContext(ctx.Err(), component, op)
	case <-timer.C:
		monitoring.RecordExecutorRejected(op, "permit_timeout")
		return errors.NewTimeoutError(component, op, nil).WithContext("waiting_for", "permit")
	}
}

// submit acquires a permit, enqueues without blocking and waits for the reply
func (a *Actor) submit(ctx context.Context, msg message) (interface{}, error) {
	op := msg.kind.String()

	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		monitoring.RecordExecutorRejected(op, "shutdown")
		return nil, errors.ErrShutdown
	}

	if err := a.acquirePermit(ctx, op); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	msg.ctx = ctx
	msg.reply = make(chan reply, 1)

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		a.releasePermit()
		return nil, errors.ErrShutdown
	}
	select {
	case a.mailbox <- msg:
		a.mu.RUnlock()
	default:
		a.mu.RUnlock()
		a.releasePermit()
		monitoring.RecordExecutorRejected(op, "queue_full")
		a.logger.Warn("execution queue full", zap.String("operation", op), zap.Int("max_queue", a.cfg.MaxQueue))
		return nil, errors.ErrQueueFull
	}
	a.updateResourceGauges()

	select {
	case r := <-msg.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, errors.FromContext(ctx.Err(), component, op)
	}
}

// Buy proposes spending req.Amount of the quote token on req.Token
func (a *Actor) Buy(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	v, err := a.submit(ctx, message{kind: msgBuy, req: req})
	if err != nil {
		return nil, err
	}
	return v.(*TradeResult), nil
}

// Sell proposes selling req.Percentage of the balance, or req.Amount tokens
func (a *Actor) Sell(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	v, err := a.submit(ctx, message{kind: msgSell, req: req})
	if err != nil {
		return nil, err
	}
	return v.(*TradeResult), nil
}

// Quote prices a trade without building a transaction or touching cost basis
func (a *Actor) Quote(ctx context.Context, side Side, req TradeRequest) (*TradeResult, error) {
	kind := msgQuoteBuy
	if side == SideSell {
		kind = msgQuoteSell
	}
	v, err := a.submit(ctx, message{kind: kind, req: req})
	if err != nil {
		return nil, err
	}
	return v.(*TradeResult), nil
}

// GetBalance returns the owner's SOL and USDC holdings
func (a *Actor) GetBalance(ctx context.Context, owner string) (*Balance, error) {
	v, err := a.submit(ctx, message{kind: msgGetBalance, owner: owner})
	if err != nil {
		return nil, err
	}
	return v.(*Balance), nil
}

// GetPositions returns the owner's recorded positions valued at current prices
func (a *Actor) GetPositions(ctx context.Context, owner string) ([]types.Position, error) {
	v, err := a.submit(ctx, message{kind: msgGetPositions, owner: owner})
	if err != nil {
		return nil, err
	}
	return v.([]types.Position), nil
}

// Shutdown stops accepting requests, fails what is still queued and waits for in-flight work
func (a *Actor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if !started {
		a.drain()
		close(a.done)
		return nil
	}

	a.logger.Info("execution actor shutdown initiated", zap.Int("queued", len(a.mailbox)))
	select {
	case a.mailbox <- message{kind: msgShutdown}:
	case <-ctx.Done():
		return errors.FromContext(ctx.Err(), component, "shutdown")
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return errors.FromContext(ctx.Err(), component, "shutdown")
	}
}

// Metrics reports resource utilization and breaker states
func (a *Actor) Metrics() ResourceMetrics {
	depth := len(a.mailbox)
	m := ResourceMetrics{
		AvailablePermits: cap(a.permits) - len(a.permits),
		MaxConcurrent:    cap(a.permits),
		QueueDepth:       depth,
		MaxQueue:         cap(a.mailbox),
		Breakers:         a.breakers.GetStats(),
	}
	if m.MaxQueue > 0 {
		m.QueueUtilization = float64(depth) / float64(m.MaxQueue) * 100
	}
	return m
}
