package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/config"
	"github.com/ducminhle1904/trade-automation/internal/dca"
	"github.com/ducminhle1904/trade-automation/internal/exchange/bybit"
	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/orders"
	"github.com/ducminhle1904/trade-automation/internal/reporting"
	"github.com/ducminhle1904/trade-automation/internal/risk"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/scheduler"
	"github.com/ducminhle1904/trade-automation/internal/store"
	"github.com/ducminhle1904/trade-automation/internal/trailing"
	"github.com/ducminhle1904/trade-automation/internal/venue"
)

// app owns every long-lived component of the automation process
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *store.SQLiteStore
	breakers   *safety.CircuitBreakerManager
	monitors   *market.Monitors
	actor      *execution.Actor
	orders     *orders.Manager
	trailing   *trailing.Manager
	risk       *risk.Manager
	dca        *dca.Engine
	scheduler  *scheduler.Scheduler
	dispatcher *notifications.Dispatcher
	health     *monitoring.HealthChecker
	server     *http.Server
	status     *cron.Cron

	wg sync.WaitGroup
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	var notifier notifications.Notifier = notifications.Nop{}
	if cfg.TelegramEnabled() {
		a.dispatcher = notifications.NewDispatcher(
			notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID),
			256, logger)
		notifier = a.dispatcher
	}

	execCfg := cfg.ExecutionConfig()
	a.breakers = safety.NewCircuitBreakerManager(logger)
	a.breakers.OnStateChange(func(name string, _, to safety.CircuitBreakerState) {
		monitoring.UpdateCircuitBreakerState(name, int(to))
	})

	exchange := bybit.NewClient(bybit.Config{Testnet: cfg.Exchange.Testnet})
	oracle := bybit.NewOracle(exchange, cfg.Exchange.SymbolMap, cfg.Exchange.Stablecoins,
		safety.NewRateLimiter("price_oracle", cfg.Exchange.OracleRPS, int(cfg.Exchange.OracleRPS)))

	swap := venue.NewJupiterClient(cfg.Venue.SwapAPIURL,
		safety.NewRateLimiter("swap_api", cfg.Venue.SwapAPIRPS, int(cfg.Venue.SwapAPIRPS)), logger)
	rpc := venue.NewRPCClient(cfg.Venue.RPCURL, logger)

	a.actor = execution.NewActor(execCfg, execution.Deps{
		Venue:    swap,
		RPC:      rpc,
		Oracle:   oracle,
		Store:    st,
		Resolver: market.NewTokenResolver(nil),
		Breakers: a.breakers,
		Logger:   logger,
	})

	a.monitors = market.NewMonitors(oracle, a.breakers.GetOrCreate(execution.DepPriceOracle, execCfg.OracleBreaker), time.Minute, logger)
	for token := range cfg.Exchange.SymbolMap {
		a.monitors.Ensure(token)
	}

	a.orders = orders.NewManager(orders.Config{LoopInterval: cfg.Loops.Orders}, a.actor, a.monitors, st, notifier, logger)
	a.trailing = trailing.NewManager(a.orders, a.monitors, notifier, cfg.Loops.Trailing, logger)
	a.risk = risk.NewManager(a.monitors, logger)

	dcaCfg := dca.DefaultConfig()
	dcaCfg.LoopInterval = cfg.Loops.DCA
	a.dca = dca.NewEngine(dcaCfg, a.actor, a.monitors, st, a.risk, notifier, logger)

	a.scheduler = scheduler.NewScheduler(scheduler.Config{LoopInterval: cfg.Loops.Scheduler}, a.dca, a.monitors, st, notifier, logger)
	a.scheduler.SetConditionSources(scheduler.ConditionSources{
		Balances: a.actor,
		Quotes:   a.actor,
		Fees:     rpc,
		Breakers: a.breakers,
	})

	a.health = monitoring.NewHealthChecker(a.breakers, 5*time.Minute)
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", a.health)
	a.server = &http.Server{
		Addr:              cfg.Monitoring.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// restore reloads persisted state, then adds schedules from the YAML file that are not already known
func (a *app) restore(ctx context.Context) error {
	nOrders, err := a.orders.Load(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	nStrategies, err := a.dca.Load(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	nSchedules, err := a.scheduler.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	a.logger.Info("state restored",
		zap.Int("orders", nOrders),
		zap.Int("strategies", nStrategies),
		zap.Int("schedules", nSchedules))

	if a.cfg.Storage.SchedulesFile == "" {
		return nil
	}
	defs, err := config.LoadSchedules(a.cfg.Storage.SchedulesFile)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.ID != "" {
			if _, ok := a.scheduler.GetSchedule(def.ID); ok {
				continue
			}
		}
		if _, err := a.scheduler.AddSchedule(ctx, def); err != nil {
			a.logger.Error("failed to add schedule",
				zap.String("schedule", def.Name),
				zap.String("strategy_id", def.StrategyID),
				zap.Error(err))
		}
	}
	return nil
}

func (a *app) heartbeat(component string) func(error) {
	return func(err error) { a.health.Heartbeat(component, err) }
}

func (a *app) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// start launches every loop; they stop when ctx is cancelled
func (a *app) start(ctx context.Context, statusEvery time.Duration) error {
	a.actor.Start()

	if err := a.monitors.Refresh(ctx); err != nil {
		a.logger.Warn("initial price refresh failed", zap.Error(err))
	}

	a.goLoop(func() { a.monitors.Run(ctx, a.cfg.Loops.PriceRefresh, a.heartbeat("prices")) })
	a.goLoop(func() { a.risk.Run(ctx, a.cfg.Loops.DCA, a.heartbeat("risk")) })
	a.goLoop(func() { a.orders.Run(ctx, a.heartbeat("orders")) })
	a.goLoop(func() { a.trailing.Run(ctx, a.heartbeat("trailing")) })
	a.goLoop(func() { a.dca.Run(ctx, a.heartbeat("dca")) })
	a.goLoop(func() { a.scheduler.Run(ctx, a.heartbeat("scheduler")) })

	a.goLoop(func() {
		a.logger.Info("serving metrics and health", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server stopped", zap.Error(err))
		}
	})

	if statusEvery > 0 {
		a.status = cron.New(cron.WithLocation(time.UTC))
		if _, err := a.status.AddFunc("@every "+statusEvery.String(), a.printStatus); err != nil {
			return fmt.Errorf("status schedule: %w", err)
		}
		a.status.Start()
	}
	return nil
}

func (a *app) printStatus() {
	reporting.RenderStatus(os.Stdout, reporting.Status{
		Health:    a.health.Status(),
		Executor:  a.actor.Metrics(),
		Schedules: a.scheduler.GetActiveSchedules(),
		Scheduler: a.scheduler.GetExecutionStats(),
	})
}

// stop waits for the loops to exit, then releases resources in reverse order
func (a *app) stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.status != nil {
		<-a.status.Stop().Done()
	}
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.wg.Wait()

	if err := a.actor.Shutdown(ctx); err != nil {
		a.logger.Warn("executor shutdown", zap.Error(err))
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", zap.Error(err))
	}
}
