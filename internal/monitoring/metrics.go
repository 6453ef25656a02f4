package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution actor metrics
	executorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_executor_requests_total",
			Help: "Requests handled by the execution actor",
		},
		[]string{"operation", "result"},
	)

	executorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trade_automation_executor_request_duration_seconds",
			Help:    "Time spent processing execution requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	executorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_automation_executor_queue_depth",
			Help: "Requests waiting in the execution mailbox",
		},
	)

	executorAvailablePermits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_automation_executor_available_permits",
			Help: "Free execution permits",
		},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trade_automation_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	// Order manager metrics
	activeOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_automation_active_orders",
			Help: "Orders currently in the active registry",
		},
	)

	orderTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_order_triggers_total",
			Help: "Orders whose trigger conditions matched",
		},
		[]string{"order_type"},
	)

	orderExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_order_executions_total",
			Help: "Order execution attempts",
		},
		[]string{"order_type", "result"},
	)

	orderSlippage = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trade_automation_order_slippage_bps",
			Help:    "Realized slippage of order executions in basis points",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Trailing stop metrics
	trailingAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_trailing_stop_adjustments_total",
			Help: "Stop price tightenings",
		},
		[]string{"strategy"},
	)

	trailingTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_trailing_stop_triggers_total",
			Help: "Trailing stops triggered",
		},
		[]string{"reason"},
	)

	// DCA metrics
	dcaExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_dca_executions_total",
			Help: "DCA execution attempts",
		},
		[]string{"strategy_type", "result"},
	)

	dcaSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_dca_skipped_total",
			Help: "DCA cycles skipped by a gate",
		},
		[]string{"reason"},
	)

	dcaRiskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trade_automation_dca_risk_score",
			Help: "Latest risk score per strategy",
		},
		[]string{"strategy_id"},
	)

	// Scheduler metrics
	schedulerDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_scheduler_dispatches_total",
			Help: "Scheduled executions dispatched",
		},
		[]string{"execution_type", "result"},
	)

	schedulerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_automation_scheduler_queue_depth",
			Help: "Entries in the schedule queue",
		},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trade_automation_token_price_usd",
			Help: "Latest oracle price per token",
		},
		[]string{"token"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_automation_errors_total",
			Help: "Errors by component and kind",
		},
		[]string{"component", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		executorRequests,
		executorDuration,
		executorQueueDepth,
		executorAvailablePermits,
		circuitBreakerState,
		activeOrders,
		orderTriggers,
		orderExecutions,
		orderSlippage,
		trailingAdjustments,
		trailingTriggers,
		dcaExecutions,
		dcaSkipped,
		dcaRiskScore,
		schedulerDispatches,
		schedulerQueueDepth,
		currentPrice,
		errorsTotal,
	)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordExecutorRequest records one processed actor request
func RecordExecutorRequest(operation string, success bool, elapsed time.Duration) {
	executorRequests.WithLabelValues(operation, result(success)).Inc()
	executorDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordExecutorRejected records a request refused before reaching the mailbox
func RecordExecutorRejected(operation, reason string) {
	executorRequests.WithLabelValues(operation, reason).Inc()
}

// UpdateExecutorResources publishes mailbox depth and free permits
func UpdateExecutorResources(queueDepth, availablePermits int) {
	executorQueueDepth.Set(float64(queueDepth))
	executorAvailablePermits.Set(float64(availablePermits))
}

// UpdateCircuitBreakerState publishes a breaker state transition
func UpdateCircuitBreakerState(dependency string, state int) {
	circuitBreakerState.WithLabelValues(dependency).Set(float64(state))
}

// UpdateActiveOrders sets the active order gauge
func UpdateActiveOrders(n int) {
	activeOrders.Set(float64(n))
}

// RecordOrderTrigger counts a matched trigger
func RecordOrderTrigger(orderType string) {
	orderTriggers.WithLabelValues(orderType).Inc()
}

// RecordOrderExecution counts an execution attempt and its slippage
func RecordOrderExecution(orderType string, success bool, slippageBps float64) {
	orderExecutions.WithLabelValues(orderType, result(success)).Inc()
	if success {
		orderSlippage.Observe(slippageBps)
	}
}

// RecordTrailingAdjustment counts a stop tightening
func RecordTrailingAdjustment(strategy string) {
	trailingAdjustments.WithLabelValues(strategy).Inc()
}

// RecordTrailingTrigger counts a triggered trailing stop
func RecordTrailingTrigger(reason string) {
	trailingTriggers.WithLabelValues(reason).Inc()
}

// RecordDCAExecution counts a DCA execution attempt
func RecordDCAExecution(strategyType string, success bool) {
	dcaExecutions.WithLabelValues(strategyType, result(success)).Inc()
}

// RecordDCASkipped counts a skipped DCA cycle
func RecordDCASkipped(reason string) {
	dcaSkipped.WithLabelValues(reason).Inc()
}

// UpdateDCARiskScore publishes the latest risk score for a strategy
func UpdateDCARiskScore(strategyID string, score float64) {
	dcaRiskScore.WithLabelValues(strategyID).Set(score)
}

// RecordSchedulerDispatch counts a dispatched scheduled execution
func RecordSchedulerDispatch(executionType, outcome string) {
	schedulerDispatches.WithLabelValues(executionType, outcome).Inc()
}

// UpdateSchedulerQueueDepth sets the schedule queue gauge
func UpdateSchedulerQueueDepth(n int) {
	schedulerQueueDepth.Set(float64(n))
}

// UpdatePrice updates the current price metric
func UpdatePrice(token string, price float64) {
	currentPrice.WithLabelValues(token).Set(price)
}

// RecordError records an error metric
func RecordError(component, kind string) {
	errorsTotal.WithLabelValues(component, kind).Inc()
}
