package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/strategy"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_runner_cycles_total", Help: "Runner cycles by result"},
		[]string{"result"},
	)
	CycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_runner_cycle_seconds",
			Help:    "Duration of runner cycles that dispatched something",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
	IntentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bridge_runner_intents_total", Help: "Intents written to the bridge"},
	)
	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_runner_decode_errors_total", Help: "Bridge records skipped as undecodable"},
		[]string{"instrument"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_orders_total", Help: "Order submissions by side and result"},
		[]string{"side", "result"},
	)
	OrderStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_order_status_total", Help: "Order status changes"},
		[]string{"status"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_trades_total", Help: "Fills by symbol"},
		[]string{"symbol"},
	)
	StrategyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_strategy_errors_total", Help: "Isolated strategy handler failures"},
		[]string{"strategy", "event"},
	)
	ChainCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bridge_chain_count", Help: "Chain integrity counts by stage"},
		[]string{"stage"},
	)
	ChainStuck = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bridge_chain_stuck", Help: "1 while intents have had no order keys past the grace period"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleSeconds,
		IntentsTotal,
		DecodeErrorsTotal,
		OrdersTotal,
		OrderStatusTotal,
		TradesTotal,
		StrategyErrorsTotal,
		ChainCount,
		ChainStuck,
	)
}

// Serve starts the metrics endpoint at path on addr. Extra handlers, such as
// a health check, are mounted on the same mux.
func Serve(addr, path string, extra map[string]http.Handler) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	for p, h := range extra {
		mux.Handle(p, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// RunnerObserver records runner cycles.
type RunnerObserver struct{}

func (RunnerObserver) CycleCompleted(dispatched, intents int, elapsed time.Duration) {
	CyclesTotal.WithLabelValues("ok").Inc()
	IntentsTotal.Add(float64(intents))
	CycleSeconds.Observe(elapsed.Seconds())
}

func (RunnerObserver) CycleFailed(err error) {
	CyclesTotal.WithLabelValues("failed").Inc()
}

func (RunnerObserver) DecodeFailed(instrumentID string, err error) {
	DecodeErrorsTotal.WithLabelValues(instrumentID).Inc()
}

// ExecutionObserver records order flow.
type ExecutionObserver struct{}

func (ExecutionObserver) OrderSubmitted(side model.Side, err error) {
	result := "accepted"
	if err != nil {
		result = "refused"
	}
	OrdersTotal.WithLabelValues(side.String(), result).Inc()
}

func (ExecutionObserver) OrderStatusChanged(status model.OrderStatus) {
	OrderStatusTotal.WithLabelValues(status.String()).Inc()
}

func (ExecutionObserver) TradeFilled(t model.Trade) {
	TradesTotal.WithLabelValues(t.Symbol).Inc()
}

// StrategyError counts a handler failure. Pass it to strategy.WithErrorHook.
func StrategyError(herr strategy.HandlerError) {
	StrategyErrorsTotal.WithLabelValues(herr.StrategyID, herr.Event).Inc()
}

// ChainUpdate publishes a chain health evaluation. Pass it as
// bridge.ChainMonitorConfig.OnUpdate.
func ChainUpdate(h bridge.ChainHealth) {
	ChainCount.WithLabelValues("state").Set(float64(h.StateKeys))
	ChainCount.WithLabelValues("intent").Set(float64(h.Intents))
	ChainCount.WithLabelValues("order").Set(float64(h.OrderKeys))
	if h.Stuck {
		ChainStuck.Set(1)
	} else {
		ChainStuck.Set(0)
	}
}
