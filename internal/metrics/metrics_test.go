package metrics

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/strategy"
)

func TestRunnerObserver(t *testing.T) {
	var obs RunnerObserver
	okBefore := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok"))
	failedBefore := testutil.ToFloat64(CyclesTotal.WithLabelValues("failed"))
	intentsBefore := testutil.ToFloat64(IntentsTotal)

	obs.CycleCompleted(2, 3, 5*time.Millisecond)
	obs.CycleFailed(errors.New("down"))
	obs.DecodeFailed("SHFE.ag2406", errors.New("missing close"))

	if got := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok cycles delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CyclesTotal.WithLabelValues("failed")) - failedBefore; got != 1 {
		t.Errorf("failed cycles delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(IntentsTotal) - intentsBefore; got != 3 {
		t.Errorf("intents delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(DecodeErrorsTotal.WithLabelValues("SHFE.ag2406")); got < 1 {
		t.Errorf("decode errors = %v, want at least 1", got)
	}
}

func TestExecutionObserver(t *testing.T) {
	var obs ExecutionObserver
	refused := OrdersTotal.WithLabelValues("SELL", "refused")
	before := testutil.ToFloat64(refused)

	obs.OrderSubmitted(model.SideSell, errors.New("insufficient position"))
	obs.OrderStatusChanged(model.OrderStatusFilled)
	obs.TradeFilled(model.Trade{Symbol: "SHFE.rb2410"})

	if got := testutil.ToFloat64(refused) - before; got != 1 {
		t.Errorf("refused delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(OrderStatusTotal.WithLabelValues("FILLED")); got < 1 {
		t.Errorf("FILLED status count = %v, want at least 1", got)
	}
	if got := testutil.ToFloat64(TradesTotal.WithLabelValues("SHFE.rb2410")); got < 1 {
		t.Errorf("trades = %v, want at least 1", got)
	}
}

func TestChainUpdate(t *testing.T) {
	ChainUpdate(bridge.ChainHealth{
		ChainStatus: bridge.ChainStatus{StateKeys: 4, Intents: 2, OrderKeys: 0},
		Stuck:       true,
	})
	if got := testutil.ToFloat64(ChainCount.WithLabelValues("intent")); got != 2 {
		t.Errorf("intent gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ChainStuck); got != 1 {
		t.Errorf("stuck gauge = %v, want 1", got)
	}

	ChainUpdate(bridge.ChainHealth{ChainStatus: bridge.ChainStatus{StateKeys: 4, Intents: 2, OrderKeys: 2}})
	if got := testutil.ToFloat64(ChainStuck); got != 0 {
		t.Errorf("stuck gauge = %v, want 0 after recovery", got)
	}
}

func TestStrategyError(t *testing.T) {
	StrategyError(strategy.HandlerError{StrategyID: "s1", Event: strategy.EventBar, Err: errors.New("boom")})
	if got := testutil.ToFloat64(StrategyErrorsTotal.WithLabelValues("s1", strategy.EventBar)); got < 1 {
		t.Errorf("strategy errors = %v, want at least 1", got)
	}
}

func TestServeRegistersMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "ok") })
	srv := Serve(addr, "/metrics", map[string]http.Handler{"/health": health})
	defer srv.Close()

	IntentsTotal.Add(0)

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(body, "bridge_runner_intents_total") {
		t.Fatalf("metrics body missing bridge_runner_intents_total")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "bridge_chain_stuck" {
			found = true
			break
		}
	}
	if !found {
		t.Error("bridge_chain_stuck metric not found")
	}
}
