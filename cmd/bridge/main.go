package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/broker"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/config"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/database"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/execution"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/gateway"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/journal"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/metrics"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/runner"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/strategy"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bridge.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting bridge", append(version.Attrs(), "config", *configPath)...)
	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"strategy_id", cfg.Strategy.ID,
		"instruments", len(cfg.Strategy.Instruments),
		"gateway_mode", cfg.Gateway.Mode,
		"broker_mode", cfg.Broker.Mode,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

func run(cfg *config.RuntimeConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bridge store
	store := bridge.NewRedisStore(bridge.RedisOptions{
		Addr:     cfg.Bridge.Addr,
		Password: cfg.Bridge.Password,
		DB:       cfg.Bridge.DB,
		Timeout:  cfg.Bridge.Timeout,
	})
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Bridge.Timeout)
	err := store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("bridge store unreachable: %w", err)
	}
	keys := bridge.NewKeys(cfg.Bridge.KeyPrefix)
	logger.Info("bridge store connected", "addr", cfg.Bridge.Addr, "prefix", keys.Prefix())

	// Strategy runtime
	runtime := strategy.NewRuntime(
		strategy.WithLogger(logger),
		strategy.WithErrorHook(metrics.StrategyError),
	)
	strat, err := strategy.Build(cfg.Strategy.Builtin, cfg.Strategy.ID, cfg.Strategy.Instruments, cfg.Strategy.Params)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}
	if err := runtime.Register(strat); err != nil {
		return fmt.Errorf("register strategy: %w", err)
	}

	// Broker
	brk, closeBroker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	// Journal
	var recorder execution.Recorder
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		pool, err := database.Connect(ctx, cfg.Journal.Database, "bridge-"+cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		writer = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := writer.Stop(shutdownCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
			s := writer.Stats()
			logger.Info("journal stopped", "orders", s.Orders, "trades", s.Trades, "errors", s.Errors, "dropped", s.Dropped)
		}()
		recorder = writer
		logger.Info("journal enabled", "host", cfg.Journal.Database.Host, "database", cfg.Journal.Database.Name)
	}

	// Execution glue: intents -> broker -> runtime, mirror, journal
	exec := execution.New(execution.Config{
		Broker:   brk,
		Runtime:  runtime,
		Mirror:   bridge.NewOrderMirror(store, keys, cfg.Bridge.Timeout),
		Journal:  recorder,
		Observer: metrics.ExecutionObserver{},
		Logger:   logger,
	})

	rn := runner.New(runner.Config{
		StrategyID:    cfg.Strategy.ID,
		Instruments:   cfg.Strategy.Instruments,
		PollInterval:  cfg.Strategy.PollInterval,
		RunSeconds:    cfg.Strategy.RunSeconds,
		DispatchState: cfg.Strategy.DispatchState,
		Timeout:       cfg.Bridge.Timeout,
	}, store, keys, runtime,
		runner.WithLogger(logger),
		runner.WithIntentSink(exec),
		runner.WithObserver(metrics.RunnerObserver{}),
	)

	monitor := bridge.NewChainMonitor(bridge.NewChainProbe(store, keys, cfg.Strategy.ID), bridge.ChainMonitorConfig{
		Grace:    cfg.Bridge.ChainGrace,
		Logger:   logger,
		OnUpdate: metrics.ChainUpdate,
	})

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	srv := metrics.Serve(addr, cfg.Metrics.Path, map[string]http.Handler{
		"/health": healthHandler(store, monitor, brk, writer),
	})
	logger.Info("metrics server started", "addr", addr, "path", cfg.Metrics.Path)

	// The runner owns the lifetime: when run_seconds elapses the monitor
	// is stopped too.
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		defer cancelRun()
		return rn.RunForever(runCtx)
	})
	g.Go(func() error {
		return monitor.Run(runCtx)
	})

	logger.Info("bridge running",
		"strategy_id", cfg.Strategy.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = g.Wait()

	// Stop broker callbacks before the journal's final flush.
	closeBroker()

	logger.Info("shutting down...",
		"orders", len(brk.Orders()),
		"trades", len(brk.Trades()),
		"orphan_events", exec.Orphans(),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		logger.Warn("metrics server shutdown", "error", serr)
	}
	return err
}

// newBroker builds the broker for broker.mode. The returned func releases it
// and may be called more than once.
func newBroker(ctx context.Context, cfg *config.RuntimeConfig, logger *slog.Logger) (broker.Broker, func(), error) {
	settings := broker.Settings{
		AccountID:          cfg.Broker.AccountID,
		InitialBalance:     decimal.NewFromFloat(cfg.Broker.InitialBalance),
		CommissionRate:     decimal.NewFromFloat(cfg.Broker.CommissionRate),
		ContractMultiplier: cfg.Broker.ContractMultiplier,
	}

	if cfg.Broker.Mode != "live" {
		logger.Info("backtest broker ready", "account_id", settings.AccountID)
		return broker.NewBacktestBroker(settings, broker.WithLogger(logger)), func() {}, nil
	}

	factory, err := gateway.NewFactory(cfg.Gateway, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: %w", err)
	}
	live := broker.NewLiveBroker(factory.Trader(), settings, broker.WithLogger(logger))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.CommandTimeout*3)
	defer cancel()
	if err := live.Connect(connectCtx, factory.ConnectConfig(), cfg.Gateway.SettlementConfirmRequired); err != nil {
		live.Close()
		return nil, nil, fmt.Errorf("connect live broker: %w", err)
	}
	logger.Info("live broker connected",
		"gateway_mode", factory.Mode(),
		"account_id", settings.AccountID,
		"settlement_confirm_required", cfg.Gateway.SettlementConfirmRequired,
	)
	return live, live.Close, nil
}

func healthHandler(store bridge.Store, monitor *bridge.ChainMonitor, brk broker.Broker, writer *journal.Writer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := store.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["bridge_store"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["bridge_store"] = "connected"
		}

		chain := monitor.Last()
		health.Components["chain"] = map[string]any{
			"state_keys": chain.StateKeys,
			"intents":    chain.Intents,
			"order_keys": chain.OrderKeys,
			"stuck":      chain.Stuck,
			"broken_for": chain.BrokenFor.String(),
		}
		if chain.Stuck && health.Status == "healthy" {
			health.Status = "degraded"
		}

		acct := brk.Account()
		health.Components["account"] = map[string]string{
			"account_id": acct.AccountID,
			"balance":    acct.Balance.String(),
		}

		if writer != nil {
			health.Components["journal"] = writer.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
