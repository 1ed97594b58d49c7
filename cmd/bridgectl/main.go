// bridgectl seeds and inspects bridge keys for manual checks.
// Usage:
//
//	bridgectl [-config path] seed-bar -strategy s1 -instrument SHFE.ag2406 -close 5203.5
//	bridgectl [-config path] seed-state -instrument SHFE.ag2406 -trend 0.8 -confidence 0.9
//	bridgectl [-config path] dump -strategy s1
//	bridgectl [-config path] ticks -instrument SHFE.ag2406 -duration 5s
//
// Without -config the store defaults to localhost:6379 with the "bridge" prefix.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := bridge.NewRedisStore(bridge.RedisOptions{
		Addr:     cfg.Bridge.Addr,
		Password: cfg.Bridge.Password,
		DB:       cfg.Bridge.DB,
		Timeout:  cfg.Bridge.Timeout,
	})
	defer store.Close()

	c := &cli{
		store:  store,
		keys:   bridge.NewKeys(cfg.Bridge.KeyPrefix),
		out:    os.Stdout,
		cfg:    cfg,
		logger: logger,
	}

	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error(flag.Arg(0)+" failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.RuntimeConfig, error) {
	if path == "" {
		return &config.RuntimeConfig{
			Bridge: config.BridgeConfig{
				Addr:      config.DefaultBridgeAddr,
				KeyPrefix: config.DefaultKeyPrefix,
				Timeout:   config.DefaultBridgeTimeout,
			},
			Gateway: config.GatewayConfig{
				Mode:         config.DefaultGatewayMode,
				TickInterval: config.DefaultTickInterval,
				FillDelay:    config.DefaultFillDelay,
			},
		}, nil
	}
	return config.LoadWithDefaults(path)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: bridgectl [-config path] <seed-bar|seed-state|dump|ticks> [flags]\n")
	flag.PrintDefaults()
}
