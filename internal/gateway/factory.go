package gateway

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/config"
)

// Gateway modes.
const (
	ModeFallback = "fallback"
	ModeLive     = "live"
)

// Factory builds adapters for one mode. It is created once at startup and
// passed to whatever needs an adapter.
type Factory struct {
	mode    string
	sim     SimConfig
	live    LiveConfig
	connect ConnectConfig
	logger  *slog.Logger
}

// NewFactory creates a factory from the gateway section of the config.
func NewFactory(cfg config.GatewayConfig, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeFallback
	}
	if mode != ModeFallback && mode != ModeLive {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	cc, err := decodeConnectConfig(cfg.ConnectMap())
	if err != nil {
		return nil, err
	}
	if mode == ModeLive {
		if err := cc.Validate(RoleTrader); err != nil {
			return nil, err
		}
	}

	live := DefaultLiveConfig()
	live.CommandTimeout = cfg.CommandTimeout

	return &Factory{
		mode:    mode,
		sim:     SimConfig{TickInterval: cfg.TickInterval, FillDelay: cfg.FillDelay},
		live:    live,
		connect: cc,
		logger:  logger,
	}, nil
}

// Mode returns the selected mode.
func (f *Factory) Mode() string { return f.mode }

// ConnectConfig returns the connect settings adapters should be connected with.
func (f *Factory) ConnectConfig() ConnectConfig { return f.connect }

// Trader returns a new, disconnected Trader for the mode.
func (f *Factory) Trader() Trader {
	if f.mode == ModeLive {
		return NewLiveTrader(f.live, f.logger)
	}
	return NewSimTrader(f.sim, f.logger)
}

// MarketData returns a new, disconnected MarketData for the mode.
func (f *Factory) MarketData() MarketData {
	if f.mode == ModeLive {
		return NewLiveMarketData(f.live, f.logger)
	}
	return NewSimMarketData(f.sim, f.logger)
}
