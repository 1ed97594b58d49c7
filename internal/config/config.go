package config

import "time"

// RuntimeConfig is the root configuration for one bridge runtime process.
type RuntimeConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Logging  LoggingConfig  `yaml:"logging"`
	Strategy StrategyConfig `yaml:"strategy"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Broker   BrokerConfig   `yaml:"broker"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this runtime.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig controls the slog handler built in main.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StrategyConfig holds the runner and the strategy it drives.
type StrategyConfig struct {
	ID            string             `yaml:"id"`
	Instruments   []string           `yaml:"instruments"`
	PollInterval  time.Duration      `yaml:"poll_interval"`
	RunSeconds    int                `yaml:"run_seconds"` // 0 = run until stopped
	DispatchState bool               `yaml:"dispatch_state"`
	Builtin       string             `yaml:"builtin"` // close_echo, state_trend
	Params        map[string]float64 `yaml:"params"`
}

// BridgeConfig holds the shared hash store settings.
type BridgeConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	Timeout    time.Duration `yaml:"timeout"`
	ChainGrace time.Duration `yaml:"chain_grace"`
}

// GatewayConfig selects and configures the exchange gateway adapter.
type GatewayConfig struct {
	Mode                      string        `yaml:"mode"` // fallback or live
	MarketFrontAddress        string        `yaml:"market_front_address"`
	TraderFrontAddress        string        `yaml:"trader_front_address"`
	BrokerID                  string        `yaml:"broker_id"`
	UserID                    string        `yaml:"user_id"`
	InvestorID                string        `yaml:"investor_id"`
	Password                  string        `yaml:"password"`
	SettlementConfirmRequired bool          `yaml:"settlement_confirm_required"`
	CommandTimeout            time.Duration `yaml:"command_timeout"`
	TickInterval              time.Duration `yaml:"tick_interval"` // fallback only
	FillDelay                 time.Duration `yaml:"fill_delay"`    // fallback only
}

// ConnectMap returns the connect settings as the string-keyed mapping the adapters accept.
func (g GatewayConfig) ConnectMap() map[string]any {
	return map[string]any{
		"market_front_address": g.MarketFrontAddress,
		"trader_front_address": g.TraderFrontAddress,
		"broker_id":            g.BrokerID,
		"user_id":              g.UserID,
		"investor_id":          g.InvestorID,
		"password":             g.Password,
	}
}

// BrokerConfig selects the broker implementation.
type BrokerConfig struct {
	Mode               string  `yaml:"mode"` // backtest or live
	AccountID          string  `yaml:"account_id"`
	InitialBalance     float64 `yaml:"initial_balance"`
	CommissionRate     float64 `yaml:"commission_rate"`
	ContractMultiplier int64   `yaml:"contract_multiplier"`
}

// JournalConfig holds the order/trade journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
