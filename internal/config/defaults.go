package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultBuiltin            = "close_echo"
	DefaultBridgeAddr         = "localhost:6379"
	DefaultKeyPrefix          = "bridge"
	DefaultBridgeTimeout      = 2 * time.Second
	DefaultChainGrace         = 30 * time.Second
	DefaultGatewayMode        = "fallback"
	DefaultCommandTimeout     = 5 * time.Second
	DefaultTickInterval       = 200 * time.Millisecond
	DefaultFillDelay          = 50 * time.Millisecond
	DefaultBrokerMode         = "backtest"
	DefaultAccountID          = "sim"
	DefaultInitialBalance     = 1_000_000
	DefaultContractMultiplier = 1
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *RuntimeConfig) applyDefaults() {
	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Strategy defaults
	if c.Strategy.PollInterval == 0 {
		c.Strategy.PollInterval = DefaultPollInterval
	}
	if c.Strategy.Builtin == "" {
		c.Strategy.Builtin = DefaultBuiltin
	}

	// Bridge defaults
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = DefaultBridgeAddr
	}
	if c.Bridge.KeyPrefix == "" {
		c.Bridge.KeyPrefix = DefaultKeyPrefix
	}
	if c.Bridge.Timeout == 0 {
		c.Bridge.Timeout = DefaultBridgeTimeout
	}
	if c.Bridge.ChainGrace == 0 {
		c.Bridge.ChainGrace = DefaultChainGrace
	}

	// Gateway defaults
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = DefaultGatewayMode
	}
	if c.Gateway.CommandTimeout == 0 {
		c.Gateway.CommandTimeout = DefaultCommandTimeout
	}
	if c.Gateway.TickInterval == 0 {
		c.Gateway.TickInterval = DefaultTickInterval
	}
	if c.Gateway.FillDelay == 0 {
		c.Gateway.FillDelay = DefaultFillDelay
	}

	// Broker defaults
	if c.Broker.Mode == "" {
		c.Broker.Mode = DefaultBrokerMode
	}
	if c.Broker.AccountID == "" {
		c.Broker.AccountID = DefaultAccountID
	}
	if c.Broker.InitialBalance == 0 {
		c.Broker.InitialBalance = DefaultInitialBalance
	}
	if c.Broker.ContractMultiplier == 0 {
		c.Broker.ContractMultiplier = DefaultContractMultiplier
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
