package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// It runs before any component starts, so a bad file never reaches dispatch.
func (c *RuntimeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if err := c.Strategy.validate(); err != nil {
		return err
	}

	if c.Bridge.Addr == "" {
		return errors.New("bridge.addr is required")
	}
	if strings.Contains(c.Bridge.KeyPrefix, ":") {
		return errors.New("bridge.key_prefix must not contain ':'")
	}
	if c.Bridge.Timeout <= 0 {
		return errors.New("bridge.timeout must be > 0")
	}

	if err := c.Gateway.validate(c.Broker.Mode); err != nil {
		return err
	}

	switch c.Broker.Mode {
	case "backtest", "live":
	default:
		return fmt.Errorf("broker.mode must be backtest or live, got %q", c.Broker.Mode)
	}
	if c.Broker.CommissionRate < 0 {
		return errors.New("broker.commission_rate must be >= 0")
	}
	if c.Broker.ContractMultiplier < 1 {
		return errors.New("broker.contract_multiplier must be >= 1")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (s *StrategyConfig) validate() error {
	if s.ID == "" {
		return errors.New("strategy.id is required")
	}
	if strings.ContainsAny(s.ID, ":|") {
		return errors.New("strategy.id must not contain ':' or '|'")
	}
	if len(s.Instruments) == 0 {
		return errors.New("strategy.instruments must list at least one instrument")
	}
	seen := make(map[string]struct{}, len(s.Instruments))
	for _, id := range s.Instruments {
		if id == "" {
			return errors.New("strategy.instruments contains an empty id")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("strategy.instruments contains %q twice", id)
		}
		seen[id] = struct{}{}
	}
	if s.PollInterval <= 0 {
		return errors.New("strategy.poll_interval must be > 0")
	}
	if s.RunSeconds < 0 {
		return errors.New("strategy.run_seconds must be >= 0")
	}
	return nil
}

func (g *GatewayConfig) validate(brokerMode string) error {
	switch g.Mode {
	case "fallback":
	case "live":
		if g.TraderFrontAddress == "" {
			return errors.New("gateway.trader_front_address is required in live mode")
		}
		if g.BrokerID == "" {
			return errors.New("gateway.broker_id is required in live mode")
		}
		if g.UserID == "" {
			return errors.New("gateway.user_id is required in live mode")
		}
		if g.InvestorID == "" {
			return errors.New("gateway.investor_id is required in live mode")
		}
		if g.Password == "" {
			return errors.New("gateway.password is required in live mode")
		}
	default:
		return fmt.Errorf("gateway.mode must be fallback or live, got %q", g.Mode)
	}
	if brokerMode == "live" && g.CommandTimeout <= 0 {
		return errors.New("gateway.command_timeout must be > 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
