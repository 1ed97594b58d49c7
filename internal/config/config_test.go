package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: bridge-test
strategy:
  id: s1
  instruments: [SHFE.ag2406, SHFE.rb2410]
  poll_interval: 250ms
  run_seconds: 30
bridge:
  addr: redis.internal:6379
  key_prefix: qp
gateway:
  mode: fallback
broker:
  mode: backtest
  commission_rate: 0.0001
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "bridge-test" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "bridge-test")
	}
	if len(cfg.Strategy.Instruments) != 2 || cfg.Strategy.Instruments[0] != "SHFE.ag2406" {
		t.Errorf("Strategy.Instruments = %v, want [SHFE.ag2406 SHFE.rb2410]", cfg.Strategy.Instruments)
	}
	if cfg.Strategy.PollInterval != 250*time.Millisecond {
		t.Errorf("Strategy.PollInterval = %v, want 250ms", cfg.Strategy.PollInterval)
	}
	if cfg.Strategy.RunSeconds != 30 {
		t.Errorf("Strategy.RunSeconds = %d, want 30", cfg.Strategy.RunSeconds)
	}
	if cfg.Bridge.KeyPrefix != "qp" {
		t.Errorf("Bridge.KeyPrefix = %q, want %q", cfg.Bridge.KeyPrefix, "qp")
	}
	if cfg.Broker.CommissionRate != 0.0001 {
		t.Errorf("Broker.CommissionRate = %v, want 0.0001", cfg.Broker.CommissionRate)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CTP_PASSWORD", "secret123")

	yaml := `
instance:
  id: bridge-test
gateway:
  mode: live
  trader_front_address: ws://gateway:7001
  broker_id: "9999"
  user_id: u1
  investor_id: u1
  password: ${TEST_CTP_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Password != "secret123" {
		t.Errorf("Gateway.Password = %q, want %q", cfg.Gateway.Password, "secret123")
	}
	if cfg.Gateway.BrokerID != "9999" {
		t.Errorf("Gateway.BrokerID = %q, want %q", cfg.Gateway.BrokerID, "9999")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TEST_DOTENV_VALUE=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TEST_DOTENV_VALUE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("TEST_DOTENV_VALUE"); got != "from-dotenv" {
		t.Errorf("TEST_DOTENV_VALUE = %q, want %q", got, "from-dotenv")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: bridge-test
strategy:
  id: s1
  instruments: [SHFE.ag2406]
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Strategy.PollInterval != DefaultPollInterval {
		t.Errorf("Strategy.PollInterval = %v, want default %v", cfg.Strategy.PollInterval, DefaultPollInterval)
	}
	if cfg.Bridge.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("Bridge.KeyPrefix = %q, want default %q", cfg.Bridge.KeyPrefix, DefaultKeyPrefix)
	}
	if cfg.Gateway.Mode != DefaultGatewayMode {
		t.Errorf("Gateway.Mode = %q, want default %q", cfg.Gateway.Mode, DefaultGatewayMode)
	}
	if cfg.Broker.Mode != DefaultBrokerMode {
		t.Errorf("Broker.Mode = %q, want default %q", cfg.Broker.Mode, DefaultBrokerMode)
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want default %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() RuntimeConfig {
		cfg := RuntimeConfig{
			Instance: InstanceConfig{ID: "test"},
			Strategy: StrategyConfig{ID: "s1", Instruments: []string{"SHFE.ag2406"}},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*RuntimeConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *RuntimeConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing strategy id",
			mutate:  func(c *RuntimeConfig) { c.Strategy.ID = "" },
			wantErr: "strategy.id is required",
		},
		{
			name:    "no instruments",
			mutate:  func(c *RuntimeConfig) { c.Strategy.Instruments = nil },
			wantErr: "strategy.instruments must list at least one instrument",
		},
		{
			name:    "duplicate instrument",
			mutate:  func(c *RuntimeConfig) { c.Strategy.Instruments = []string{"a", "a"} },
			wantErr: `strategy.instruments contains "a" twice`,
		},
		{
			name:    "prefix with colon",
			mutate:  func(c *RuntimeConfig) { c.Bridge.KeyPrefix = "a:b" },
			wantErr: "bridge.key_prefix must not contain ':'",
		},
		{
			name: "live gateway without password",
			mutate: func(c *RuntimeConfig) {
				c.Gateway = GatewayConfig{
					Mode:               "live",
					TraderFrontAddress: "ws://gw:7001",
					BrokerID:           "9999",
					UserID:             "u1",
					InvestorID:         "u1",
					CommandTimeout:     time.Second,
				}
			},
			wantErr: "gateway.password is required in live mode",
		},
		{
			name:    "unknown broker mode",
			mutate:  func(c *RuntimeConfig) { c.Broker.Mode = "paper" },
			wantErr: `broker.mode must be backtest or live, got "paper"`,
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *RuntimeConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "journal.database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "valid config",
			mutate:  func(c *RuntimeConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestGatewayConfig_ConnectMap(t *testing.T) {
	g := GatewayConfig{TraderFrontAddress: "ws://gw:7001", BrokerID: "9999", UserID: "u1", InvestorID: "i1", Password: "p"}
	m := g.ConnectMap()
	for _, key := range []string{"market_front_address", "trader_front_address", "broker_id", "user_id", "investor_id", "password"} {
		if _, ok := m[key]; !ok {
			t.Errorf("ConnectMap() missing %q", key)
		}
	}
	if m["broker_id"] != "9999" {
		t.Errorf("broker_id = %v, want 9999", m["broker_id"])
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
