package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChainStatus is one co-observation of the state, intent and order stages.
type ChainStatus struct {
	StateKeys  int // Populated state keys
	Intents    int // Intents currently held in the strategy's intent key
	OrderKeys  int // Populated order keys for the strategy
	ObservedAt time.Time
}

// ChainProbe reads chain counters from the store.
type ChainProbe struct {
	store      Store
	keys       Keys
	strategyID string
}

// NewChainProbe creates a probe for one strategy.
func NewChainProbe(store Store, keys Keys, strategyID string) *ChainProbe {
	return &ChainProbe{store: store, keys: keys, strategyID: strategyID}
}

// Observe counts the three stages. A malformed intent count is a decode error.
func (p *ChainProbe) Observe(ctx context.Context) (ChainStatus, error) {
	states, err := p.store.Keys(ctx, p.keys.StatePattern())
	if err != nil {
		return ChainStatus{}, fmt.Errorf("count state keys: %w", err)
	}
	intentHash, err := p.store.HGetAll(ctx, p.keys.Intent(p.strategyID))
	if err != nil {
		return ChainStatus{}, fmt.Errorf("read intent key: %w", err)
	}
	orders, err := p.store.Keys(ctx, p.keys.OrderPattern(p.strategyID))
	if err != nil {
		return ChainStatus{}, fmt.Errorf("count order keys: %w", err)
	}

	status := ChainStatus{
		StateKeys:  len(states),
		OrderKeys:  len(orders),
		ObservedAt: time.Now().UTC(),
	}
	if raw, ok := intentHash[FieldCount]; ok {
		n, err := parseInteger(raw)
		if err != nil || n < 0 {
			return ChainStatus{}, badValue(recordIntent, FieldCount, fmt.Errorf("count %q", raw))
		}
		status.Intents = int(n)
	}
	return status, nil
}

// ChainHealth is a ChainStatus judged against the grace period.
type ChainHealth struct {
	ChainStatus
	Stuck     bool
	BrokenFor time.Duration // Time intents have been held without any order key
}

// ChainMonitorConfig configures a ChainMonitor.
type ChainMonitorConfig struct {
	Grace    time.Duration
	Interval time.Duration
	Logger   *slog.Logger
	OnUpdate func(ChainHealth) // Optional, called after every observation
}

// ChainMonitor tracks how long the chain has been broken. Intents held with no
// order key for longer than Grace mark the bridge as stuck.
type ChainMonitor struct {
	probe  *ChainProbe
	config ChainMonitorConfig
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	brokenSince time.Time
	last        ChainHealth
}

// NewChainMonitor creates a monitor over probe.
func NewChainMonitor(probe *ChainProbe, cfg ChainMonitorConfig) *ChainMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &ChainMonitor{
		probe:  probe,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate folds one observation into the monitor state.
func (m *ChainMonitor) Evaluate(status ChainStatus) ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	health := ChainHealth{ChainStatus: status}
	if status.Intents > 0 && status.OrderKeys == 0 {
		if m.brokenSince.IsZero() {
			m.brokenSince = now
		}
		health.BrokenFor = now.Sub(m.brokenSince)
		health.Stuck = health.BrokenFor > m.config.Grace
	} else {
		m.brokenSince = time.Time{}
	}
	m.last = health
	return health
}

// Last returns the most recent evaluation.
func (m *ChainMonitor) Last() ChainHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check observes the store once and evaluates the result.
func (m *ChainMonitor) Check(ctx context.Context) (ChainHealth, error) {
	status, err := m.probe.Observe(ctx)
	if err != nil {
		return ChainHealth{}, err
	}
	health := m.Evaluate(status)
	if m.config.OnUpdate != nil {
		m.config.OnUpdate(health)
	}
	return health, nil
}

// Run checks the chain every Interval until ctx is cancelled.
func (m *ChainMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	wasStuck := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		health, err := m.Check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("chain probe failed", "error", err)
			continue
		}
		if health.Stuck && !wasStuck {
			m.logger.Error("bridge chain stuck",
				"intents", health.Intents,
				"order_keys", health.OrderKeys,
				"broken_for", health.BrokenFor)
		} else if !health.Stuck && wasStuck {
			m.logger.Info("bridge chain recovered", "order_keys", health.OrderKeys)
		}
		wasStuck = health.Stuck
	}
}
