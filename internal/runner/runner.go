package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/strategy"
)

// Config holds runner configuration.
type Config struct {
	StrategyID    string
	Instruments   []string
	PollInterval  time.Duration // Default: 500ms
	RunSeconds    int           // 0 = until the context is cancelled
	DispatchState bool          // Also read state hashes and dispatch OnState
	Timeout       time.Duration // Per store call (default: 2s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		Timeout:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Dispatcher is the part of strategy.Runtime the runner drives.
type Dispatcher interface {
	OnBar(ctx context.Context, bars []model.Bar) (strategy.DispatchResult, error)
	OnState(ctx context.Context, snap model.StateSnapshot) (strategy.DispatchResult, error)
}

// IntentSink receives a cycle's intents after they are written to the bridge.
type IntentSink interface {
	HandleIntents(ctx context.Context, intents []model.SignalIntent)
}

// Observer is notified about cycle outcomes, e.g. for metrics.
type Observer interface {
	CycleCompleted(dispatched, intents int, elapsed time.Duration)
	CycleFailed(err error)
	DecodeFailed(instrumentID string, err error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIntentSink hands every written intent batch to sink.
func WithIntentSink(sink IntentSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithObserver registers cycle callbacks.
func WithObserver(obs Observer) Option {
	return func(r *Runner) { r.observer = obs }
}

// Runner polls the bridge for one strategy. It is not safe for concurrent
// use; RunOnce and RunForever must not overlap.
type Runner struct {
	cfg      Config
	store    bridge.Store
	keys     bridge.Keys
	runtime  Dispatcher
	sink     IntentSink
	observer Observer
	logger   *slog.Logger

	lastBar   map[string]int64 // Last dispatched bar ts per instrument
	lastState map[string]int64
}

// New creates a Runner.
func New(cfg Config, store bridge.Store, keys bridge.Keys, runtime Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg.withDefaults(),
		store:     store,
		keys:      keys,
		runtime:   runtime,
		logger:    slog.Default(),
		lastBar:   make(map[string]int64),
		lastState: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner", "strategy_id", r.cfg.StrategyID)
	return r
}

// cycle accumulates one RunOnce.
type cycle struct {
	intents    []model.SignalIntent
	dispatched int
	lastBar    map[string]int64
	lastState  map[string]int64
}

// RunOnce runs one polling cycle and returns the number of intents it
// emitted. Bars already dispatched are not dispatched again. The intent hash
// is replaced only when something was dispatched. A store failure aborts the
// cycle with a *TransientError and leaves the intent hash untouched.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	c := &cycle{
		lastBar:   make(map[string]int64),
		lastState: make(map[string]int64),
	}

	for _, instrumentID := range r.cfg.Instruments {
		if err := r.pollBar(ctx, c, instrumentID); err != nil {
			r.fail(err)
			return 0, err
		}
		if r.cfg.DispatchState {
			if err := r.pollState(ctx, c, instrumentID); err != nil {
				r.fail(err)
				return 0, err
			}
		}
	}

	if c.dispatched == 0 {
		return 0, nil
	}

	fields, err := bridge.EncodeIntents(c.intents)
	if err != nil {
		// The runtime validates intents, so this is a programming error.
		r.logger.Error("encode intents", "error", err)
		return 0, err
	}

	key := r.keys.Intent(r.cfg.StrategyID)
	wctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	err = r.store.ReplaceHash(wctx, key, fields)
	cancel()
	if err != nil {
		terr := &TransientError{Op: "write_intents", Key: key, Err: err}
		r.fail(terr)
		return 0, terr
	}

	for id, ts := range c.lastBar {
		r.lastBar[id] = ts
	}
	for id, ts := range c.lastState {
		r.lastState[id] = ts
	}

	if r.sink != nil && len(c.intents) > 0 {
		r.sink.HandleIntents(ctx, c.intents)
	}

	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer.CycleCompleted(c.dispatched, len(c.intents), elapsed)
	}
	r.logger.Debug("cycle complete",
		"dispatched", c.dispatched,
		"intents", len(c.intents),
		"duration", elapsed,
	)
	return len(c.intents), nil
}

func (r *Runner) pollBar(ctx context.Context, c *cycle, instrumentID string) error {
	key := r.keys.Bar(r.cfg.StrategyID, instrumentID)
	fields, err := r.read(ctx, key)
	if err != nil {
		return &TransientError{Op: "read_bar", Key: key, Err: err}
	}
	if len(fields) == 0 {
		return nil
	}

	bar, err := bridge.DecodeBar(fields)
	if err != nil {
		r.decodeFailed(instrumentID, key, err)
		return nil
	}
	if bar.InstrumentID != instrumentID {
		r.logger.Warn("bar instrument does not match key", "key", key, "instrument_id", bar.InstrumentID)
	}
	if last, ok := r.lastBar[instrumentID]; ok && bar.TsNs <= last {
		return nil
	}

	res, err := r.runtime.OnBar(ctx, []model.Bar{bar})
	if err != nil {
		// Rejected batch; treated like a decode failure for this instrument.
		r.decodeFailed(instrumentID, key, err)
		return nil
	}
	r.logHandlerErrors(res)
	c.intents = append(c.intents, res.Intents...)
	c.dispatched++
	c.lastBar[instrumentID] = bar.TsNs
	return nil
}

func (r *Runner) pollState(ctx context.Context, c *cycle, instrumentID string) error {
	key := r.keys.State(instrumentID)
	fields, err := r.read(ctx, key)
	if err != nil {
		return &TransientError{Op: "read_state", Key: key, Err: err}
	}
	if len(fields) == 0 {
		return nil
	}

	snap, err := bridge.DecodeState(instrumentID, fields)
	if err != nil {
		r.decodeFailed(instrumentID, key, err)
		return nil
	}
	if last, ok := r.lastState[instrumentID]; ok && snap.TsNs <= last {
		return nil
	}

	res, err := r.runtime.OnState(ctx, snap)
	if err != nil {
		r.decodeFailed(instrumentID, key, err)
		return nil
	}
	r.logHandlerErrors(res)
	c.intents = append(c.intents, res.Intents...)
	c.dispatched++
	c.lastState[instrumentID] = snap.TsNs
	return nil
}

func (r *Runner) read(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.store.HGetAll(ctx, key)
}

func (r *Runner) decodeFailed(instrumentID, key string, err error) {
	r.logger.Warn("skipping instrument", "instrument_id", instrumentID, "key", key, "error", err)
	if r.observer != nil {
		r.observer.DecodeFailed(instrumentID, err)
	}
}

func (r *Runner) logHandlerErrors(res strategy.DispatchResult) {
	for _, herr := range res.Errors {
		r.logger.Warn("strategy handler failed",
			"handler_strategy", herr.StrategyID,
			"event", herr.Event,
			"error", herr.Err,
		)
	}
}

func (r *Runner) fail(err error) {
	if r.observer != nil {
		r.observer.CycleFailed(err)
	}
}

// RunForever polls every PollInterval until ctx is cancelled or RunSeconds
// elapse. A cycle that has started always completes; store failures are
// logged and the loop continues.
func (r *Runner) RunForever(ctx context.Context) error {
	var deadline <-chan time.Time
	if r.cfg.RunSeconds > 0 {
		timer := time.NewTimer(time.Duration(r.cfg.RunSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info("runner started",
		"instruments", len(r.cfg.Instruments),
		"poll_interval", r.cfg.PollInterval,
		"run_seconds", r.cfg.RunSeconds,
	)

	// Cycles are detached from ctx so cancellation never cuts one short;
	// store timeouts still bound them.
	cycleCtx := context.WithoutCancel(ctx)
	cycles := 0
	for {
		if _, err := r.RunOnce(cycleCtx); err != nil {
			if IsRetryable(err) {
				r.logger.Warn("cycle aborted", "error", err)
			} else {
				r.logger.Error("cycle failed", "error", err)
			}
		}
		cycles++

		// A cycle can outlast the deadline; stopping wins over a pending tick.
		if done, err := r.stopped(ctx, deadline, cycles); done {
			return err
		}
		select {
		case <-ctx.Done():
		case <-deadline:
			r.logger.Info("runner finished", "cycles", cycles, "run_seconds", r.cfg.RunSeconds)
			return nil
		case <-ticker.C:
		}
		if done, err := r.stopped(ctx, nil, cycles); done {
			return err
		}
	}
}

// stopped reports without blocking whether ctx is done or deadline has fired.
func (r *Runner) stopped(ctx context.Context, deadline <-chan time.Time, cycles int) (bool, error) {
	if err := ctx.Err(); err != nil {
		r.logger.Info("runner stopped", "cycles", cycles, "reason", err)
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		return true, err
	}
	select {
	case <-deadline:
		r.logger.Info("runner finished", "cycles", cycles, "run_seconds", r.cfg.RunSeconds)
		return true, nil
	default:
		return false, nil
	}
}
