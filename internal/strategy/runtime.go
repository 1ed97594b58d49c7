package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// DispatchResult collects what one dispatch call produced.
type DispatchResult struct {
	Intents []model.SignalIntent
	Errors  []HandlerError
}

// Failed reports whether any strategy failed.
func (r DispatchResult) Failed() bool {
	return len(r.Errors) > 0
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the dispatch clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithErrorHook is called for every HandlerError, e.g. to count them.
func WithErrorHook(fn func(HandlerError)) Option {
	return func(r *Runtime) { r.onError = fn }
}

// Runtime is the ordered strategy registry. Dispatch calls are mutually
// exclusive: order events arriving from broker goroutines wait for an
// in-flight bar dispatch to finish.
type Runtime struct {
	mu         sync.Mutex
	strategies []Strategy
	ids        map[string]struct{}

	logger  *slog.Logger
	now     func() time.Time
	onError func(HandlerError)
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		ids:    make(map[string]struct{}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a strategy. Ids must be unique.
func (r *Runtime) Register(s Strategy) error {
	id := s.ID()
	if id == "" {
		return ErrEmptyStrategyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, id)
	}
	r.ids[id] = struct{}{}
	r.strategies = append(r.strategies, s)
	r.logger.Info("strategy registered", "strategy_id", id, "position", len(r.strategies)-1)
	return nil
}

// Strategies returns registered ids in dispatch order.
func (r *Runtime) Strategies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		ids[i] = s.ID()
	}
	return ids
}

// OnBar dispatches a bar batch to every strategy. A malformed batch fails the
// whole call before any strategy sees it.
func (r *Runtime) OnBar(ctx context.Context, bars []model.Bar) (DispatchResult, error) {
	if err := validateBatch(bars); err != nil {
		return DispatchResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := newContext(ctx, r.logger, r.now())
	d := newDispatch(r, EventBar)
	for _, s := range r.strategies {
		c.strategyID = s.ID()
		intents, err := call(func() ([]model.SignalIntent, error) { return s.OnBar(c, bars) })
		d.collect(s, intents, err)
	}
	return d.result, nil
}

// OnState dispatches a snapshot to strategies whose scope includes its instrument.
func (r *Runtime) OnState(ctx context.Context, snap model.StateSnapshot) (DispatchResult, error) {
	if snap.InstrumentID == "" {
		return DispatchResult{}, fmt.Errorf("%w: state snapshot without instrument", ErrMalformedBatch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := newContext(ctx, r.logger, r.now())
	d := newDispatch(r, EventState)
	for _, s := range r.strategies {
		if !inScope(s, snap.InstrumentID) {
			continue
		}
		c.strategyID = s.ID()
		intents, err := call(func() ([]model.SignalIntent, error) { return s.OnState(c, snap) })
		d.collect(s, intents, err)
	}
	return d.result, nil
}

// OnOrderEvent delivers an order event to every strategy. Safe to call from
// any goroutine.
func (r *Runtime) OnOrderEvent(ctx context.Context, ev model.OrderEvent) DispatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := newContext(ctx, r.logger, r.now())
	d := newDispatch(r, EventOrderEvent)
	for _, s := range r.strategies {
		c.strategyID = s.ID()
		_, err := call(func() ([]model.SignalIntent, error) { return nil, s.OnOrderEvent(c, ev) })
		d.collect(s, nil, err)
	}
	return d.result
}

// dispatch accumulates one call's intents and errors.
type dispatch struct {
	r      *Runtime
	event  string
	traces map[string]struct{}
	result DispatchResult
}

func newDispatch(r *Runtime, event string) *dispatch {
	return &dispatch{r: r, event: event, traces: make(map[string]struct{})}
}

func (d *dispatch) fail(strategyID string, err error) {
	he := HandlerError{StrategyID: strategyID, Event: d.event, Err: err}
	d.result.Errors = append(d.result.Errors, he)
	d.r.logger.Warn("strategy handler failed", "strategy_id", strategyID, "event", d.event, "error", err)
	if d.r.onError != nil {
		d.r.onError(he)
	}
}

// collect keeps a strategy's intents unless its handler failed. Intents get
// the strategy id and a trace id when missing; invalid ones and repeated trace
// ids are dropped and reported.
func (d *dispatch) collect(s Strategy, intents []model.SignalIntent, err error) {
	if err != nil {
		d.fail(s.ID(), err)
		return
	}
	for _, intent := range intents {
		if intent.StrategyID == "" {
			intent.StrategyID = s.ID()
		}
		if intent.TraceID == "" {
			intent.TraceID = uuid.NewString()
		}
		if err := intent.Validate(); err != nil {
			d.fail(s.ID(), err)
			continue
		}
		if _, dup := d.traces[intent.TraceID]; dup {
			d.fail(s.ID(), fmt.Errorf("%w: %s", ErrDuplicateTrace, intent.TraceID))
			continue
		}
		d.traces[intent.TraceID] = struct{}{}
		d.result.Intents = append(d.result.Intents, intent)
	}
}

// call runs a handler, turning a panic into an error.
func call(fn func() ([]model.SignalIntent, error)) (intents []model.SignalIntent, err error) {
	defer func() {
		if p := recover(); p != nil {
			intents = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return fn()
}

func validateBatch(bars []model.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	for i, bar := range bars {
		if bar.InstrumentID == "" {
			return fmt.Errorf("%w: bar %d has no instrument", ErrMalformedBatch, i)
		}
		if bar.High.LessThan(bar.Low) {
			return fmt.Errorf("%w: bar %d (%s) high %s below low %s", ErrMalformedBatch, i, bar.InstrumentID, bar.High, bar.Low)
		}
	}
	return nil
}
