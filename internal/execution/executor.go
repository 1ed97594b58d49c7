package execution

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/broker"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/strategy"
)

// OrderEventHandler is the part of strategy.Runtime that receives order events.
type OrderEventHandler interface {
	OnOrderEvent(ctx context.Context, ev model.OrderEvent) strategy.DispatchResult
}

// OrderWriter publishes order events, e.g. bridge.OrderMirror.
type OrderWriter interface {
	Write(ctx context.Context, strategyID string, ev model.OrderEvent) error
}

// Recorder persists orders and trades, e.g. journal.Writer. The boolean
// reports whether the record was accepted.
type Recorder interface {
	RecordOrder(o model.Order) bool
	RecordTrade(t model.Trade) bool
}

// Observer is notified about submissions and callbacks.
type Observer interface {
	OrderSubmitted(side model.Side, err error)
	OrderStatusChanged(status model.OrderStatus)
	TradeFilled(t model.Trade)
}

// DefaultRetention is how long a finished intent's trace id stays known.
const DefaultRetention = 5 * time.Minute

// Config wires the Executor's collaborators. Only Broker is required.
type Config struct {
	Broker   broker.Broker
	Runtime  OrderEventHandler
	Mirror   OrderWriter
	Journal  Recorder
	Observer Observer
	Logger   *slog.Logger

	// Retention keeps trace ids of finished orders so late callbacks are
	// not counted as orphans. Zero means DefaultRetention.
	Retention time.Duration
}

// Executor turns intents into broker orders and fans broker callbacks out.
// It subscribes itself to the broker on creation.
type Executor struct {
	broker   broker.Broker
	runtime  OrderEventHandler
	mirror   OrderWriter
	journal  Recorder
	observer Observer
	logger   *slog.Logger

	retention time.Duration
	now       func() time.Time

	mu        sync.Mutex
	issued    map[string]time.Time // Trace id -> when its order finished; zero while working
	lastPrune time.Time
	orphans   int
}

var _ broker.Listener = (*Executor)(nil)

// New creates an Executor and subscribes it to cfg.Broker.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	e := &Executor{
		broker:    cfg.Broker,
		runtime:   cfg.Runtime,
		mirror:    cfg.Mirror,
		journal:   cfg.Journal,
		observer:  cfg.Observer,
		logger:    logger.With("component", "executor"),
		retention: retention,
		now:       time.Now,
		issued:    make(map[string]time.Time),
	}
	cfg.Broker.Subscribe(e)
	return e
}

// HandleIntents places one order per intent. Failures are logged and counted;
// they never stop the remaining intents.
func (e *Executor) HandleIntents(ctx context.Context, intents []model.SignalIntent) {
	for _, intent := range intents {
		e.mu.Lock()
		e.issued[intent.TraceID] = time.Time{}
		e.mu.Unlock()

		req := RequestFromIntent(intent)
		var err error
		switch intent.Side {
		case model.SideBuy:
			_, err = e.broker.Buy(ctx, req)
		case model.SideSell:
			_, err = e.broker.Sell(ctx, req)
		default:
			e.logger.Warn("intent without side", "trace_id", intent.TraceID)
			continue
		}

		if e.observer != nil {
			e.observer.OrderSubmitted(intent.Side, err)
		}
		if err != nil {
			// A refused order may never call back.
			e.finish(intent.TraceID)
			e.logger.Warn("order not placed",
				"strategy_id", intent.StrategyID,
				"instrument_id", intent.InstrumentID,
				"side", intent.Side.String(),
				"trace_id", intent.TraceID,
				"error", err,
			)
		}
	}
}

// OnOrderStatus forwards an order change to strategies, the mirror and the journal.
func (e *Executor) OnOrderStatus(o model.Order) {
	ev := OrderEventFromOrder(o)

	e.mu.Lock()
	_, known := e.issued[ev.TraceID]
	if !known {
		e.orphans++
	}
	e.mu.Unlock()
	if known && o.Status.Terminal() {
		e.finish(ev.TraceID)
	}
	if !known {
		e.logger.Warn("order event without a matching intent", "trace_id", ev.TraceID, "order_id", o.OrderID)
	}

	if e.observer != nil {
		e.observer.OrderStatusChanged(o.Status)
	}

	ctx := context.Background()
	if e.runtime != nil {
		res := e.runtime.OnOrderEvent(ctx, ev)
		for _, herr := range res.Errors {
			e.logger.Warn("order event handler failed", "handler_strategy", herr.StrategyID, "error", herr.Err)
		}
	}
	if e.mirror != nil {
		if err := e.mirror.Write(ctx, o.StrategyID, ev); err != nil {
			e.logger.Warn("mirror order event", "client_order_id", ev.ClientOrderID, "error", err)
		}
	}
	if e.journal != nil && !e.journal.RecordOrder(o) {
		e.logger.Warn("journal rejected order", "order_id", o.OrderID)
	}
}

// OnTrade records the trade.
func (e *Executor) OnTrade(t model.Trade) {
	if e.observer != nil {
		e.observer.TradeFilled(t)
	}
	if e.journal != nil && !e.journal.RecordTrade(t) {
		e.logger.Warn("journal rejected trade", "trade_id", t.TradeID)
	}
}

// finish stamps a trace id as done and evicts ids done for longer than the
// retention window. The scan runs at most once per half window.
func (e *Executor) finish(traceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if doneAt, ok := e.issued[traceID]; ok && doneAt.IsZero() {
		e.issued[traceID] = now
	}
	if now.Sub(e.lastPrune) < e.retention/2 {
		return
	}
	e.lastPrune = now
	for id, doneAt := range e.issued {
		if !doneAt.IsZero() && now.Sub(doneAt) >= e.retention {
			delete(e.issued, id)
		}
	}
}

// tracked returns how many trace ids are remembered.
func (e *Executor) tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.issued)
}

// Orphans returns how many order events carried a trace id no intent issued.
func (e *Executor) Orphans() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orphans
}

// RequestFromIntent maps an intent onto a limit order request.
func RequestFromIntent(intent model.SignalIntent) broker.OrderRequest {
	return broker.OrderRequest{
		StrategyID: intent.StrategyID,
		Symbol:     intent.InstrumentID,
		Exchange:   exchangeOf(intent.InstrumentID),
		Price:      intent.LimitPrice,
		Quantity:   intent.Volume,
		Offset:     intent.Offset,
		Type:       model.OrderTypeLimit,
		TraceID:    intent.TraceID,
	}
}

// OrderEventFromOrder renders the broker's order as the event strategies see.
func OrderEventFromOrder(o model.Order) model.OrderEvent {
	ts := o.UpdatedAt.UnixNano()
	return model.OrderEvent{
		AccountID:     o.AccountID,
		ClientOrderID: o.ClientOrderID,
		InstrumentID:  o.Symbol,
		Status:        o.Status,
		TotalVolume:   o.Quantity,
		FilledVolume:  o.FilledQty,
		AvgPrice:      o.AvgFillPrice,
		Reason:        o.Reason,
		ExchangeTsNs:  ts,
		RecvTsNs:      ts,
		EventTsNs:     ts,
		TraceID:       o.TraceID,
	}
}

// exchangeOf returns the part of "SHFE.ag2406" before the dot.
func exchangeOf(instrumentID string) string {
	if i := strings.IndexByte(instrumentID, '.'); i > 0 {
		return instrumentID[:i]
	}
	return ""
}
