package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/gateway"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/queue"
)

const commandBufferSize = 256

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdEvent
)

// command is one unit of work for the actor goroutine.
type command struct {
	kind    commandKind
	orderID string
	event   model.OrderEvent
	reply   chan bool // cmdCancel only
}

// LiveBroker routes orders through a gateway.Trader. Submissions, cancels and
// adapter callbacks are applied by a single actor goroutine in queue order.
type LiveBroker struct {
	opts   options
	logger *slog.Logger
	trader gateway.Trader

	book      *book
	listeners listeners
	cmds      *queue.Buffer[command]
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.RWMutex
	connected         bool
	requireSettlement bool

	closeOnce sync.Once
}

var _ Broker = (*LiveBroker)(nil)

// NewLiveBroker creates the broker and starts its actor. Call Close to stop it.
func NewLiveBroker(trader gateway.Trader, s Settings, opts ...Option) *LiveBroker {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	b := &LiveBroker{
		opts:   o,
		logger: o.logger.With("component", "live_broker"),
		trader: trader,
		book:   newBook(s, o.utcNow()),
		cmds:   queue.NewBuffer[command](commandBufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	trader.OnOrderStatus(b.onOrderStatus)
	go b.run()
	return b
}

// Connect logs the trader in and confirms settlement. When
// settlementConfirmRequired is set, a failed confirmation is returned as
// ErrSettlementNotConfirmed and orders stay gated; otherwise it is logged.
func (b *LiveBroker) Connect(ctx context.Context, cfg gateway.ConnectConfig, settlementConfirmRequired bool) error {
	if err := b.trader.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("connect trader: %w", err)
	}

	b.mu.Lock()
	b.connected = true
	b.requireSettlement = settlementConfirmRequired
	b.mu.Unlock()

	if !b.trader.ConfirmSettlement(ctx) {
		if settlementConfirmRequired {
			return ErrSettlementNotConfirmed
		}
		b.logger.Warn("settlement confirmation failed, continuing")
	}
	b.logger.Info("broker connected", "state", b.trader.State().String())
	return nil
}

// Close disconnects the trader, applies queued commands, and stops the actor.
func (b *LiveBroker) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()

		b.trader.Disconnect()
		b.cmds.Close()
		<-b.done
		b.cancel()
	})
}

// Buy queues a BUY order and returns it in PENDING state.
func (b *LiveBroker) Buy(ctx context.Context, req OrderRequest) (model.Order, error) {
	return b.submit(ctx, model.SideBuy, req)
}

// Sell queues a SELL order and returns it in PENDING state.
func (b *LiveBroker) Sell(ctx context.Context, req OrderRequest) (model.Order, error) {
	return b.submit(ctx, model.SideSell, req)
}

func (b *LiveBroker) submit(ctx context.Context, side model.Side, req OrderRequest) (model.Order, error) {
	if err := req.validate(); err != nil {
		return model.Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Order{}, err
	}
	if err := b.gate(); err != nil {
		return model.Order{}, err
	}

	order, err := b.book.newOrder(side, req, b.opts.utcNow())
	if err != nil {
		return model.Order{}, err
	}
	if !b.cmds.Push(command{kind: cmdSubmit, orderID: order.OrderID}) {
		rejected, _ := b.book.setStatus(order.OrderID, model.OrderStatusRejected, ErrClosed.Error(), b.opts.utcNow())
		return rejected, ErrClosed
	}
	return order, nil
}

// gate returns the error an order placed now would hit.
func (b *LiveBroker) gate() error {
	b.mu.RLock()
	connected, required := b.connected, b.requireSettlement
	b.mu.RUnlock()

	state := b.trader.State()
	switch {
	case !connected || state == gateway.StateDisconnected:
		return ErrNotConnected
	case required && state != gateway.StateSettlementConfirmed:
		return ErrSettlementNotConfirmed
	}
	return nil
}

// CancelOrder asks the trader to cancel. A true result means the request was
// accepted; the order changes state when the CANCELED callback arrives.
func (b *LiveBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o, ok := b.book.order(orderID)
	if !ok {
		return false, ErrUnknownOrder
	}
	if o.Status.Terminal() {
		return false, nil
	}

	reply := make(chan bool, 1)
	if !b.cmds.Push(command{kind: cmdCancel, orderID: orderID, reply: reply}) {
		return false, ErrClosed
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// onOrderStatus is the trader callback. It runs on the adapter's goroutine.
func (b *LiveBroker) onOrderStatus(ev model.OrderEvent) {
	if !b.cmds.Push(command{kind: cmdEvent, event: ev}) {
		b.logger.Debug("order event after close", "client_order_id", ev.ClientOrderID)
	}
}

func (b *LiveBroker) run() {
	defer close(b.done)
	b.cmds.Run(context.Background(), b.handle)
}

func (b *LiveBroker) handle(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		b.handleSubmit(cmd.orderID)
	case cmdCancel:
		cmd.reply <- b.handleCancel(cmd.orderID)
	case cmdEvent:
		b.handleEvent(cmd.event)
	}
}

func (b *LiveBroker) handleSubmit(orderID string) {
	o, ok := b.book.order(orderID)
	if !ok || o.Status.Terminal() {
		return
	}

	req := gateway.OrderRequest{
		AccountID:     o.AccountID,
		ClientOrderID: o.ClientOrderID,
		StrategyID:    o.StrategyID,
		InstrumentID:  o.Symbol,
		Side:          o.Direction,
		Offset:        o.Offset,
		Volume:        o.Quantity,
		Price:         o.Price,
		TraceID:       o.TraceID,
	}

	status, reason := model.OrderStatusSubmitted, ""
	if !b.trader.PlaceOrder(b.ctx, req) {
		status, reason = model.OrderStatusRejected, "rejected by gateway"
		b.logger.Warn("order rejected by gateway",
			"order_id", o.OrderID,
			"client_order_id", o.ClientOrderID,
			"trace_id", o.TraceID,
		)
	}
	if updated, ok := b.book.setStatus(orderID, status, reason, b.opts.utcNow()); ok {
		b.listeners.orderStatus(updated)
	}
}

func (b *LiveBroker) handleCancel(orderID string) bool {
	o, ok := b.book.order(orderID)
	if !ok || o.Status.Terminal() {
		return false
	}
	return b.trader.CancelOrder(b.ctx, o.ClientOrderID, o.TraceID)
}

// handleEvent translates an adapter event into book mutations. A fill is
// emitted as the order status followed by its trade.
func (b *LiveBroker) handleEvent(ev model.OrderEvent) {
	o, ok := b.book.orderByClientID(ev.ClientOrderID)
	if !ok {
		b.logger.Warn("order event for unknown order",
			"client_order_id", ev.ClientOrderID,
			"trace_id", ev.TraceID,
		)
		return
	}
	if o.Status.Terminal() {
		return
	}

	now := b.opts.utcNow()
	var (
		updated model.Order
		changed bool
		trade   *model.Trade
	)

	delta := ev.FilledVolume - o.FilledQty
	if remaining := o.Quantity - o.FilledQty; delta > remaining {
		b.logger.Warn("fill exceeds order quantity",
			"order_id", o.OrderID, "filled_volume", ev.FilledVolume, "quantity", o.Quantity)
		delta = remaining
	}
	if delta > 0 {
		filled, t, err := b.book.fill(o.OrderID, delta, fillPrice(o, ev, delta), now)
		if err != nil {
			// The book cannot follow the gateway; end the order so it never stays working.
			b.logger.Error("apply fill failed", "order_id", o.OrderID, "client_order_id", o.ClientOrderID, "error", err)
			if u, ok := b.book.setStatus(o.OrderID, model.OrderStatusRejected, "fill not applied: "+err.Error(), now); ok {
				b.listeners.orderStatus(u)
			}
			return
		}
		updated, changed, trade = filled, true, &t
	}

	switch ev.Status {
	case model.OrderStatusCanceled, model.OrderStatusRejected:
		if u, ok := b.book.setStatus(o.OrderID, ev.Status, ev.Reason, now); ok {
			updated, changed = u, true
		}
	case model.OrderStatusNew, model.OrderStatusSubmitted:
		if !changed && ev.Status.Rank() > o.Status.Rank() {
			if u, ok := b.book.setStatus(o.OrderID, ev.Status, ev.Reason, now); ok {
				updated, changed = u, true
			}
		}
	}

	if !changed {
		return
	}
	b.listeners.orderStatus(updated)
	if trade != nil {
		b.listeners.trade(*trade)
	}
}

// fillPrice derives the price of the newest delta from the event's cumulative
// average price.
func fillPrice(o model.Order, ev model.OrderEvent, delta int64) decimal.Decimal {
	if ev.AvgPrice.IsZero() {
		return o.Price
	}
	total := ev.AvgPrice.Mul(decimal.NewFromInt(o.FilledQty + delta))
	prior := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQty))
	price := total.Sub(prior).Div(decimal.NewFromInt(delta))
	if !price.IsPositive() {
		return ev.AvgPrice
	}
	return price
}

func (b *LiveBroker) Order(orderID string) (model.Order, bool) { return b.book.order(orderID) }

func (b *LiveBroker) OrderByClientID(cid string) (model.Order, bool) {
	return b.book.orderByClientID(cid)
}

func (b *LiveBroker) Orders() []model.Order { return b.book.allOrders() }

func (b *LiveBroker) Trades() []model.Trade { return b.book.allTrades() }

func (b *LiveBroker) Position(symbol string) (model.Position, bool) {
	return b.book.position(symbol)
}

func (b *LiveBroker) Positions() []model.Position { return b.book.allPositions() }

func (b *LiveBroker) Account() model.Account { return b.book.snapshotAccount() }

func (b *LiveBroker) Subscribe(l Listener) { b.listeners.add(l) }
