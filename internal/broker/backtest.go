package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// BacktestBroker fills every order immediately at its limit price.
type BacktestBroker struct {
	opts   options
	logger *slog.Logger

	exec      sync.Mutex // Serializes submissions and their callbacks
	book      *book
	listeners listeners
}

var _ Broker = (*BacktestBroker)(nil)

// NewBacktestBroker creates a broker with an empty book.
func NewBacktestBroker(s Settings, opts ...Option) *BacktestBroker {
	o := buildOptions(opts)
	return &BacktestBroker{
		opts:   o,
		logger: o.logger.With("component", "backtest_broker"),
		book:   newBook(s, o.utcNow()),
	}
}

// Buy places and fills a BUY order.
func (b *BacktestBroker) Buy(ctx context.Context, req OrderRequest) (model.Order, error) {
	return b.submit(ctx, model.SideBuy, req)
}

// Sell places and fills a SELL order.
func (b *BacktestBroker) Sell(ctx context.Context, req OrderRequest) (model.Order, error) {
	return b.submit(ctx, model.SideSell, req)
}

func (b *BacktestBroker) submit(ctx context.Context, side model.Side, req OrderRequest) (model.Order, error) {
	if err := req.validate(); err != nil {
		return model.Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Order{}, err
	}

	b.exec.Lock()
	defer b.exec.Unlock()

	now := b.opts.utcNow()
	order, err := b.book.newOrder(side, req, now)
	if err != nil {
		return model.Order{}, err
	}

	filled, trade, err := b.book.fill(order.OrderID, order.Quantity, order.Price, now)
	if err != nil {
		b.logger.Warn("fill rejected", "order_id", order.OrderID, "error", err)
		rejected, _ := b.book.setStatus(order.OrderID, model.OrderStatusRejected, err.Error(), now)
		b.listeners.orderStatus(rejected)
		return rejected, nil
	}

	b.logger.Debug("order filled",
		"order_id", filled.OrderID,
		"symbol", filled.Symbol,
		"side", side.String(),
		"offset", filled.Offset.String(),
		"qty", filled.Quantity,
		"price", filled.AvgFillPrice.String(),
		"trace_id", filled.TraceID,
	)
	b.listeners.orderStatus(filled)
	b.listeners.trade(trade)
	return filled, nil
}

// CancelOrder never has anything to cancel since orders fill on submission.
func (b *BacktestBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o, ok := b.book.order(orderID)
	if !ok {
		return false, ErrUnknownOrder
	}
	return !o.Status.Terminal(), nil
}

func (b *BacktestBroker) Order(orderID string) (model.Order, bool) { return b.book.order(orderID) }

func (b *BacktestBroker) OrderByClientID(cid string) (model.Order, bool) {
	return b.book.orderByClientID(cid)
}

func (b *BacktestBroker) Orders() []model.Order { return b.book.allOrders() }

func (b *BacktestBroker) Trades() []model.Trade { return b.book.allTrades() }

func (b *BacktestBroker) Position(symbol string) (model.Position, bool) {
	return b.book.position(symbol)
}

func (b *BacktestBroker) Positions() []model.Position { return b.book.allPositions() }

func (b *BacktestBroker) Account() model.Account { return b.book.snapshotAccount() }

func (b *BacktestBroker) Subscribe(l Listener) { b.listeners.add(l) }
