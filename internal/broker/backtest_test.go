package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openReq(qty int64, price string) OrderRequest {
	return OrderRequest{
		StrategyID: "s1",
		Symbol:     "SHFE.ag2406",
		Exchange:   "SHFE",
		Price:      dec(price),
		Quantity:   qty,
		Offset:     model.OffsetOpen,
		TraceID:    "trace-open",
	}
}

func closeReq(qty int64, price string) OrderRequest {
	r := openReq(qty, price)
	r.Offset = model.OffsetClose
	r.TraceID = "trace-close"
	return r
}

// recorder keeps callbacks in arrival order.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	orders []model.Order
	trades []model.Trade
	status chan model.Order
}

func newRecorder() *recorder {
	return &recorder{status: make(chan model.Order, 1024)}
}

func (r *recorder) OnOrderStatus(o model.Order) {
	r.mu.Lock()
	r.calls = append(r.calls, "status:"+o.Status.String())
	r.orders = append(r.orders, o)
	r.mu.Unlock()
	r.status <- o
}

func (r *recorder) OnTrade(t model.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "trade")
	r.trades = append(r.trades, t)
}

func (r *recorder) snapshot() ([]string, []model.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]model.Trade(nil), r.trades...)
}

func (r *recorder) tradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

// waitStatus blocks until an order reaches want.
func (r *recorder) waitStatus(t *testing.T, orderID string, want model.OrderStatus) model.Order {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-r.status:
			if o.OrderID == orderID && o.Status == want {
				return o
			}
		case <-deadline:
			t.Fatalf("order %s never reached %s", orderID, want)
		}
	}
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestBacktestBroker_BuyFillsImmediately(t *testing.T) {
	b := NewBacktestBroker(Settings{InitialBalance: dec("100000")}, WithClock(fixedClock()))
	rec := newRecorder()
	b.Subscribe(rec)

	order, err := b.Buy(context.Background(), openReq(1, "5203.5"))
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusFilled, order.Status)
	assert.Equal(t, int64(1), order.FilledQty)
	assert.True(t, order.AvgFillPrice.Equal(dec("5203.5")), "avg fill price = %s", order.AvgFillPrice)
	assert.Equal(t, "trace-open", order.TraceID)
	assert.NotEmpty(t, order.ClientOrderID)

	calls, trades := rec.snapshot()
	assert.Equal(t, []string{"status:FILLED", "trade"}, calls)
	require.Len(t, trades, 1)
	assert.Equal(t, order.OrderID, trades[0].OrderID)
	assert.Equal(t, model.SideBuy, trades[0].Direction)

	byClient, ok := b.OrderByClientID(order.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, order.OrderID, byClient.OrderID)

	pos, ok := b.Position("SHFE.ag2406")
	require.True(t, ok)
	assert.Equal(t, int64(1), pos.LongQty)
	assert.Len(t, b.Trades(), 1)
	assert.Len(t, b.Orders(), 1)
}

func TestBacktestBroker_PositionInvariant(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	ctx := context.Background()

	steps := []struct {
		name  string
		place func() (model.Order, error)
		delta int64
	}{
		{"buy open 3", func() (model.Order, error) { return b.Buy(ctx, openReq(3, "100")) }, 3},
		{"sell open 2", func() (model.Order, error) { return b.Sell(ctx, openReq(2, "101")) }, 2},
		{"sell close 1", func() (model.Order, error) { return b.Sell(ctx, closeReq(1, "102")) }, -1},
		{"buy close 2", func() (model.Order, error) { return b.Buy(ctx, closeReq(2, "99")) }, -2},
		{"buy open 4", func() (model.Order, error) { return b.Buy(ctx, openReq(4, "98")) }, 4},
	}

	var gross int64
	for _, s := range steps {
		t.Run(s.name, func(t *testing.T) {
			order, err := s.place()
			require.NoError(t, err)
			require.Equal(t, model.OrderStatusFilled, order.Status)

			pos, ok := b.Position("SHFE.ag2406")
			require.True(t, ok)
			assert.Equal(t, gross+s.delta, pos.Gross())
			gross = pos.Gross()
		})
	}

	pos, _ := b.Position("SHFE.ag2406")
	assert.Equal(t, int64(6), pos.LongQty)
	assert.Equal(t, int64(0), pos.ShortQty)
	assert.True(t, pos.ShortAvgPrice.IsZero())
}

func TestBacktestBroker_CloseExceedingPosition(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	ctx := context.Background()

	_, err := b.Sell(ctx, closeReq(1, "100"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	_, err = b.Buy(ctx, openReq(2, "100"))
	require.NoError(t, err)
	_, err = b.Sell(ctx, closeReq(3, "100"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	// BUY CLOSE covers shorts, and there are none
	_, err = b.Buy(ctx, closeReq(1, "100"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	assert.Len(t, b.Orders(), 1, "rejected closes must not create orders")
}

func TestBacktestBroker_AccountMoney(t *testing.T) {
	b := NewBacktestBroker(Settings{
		AccountID:          "acc-1",
		InitialBalance:     dec("100000"),
		CommissionRate:     dec("0.0001"),
		ContractMultiplier: 15,
	})
	ctx := context.Background()

	_, err := b.Buy(ctx, openReq(2, "5000"))
	require.NoError(t, err)
	closed, err := b.Sell(ctx, closeReq(2, "5010"))
	require.NoError(t, err)

	assert.True(t, closed.Commission.Equal(dec("15.03")), "commission = %s", closed.Commission)

	acct := b.Account()
	assert.Equal(t, "acc-1", acct.AccountID)
	assert.True(t, acct.RealizedPnL.Equal(dec("300")), "pnl = %s", acct.RealizedPnL)
	assert.True(t, acct.Commission.Equal(dec("30.03")), "commission = %s", acct.Commission)
	assert.True(t, acct.Balance.Equal(dec("100269.97")), "balance = %s", acct.Balance)

	pos, _ := b.Position("SHFE.ag2406")
	assert.Equal(t, int64(0), pos.LongQty)
	assert.True(t, pos.LongAvgPrice.IsZero())
}

func TestBacktestBroker_AveragePrice(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	ctx := context.Background()

	_, err := b.Buy(ctx, openReq(1, "100"))
	require.NoError(t, err)
	_, err = b.Buy(ctx, openReq(3, "104"))
	require.NoError(t, err)

	pos, _ := b.Position("SHFE.ag2406")
	assert.True(t, pos.LongAvgPrice.Equal(dec("103")), "avg = %s", pos.LongAvgPrice)
}

func TestBacktestBroker_Cancel(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	ctx := context.Background()

	order, err := b.Buy(ctx, openReq(1, "100"))
	require.NoError(t, err)

	ok, err := b.CancelOrder(ctx, order.OrderID)
	assert.NoError(t, err)
	assert.False(t, ok, "cancel of a filled order")

	_, err = b.CancelOrder(ctx, "no-such-order")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestBacktestBroker_InvalidRequests(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"empty symbol", func(r *OrderRequest) { r.Symbol = "" }},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }},
		{"negative price", func(r *OrderRequest) { r.Price = dec("-1") }},
		{"unknown offset", func(r *OrderRequest) { r.Offset = model.OffsetUnknown }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := openReq(1, "100")
			tt.mutate(&req)
			_, err := b.Buy(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}

	req := openReq(1, "100")
	req.ClientOrderID = "c-1"
	_, err := b.Buy(ctx, req)
	require.NoError(t, err)
	_, err = b.Buy(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidOrder, "duplicate client order id")
}

func TestListenerFuncs(t *testing.T) {
	b := NewBacktestBroker(Settings{})
	var statuses, trades int
	b.Subscribe(ListenerFuncs{OrderStatus: func(model.Order) { statuses++ }})
	b.Subscribe(ListenerFuncs{Trade: func(model.Trade) { trades++ }})

	_, err := b.Buy(context.Background(), openReq(1, "100"))
	require.NoError(t, err)
	assert.Equal(t, 1, statuses)
	assert.Equal(t, 1, trades)
}
