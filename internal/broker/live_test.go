package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/gateway"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// fakeTrader lets tests drive callbacks by hand.
type fakeTrader struct {
	mu      sync.Mutex
	state   gateway.TraderState
	confirm bool
	accept  bool
	placed  []gateway.OrderRequest
	handler gateway.OrderStatusHandler
}

func newFakeTrader(confirm, accept bool) *fakeTrader {
	return &fakeTrader{confirm: confirm, accept: accept}
}

func (f *fakeTrader) Connect(ctx context.Context, cfg gateway.ConnectConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = gateway.StateConnected
	return nil
}

func (f *fakeTrader) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = gateway.StateDisconnected
}

func (f *fakeTrader) ConfirmSettlement(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirm && f.state == gateway.StateConnected {
		f.state = gateway.StateSettlementConfirmed
	}
	return f.confirm
}

func (f *fakeTrader) PlaceOrder(ctx context.Context, req gateway.OrderRequest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return f.accept
}

func (f *fakeTrader) CancelOrder(ctx context.Context, clientOrderID, traceID string) bool {
	return f.accept
}

func (f *fakeTrader) OnOrderStatus(fn gateway.OrderStatusHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTrader) State() gateway.TraderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTrader) emit(ev model.OrderEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeTrader) lastPlaced(t *testing.T) gateway.OrderRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.placed)
	return f.placed[len(f.placed)-1]
}

func newLive(t *testing.T, trader gateway.Trader, required bool) (*LiveBroker, *recorder) {
	t.Helper()
	b := NewLiveBroker(trader, Settings{InitialBalance: dec("100000")})
	t.Cleanup(b.Close)
	rec := newRecorder()
	b.Subscribe(rec)
	require.NoError(t, b.Connect(context.Background(), gateway.ConnectConfig{}, required))
	return b, rec
}

func TestLiveBroker_SettlementGating(t *testing.T) {
	ctx := context.Background()
	trader := newFakeTrader(false, true)
	b := NewLiveBroker(trader, Settings{})
	defer b.Close()

	_, err := b.Buy(ctx, openReq(1, "100"))
	assert.ErrorIs(t, err, ErrNotConnected, "before connect")

	err = b.Connect(ctx, gateway.ConnectConfig{}, true)
	assert.ErrorIs(t, err, ErrSettlementNotConfirmed)

	_, err = b.Buy(ctx, openReq(1, "100"))
	assert.ErrorIs(t, err, ErrSettlementNotConfirmed)
	_, err = b.Sell(ctx, openReq(1, "100"))
	assert.ErrorIs(t, err, ErrSettlementNotConfirmed)

	assert.Empty(t, b.Orders())
	trader.mu.Lock()
	assert.Empty(t, trader.placed, "no order may reach the adapter")
	trader.mu.Unlock()
}

func TestLiveBroker_SettlementNotRequired(t *testing.T) {
	trader := newFakeTrader(false, true)
	b, rec := newLive(t, trader, false)

	order, err := b.Buy(context.Background(), openReq(1, "100"))
	require.NoError(t, err)
	rec.waitStatus(t, order.OrderID, model.OrderStatusSubmitted)
}

func TestLiveBroker_SimTraderFill(t *testing.T) {
	trader := gateway.NewSimTrader(gateway.SimConfig{FillDelay: 10 * time.Millisecond}, nil)
	b, rec := newLive(t, trader, true)

	order, err := b.Buy(context.Background(), openReq(2, "5203.5"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)

	filled := rec.waitStatus(t, order.OrderID, model.OrderStatusFilled)
	assert.Equal(t, int64(2), filled.FilledQty)
	assert.True(t, filled.AvgFillPrice.Equal(dec("5203.5")))

	require.Eventually(t, func() bool { return rec.tradeCount() == 1 }, time.Second, 5*time.Millisecond)
	calls, trades := rec.snapshot()
	assert.Equal(t, []string{"status:SUBMITTED", "status:FILLED", "trade"}, calls)
	assert.Equal(t, "trace-open", trades[0].TraceID)

	pos, ok := b.Position("SHFE.ag2406")
	require.True(t, ok)
	assert.Equal(t, int64(2), pos.LongQty)
}

func TestLiveBroker_Cancel(t *testing.T) {
	trader := gateway.NewSimTrader(gateway.SimConfig{FillDelay: time.Hour}, nil)
	b, rec := newLive(t, trader, true)
	ctx := context.Background()

	order, err := b.Buy(ctx, openReq(1, "100"))
	require.NoError(t, err)
	rec.waitStatus(t, order.OrderID, model.OrderStatusSubmitted)

	ok, err := b.CancelOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	canceled := rec.waitStatus(t, order.OrderID, model.OrderStatusCanceled)
	assert.Equal(t, int64(0), canceled.FilledQty)

	ok, err = b.CancelOrder(ctx, order.OrderID)
	assert.NoError(t, err)
	assert.False(t, ok, "cancel of a terminal order")

	_, err = b.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestLiveBroker_RejectedByGateway(t *testing.T) {
	trader := newFakeTrader(true, false)
	b, rec := newLive(t, trader, true)

	order, err := b.Buy(context.Background(), openReq(1, "100"))
	require.NoError(t, err)
	rejected := rec.waitStatus(t, order.OrderID, model.OrderStatusRejected)
	assert.NotEmpty(t, rejected.Reason)
	assert.Empty(t, b.Trades())
}

func TestLiveBroker_PartialFills(t *testing.T) {
	trader := newFakeTrader(true, true)
	b, rec := newLive(t, trader, true)

	order, err := b.Buy(context.Background(), openReq(3, "105"))
	require.NoError(t, err)
	rec.waitStatus(t, order.OrderID, model.OrderStatusSubmitted)
	req := trader.lastPlaced(t)

	event := func(status model.OrderStatus, filled int64, avg string) model.OrderEvent {
		return model.OrderEvent{
			ClientOrderID: req.ClientOrderID,
			InstrumentID:  req.InstrumentID,
			Status:        status,
			TotalVolume:   3,
			FilledVolume:  filled,
			AvgPrice:      dec(avg),
			TraceID:       req.TraceID,
		}
	}

	trader.emit(event(model.OrderStatusSubmitted, 0, "0"))
	trader.emit(event(model.OrderStatusPartiallyFilled, 1, "100"))
	trader.emit(event(model.OrderStatusFilled, 3, "102"))
	trader.emit(model.OrderEvent{ClientOrderID: "stranger", Status: model.OrderStatusFilled, FilledVolume: 1})

	filled := rec.waitStatus(t, order.OrderID, model.OrderStatusFilled)
	assert.True(t, filled.AvgFillPrice.Equal(dec("102")), "avg = %s", filled.AvgFillPrice)

	require.Eventually(t, func() bool { return rec.tradeCount() == 2 }, time.Second, 5*time.Millisecond)
	trades := b.Trades()
	assert.True(t, trades[0].Price.Equal(dec("100")))
	assert.Equal(t, int64(1), trades[0].Quantity)
	assert.True(t, trades[1].Price.Equal(dec("103")), "second fill price = %s", trades[1].Price)
	assert.Equal(t, int64(2), trades[1].Quantity)

	calls, _ := rec.snapshot()
	assert.Equal(t, []string{
		"status:SUBMITTED",
		"status:PARTIALLY_FILLED", "trade",
		"status:FILLED", "trade",
	}, calls)

	pos, _ := b.Position("SHFE.ag2406")
	assert.Equal(t, int64(3), pos.LongQty)
	assert.True(t, pos.LongAvgPrice.Equal(dec("102")))
}

func TestLiveBroker_ConcurrentOrders(t *testing.T) {
	trader := gateway.NewSimTrader(gateway.SimConfig{FillDelay: time.Millisecond}, nil)
	b, _ := newLive(t, trader, true)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := openReq(1, "100")
			req.ClientOrderID = fmt.Sprintf("c-%d", i)
			req.TraceID = fmt.Sprintf("trace-%d", i)
			o, err := b.Buy(ctx, req)
			if assert.NoError(t, err) {
				ids <- o.OrderID
			}
		}(i)
	}

	// Lookups race with callback delivery
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				for _, o := range b.Orders() {
					b.OrderByClientID(o.ClientOrderID)
				}
				b.Positions()
				b.Account()
			}
		}
	}()

	wg.Wait()
	close(ids)
	require.Eventually(t, func() bool { return len(b.Trades()) == n }, 5*time.Second, 10*time.Millisecond)
	close(stop)

	for id := range ids {
		o, ok := b.Order(id)
		require.True(t, ok)
		assert.Equal(t, model.OrderStatusFilled, o.Status)
	}
	pos, _ := b.Position("SHFE.ag2406")
	assert.Equal(t, int64(n), pos.Gross())
}

func TestLiveBroker_BuyAfterClose(t *testing.T) {
	trader := newFakeTrader(true, true)
	b := NewLiveBroker(trader, Settings{})
	require.NoError(t, b.Connect(context.Background(), gateway.ConnectConfig{}, true))
	b.Close()

	_, err := b.Buy(context.Background(), openReq(1, "100"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func fillOpen(t *testing.T, b *LiveBroker, rec *recorder, trader *fakeTrader, qty int64) {
	t.Helper()
	order, err := b.Buy(context.Background(), openReq(qty, "100"))
	require.NoError(t, err)
	rec.waitStatus(t, order.OrderID, model.OrderStatusSubmitted)
	req := trader.lastPlaced(t)
	trader.emit(model.OrderEvent{
		ClientOrderID: req.ClientOrderID,
		Status:        model.OrderStatusFilled,
		TotalVolume:   qty,
		FilledVolume:  qty,
		AvgPrice:      dec("100"),
		TraceID:       req.TraceID,
	})
	rec.waitStatus(t, order.OrderID, model.OrderStatusFilled)
}

func TestLiveBroker_WorkingCloseReservesPosition(t *testing.T) {
	trader := newFakeTrader(true, true)
	b, rec := newLive(t, trader, true)
	ctx := context.Background()
	fillOpen(t, b, rec, trader, 1)

	first, err := b.Sell(ctx, closeReq(1, "101"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.book.frozenQty("SHFE.ag2406", model.SideSell))

	_, err = b.Sell(ctx, closeReq(1, "101"))
	assert.ErrorIs(t, err, ErrInsufficientPosition, "second close while the first is working")

	rec.waitStatus(t, first.OrderID, model.OrderStatusSubmitted)
	req := trader.lastPlaced(t)
	trader.emit(model.OrderEvent{ClientOrderID: req.ClientOrderID, Status: model.OrderStatusCanceled, TotalVolume: 1})
	rec.waitStatus(t, first.OrderID, model.OrderStatusCanceled)
	assert.Equal(t, int64(0), b.book.frozenQty("SHFE.ag2406", model.SideSell), "cancel releases the reservation")

	_, err = b.Sell(ctx, closeReq(1, "101"))
	assert.NoError(t, err)
}

func TestLiveBroker_BackToBackCloses(t *testing.T) {
	trader := gateway.NewSimTrader(gateway.SimConfig{FillDelay: 20 * time.Millisecond}, nil)
	b, rec := newLive(t, trader, true)
	ctx := context.Background()

	open, err := b.Buy(ctx, openReq(1, "5203.5"))
	require.NoError(t, err)
	rec.waitStatus(t, open.OrderID, model.OrderStatusFilled)

	first, err := b.Sell(ctx, closeReq(1, "5204"))
	require.NoError(t, err)
	second, err := b.Sell(ctx, closeReq(1, "5204"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.Empty(t, second.OrderID)

	rec.waitStatus(t, first.OrderID, model.OrderStatusFilled)
	require.Eventually(t, func() bool { return rec.tradeCount() == 2 }, time.Second, 5*time.Millisecond)

	for _, o := range b.Orders() {
		assert.True(t, o.Status.Terminal(), "order %s left in %s", o.OrderID, o.Status)
	}
	pos, _ := b.Position("SHFE.ag2406")
	assert.Equal(t, int64(0), pos.LongQty)
	assert.Equal(t, int64(0), b.book.frozenQty("SHFE.ag2406", model.SideSell))
}

func TestLiveBroker_UnappliedFillRejectsOrder(t *testing.T) {
	trader := newFakeTrader(true, true)
	b, rec := newLive(t, trader, true)
	ctx := context.Background()
	fillOpen(t, b, rec, trader, 1)

	closeOrder, err := b.Sell(ctx, closeReq(1, "101"))
	require.NoError(t, err)
	rec.waitStatus(t, closeOrder.OrderID, model.OrderStatusSubmitted)
	req := trader.lastPlaced(t)

	// Position taken away behind the broker's back.
	b.book.mu.Lock()
	b.book.positions["SHFE.ag2406"].LongQty = 0
	b.book.mu.Unlock()

	trader.emit(model.OrderEvent{
		ClientOrderID: req.ClientOrderID,
		Status:        model.OrderStatusFilled,
		TotalVolume:   1,
		FilledVolume:  1,
		AvgPrice:      dec("101"),
		TraceID:       req.TraceID,
	})

	rejected := rec.waitStatus(t, closeOrder.OrderID, model.OrderStatusRejected)
	assert.Contains(t, rejected.Reason, "fill not applied")
	assert.Equal(t, int64(0), rejected.FilledQty)
	assert.Equal(t, 1, rec.tradeCount(), "only the opening fill")
	assert.Equal(t, int64(0), b.book.frozenQty("SHFE.ag2406", model.SideSell))
}
