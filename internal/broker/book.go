package broker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// book holds orders, trades, positions and the account. Mutations come from
// one writer at a time; lookups may run concurrently with them.
type book struct {
	settings Settings

	mu        sync.RWMutex
	orders    map[string]*model.Order
	byClient  map[string]string // client order id -> order id
	trades    []model.Trade
	positions map[string]*model.Position
	frozen    map[closeKey]int64 // Unfilled quantity of working CLOSE orders
	account   model.Account
}

// closeKey identifies the position side a CLOSE order consumes.
type closeKey struct {
	symbol string
	side   model.Side
}

func newBook(s Settings, now time.Time) *book {
	s = s.withDefaults()
	return &book{
		settings:  s,
		orders:    make(map[string]*model.Order),
		byClient:  make(map[string]string),
		positions: make(map[string]*model.Position),
		frozen:    make(map[closeKey]int64),
		account: model.Account{
			AccountID: s.AccountID,
			Balance:   s.InitialBalance,
			UpdatedAt: now,
		},
	}
}

// newOrder registers a PENDING order for req and returns a copy.
func (b *book) newOrder(side model.Side, req OrderRequest, now time.Time) (model.Order, error) {
	cid := req.ClientOrderID
	if cid == "" {
		cid = uuid.NewString()
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.byClient[cid]; dup {
		return model.Order{}, fmt.Errorf("%w: duplicate client order id %q", ErrInvalidOrder, cid)
	}
	if req.Offset == model.OffsetClose {
		if err := b.checkCloseLocked(side, req.Symbol, req.Quantity); err != nil {
			return model.Order{}, err
		}
	}

	o := &model.Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: cid,
		StrategyID:    req.StrategyID,
		AccountID:     b.settings.AccountID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Direction:     side,
		Offset:        req.Offset,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        model.OrderStatusPending,
		TraceID:       traceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.orders[o.OrderID] = o
	b.byClient[cid] = o.OrderID
	if o.Offset == model.OffsetClose {
		b.frozen[closeKey{o.Symbol, side}] += o.Quantity
	}
	return *o, nil
}

// checkCloseLocked verifies a CLOSE of qty is covered by the held quantity
// not already reserved by working CLOSE orders. SELL closes long, BUY closes short.
func (b *book) checkCloseLocked(side model.Side, symbol string, qty int64) error {
	var held int64
	if p, ok := b.positions[symbol]; ok {
		if side == model.SideSell {
			held = p.LongQty
		} else {
			held = p.ShortQty
		}
	}
	frozen := b.frozen[closeKey{symbol, side}]
	if qty > held-frozen {
		return fmt.Errorf("%w: %s close %d, held %d, frozen %d", ErrInsufficientPosition, symbol, qty, held, frozen)
	}
	return nil
}

// releaseLocked returns qty of a CLOSE order's reservation.
func (b *book) releaseLocked(o *model.Order, qty int64) {
	if o.Offset != model.OffsetClose || qty <= 0 {
		return
	}
	key := closeKey{o.Symbol, o.Direction}
	if b.frozen[key] -= qty; b.frozen[key] <= 0 {
		delete(b.frozen, key)
	}
}

// setStatus moves an order to status. Terminal orders are left unchanged.
func (b *book) setStatus(orderID string, status model.OrderStatus, reason string, now time.Time) (model.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.Status.Terminal() {
		return model.Order{}, false
	}
	o.Status = status
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = now
	if status.Terminal() {
		b.releaseLocked(o, o.Quantity-o.FilledQty)
	}
	return *o, true
}

// fill applies qty at price to the order and its position and account, and
// returns the updated order with the trade it produced.
func (b *book) fill(orderID string, qty int64, price decimal.Decimal, now time.Time) (model.Order, model.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return model.Order{}, model.Trade{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if qty <= 0 || o.FilledQty+qty > o.Quantity {
		return model.Order{}, model.Trade{}, fmt.Errorf("%w: fill %d on %d/%d", ErrInvalidOrder, qty, o.FilledQty, o.Quantity)
	}

	mult := decimal.NewFromInt(b.settings.ContractMultiplier)
	q := decimal.NewFromInt(qty)
	notional := price.Mul(q).Mul(mult)
	commission := notional.Mul(b.settings.CommissionRate)

	pnl, err := b.applyPositionLocked(o, qty, price, now)
	if err != nil {
		return model.Order{}, model.Trade{}, err
	}

	b.releaseLocked(o, qty)

	prevFilled := decimal.NewFromInt(o.FilledQty)
	o.AvgFillPrice = o.AvgFillPrice.Mul(prevFilled).Add(price.Mul(q)).Div(prevFilled.Add(q))
	o.FilledQty += qty
	o.Commission = o.Commission.Add(commission)
	if o.FilledQty == o.Quantity {
		o.Status = model.OrderStatusFilled
	} else {
		o.Status = model.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = now

	b.account.RealizedPnL = b.account.RealizedPnL.Add(pnl)
	b.account.Commission = b.account.Commission.Add(commission)
	b.account.Balance = b.account.Balance.Add(pnl).Sub(commission)
	b.account.UpdatedAt = now

	t := model.Trade{
		TradeID:    uuid.NewString(),
		OrderID:    o.OrderID,
		StrategyID: o.StrategyID,
		AccountID:  o.AccountID,
		Symbol:     o.Symbol,
		Exchange:   o.Exchange,
		Direction:  o.Direction,
		Offset:     o.Offset,
		Price:      price,
		Quantity:   qty,
		TradeTime:  now,
		Commission: commission,
		TraceID:    o.TraceID,
	}
	b.trades = append(b.trades, t)
	return *o, t, nil
}

// applyPositionLocked returns the realized PnL of the fill.
func (b *book) applyPositionLocked(o *model.Order, qty int64, price decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	p, ok := b.positions[o.Symbol]
	if !ok {
		p = &model.Position{
			Symbol:     o.Symbol,
			Exchange:   o.Exchange,
			StrategyID: o.StrategyID,
			AccountID:  o.AccountID,
		}
	}

	q := decimal.NewFromInt(qty)
	mult := decimal.NewFromInt(b.settings.ContractMultiplier)
	pnl := decimal.Zero

	switch {
	case o.Offset == model.OffsetOpen && o.Direction == model.SideBuy:
		p.LongAvgPrice = average(p.LongAvgPrice, p.LongQty, price, qty)
		p.LongQty += qty
	case o.Offset == model.OffsetOpen && o.Direction == model.SideSell:
		p.ShortAvgPrice = average(p.ShortAvgPrice, p.ShortQty, price, qty)
		p.ShortQty += qty
	case o.Direction == model.SideSell:
		if p.LongQty < qty {
			return decimal.Zero, fmt.Errorf("%w: %s close %d, held %d", ErrInsufficientPosition, o.Symbol, qty, p.LongQty)
		}
		pnl = price.Sub(p.LongAvgPrice).Mul(q).Mul(mult)
		p.LongQty -= qty
		if p.LongQty == 0 {
			p.LongAvgPrice = decimal.Zero
		}
	default:
		if p.ShortQty < qty {
			return decimal.Zero, fmt.Errorf("%w: %s close %d, held %d", ErrInsufficientPosition, o.Symbol, qty, p.ShortQty)
		}
		pnl = p.ShortAvgPrice.Sub(price).Mul(q).Mul(mult)
		p.ShortQty -= qty
		if p.ShortQty == 0 {
			p.ShortAvgPrice = decimal.Zero
		}
	}

	p.UpdatedAt = now
	b.positions[o.Symbol] = p
	return pnl, nil
}

func average(avg decimal.Decimal, qty int64, price decimal.Decimal, add int64) decimal.Decimal {
	total := decimal.NewFromInt(qty + add)
	return avg.Mul(decimal.NewFromInt(qty)).Add(price.Mul(decimal.NewFromInt(add))).Div(total)
}

func (b *book) order(orderID string) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

func (b *book) orderByClientID(cid string) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byClient[cid]
	if !ok {
		return model.Order{}, false
	}
	return *b.orders[id], true
}

// allOrders returns orders by creation time.
func (b *book) allOrders() []model.Order {
	b.mu.RLock()
	out := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	b.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (b *book) allTrades() []model.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

func (b *book) position(symbol string) (model.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// allPositions returns positions sorted by symbol.
func (b *book) allPositions() []model.Position {
	b.mu.RLock()
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// frozenQty returns the reserved CLOSE quantity for symbol on side.
func (b *book) frozenQty(symbol string, side model.Side) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen[closeKey{symbol, side}]
}

func (b *book) snapshotAccount() model.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account
}
