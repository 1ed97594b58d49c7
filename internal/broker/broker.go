package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// Errors
var (
	ErrInvalidOrder           = errors.New("invalid order request")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrInsufficientPosition   = errors.New("close quantity exceeds position")
	ErrSettlementNotConfirmed = errors.New("settlement not confirmed")
	ErrNotConnected           = errors.New("broker not connected")
	ErrClosed                 = errors.New("broker closed")
)

// OrderRequest is a domain-level order.
type OrderRequest struct {
	StrategyID    string
	ClientOrderID string // Optional; generated when empty
	Symbol        string
	Exchange      string
	Price         decimal.Decimal
	Quantity      int64
	Offset        model.Offset
	Type          model.OrderType
	TraceID       string
}

func (r OrderRequest) validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: symbol is empty", ErrInvalidOrder)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, r.Quantity)
	case r.Price.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidOrder)
	case !r.Offset.Valid():
		return fmt.Errorf("%w: offset %s", ErrInvalidOrder, r.Offset)
	}
	return nil
}

// Listener receives broker callbacks. For a fill, OnOrderStatus is called
// before the matching OnTrade. Listeners must not call Buy or Sell
// synchronously.
type Listener interface {
	OnOrderStatus(model.Order)
	OnTrade(model.Trade)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OrderStatus func(model.Order)
	Trade       func(model.Trade)
}

func (l ListenerFuncs) OnOrderStatus(o model.Order) {
	if l.OrderStatus != nil {
		l.OrderStatus(o)
	}
}

func (l ListenerFuncs) OnTrade(t model.Trade) {
	if l.Trade != nil {
		l.Trade(t)
	}
}

// Broker is implemented by BacktestBroker and LiveBroker with the same
// observable contract.
type Broker interface {
	Buy(ctx context.Context, req OrderRequest) (model.Order, error)
	Sell(ctx context.Context, req OrderRequest) (model.Order, error)

	// CancelOrder returns false for an order that is already terminal and
	// ErrUnknownOrder for an id it never issued.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	Order(orderID string) (model.Order, bool)
	OrderByClientID(clientOrderID string) (model.Order, bool)
	Orders() []model.Order
	Trades() []model.Trade
	Position(symbol string) (model.Position, bool)
	Positions() []model.Position
	Account() model.Account

	Subscribe(l Listener)
}

// listeners is a copy-on-write listener list.
type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (ls *listeners) add(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	next := make([]Listener, len(ls.list), len(ls.list)+1)
	copy(next, ls.list)
	ls.list = append(next, l)
}

func (ls *listeners) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.list
}

func (ls *listeners) orderStatus(o model.Order) {
	for _, l := range ls.snapshot() {
		l.OnOrderStatus(o)
	}
}

func (ls *listeners) trade(t model.Trade) {
	for _, l := range ls.snapshot() {
		l.OnTrade(t)
	}
}

// Settings are the money parameters shared by both brokers.
type Settings struct {
	AccountID          string
	InitialBalance     decimal.Decimal
	CommissionRate     decimal.Decimal // Fraction of traded notional
	ContractMultiplier int64
}

func (s Settings) withDefaults() Settings {
	if s.AccountID == "" {
		s.AccountID = "sim"
	}
	if s.ContractMultiplier <= 0 {
		s.ContractMultiplier = 1
	}
	return s
}
