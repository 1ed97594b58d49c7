package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("gateway not connected")
	ErrMissingConfigKey = errors.New("missing connect config key")
	ErrInvalidRequest   = errors.New("invalid order request")
	ErrTimeout          = errors.New("gateway command timeout")
	ErrRejected         = errors.New("gateway rejected command")
	ErrUnknownMode      = errors.New("unknown gateway mode")
)

// TickHandler receives market data ticks.
type TickHandler func(model.Tick)

// OrderStatusHandler receives order status changes.
type OrderStatusHandler func(model.OrderEvent)

// MarketData is the market data adapter role.
type MarketData interface {
	Connect(ctx context.Context, cfg ConnectConfig) error
	Disconnect()
	Subscribe(ctx context.Context, instrumentIDs []string) bool
	OnTick(fn TickHandler)
}

// Trader is the order routing adapter role.
//
// PlaceOrder and CancelOrder return false without side effects until
// ConfirmSettlement has succeeded on the current connection.
type Trader interface {
	Connect(ctx context.Context, cfg ConnectConfig) error
	Disconnect()
	ConfirmSettlement(ctx context.Context) bool
	PlaceOrder(ctx context.Context, req OrderRequest) bool
	CancelOrder(ctx context.Context, clientOrderID, traceID string) bool
	OnOrderStatus(fn OrderStatusHandler)
	State() TraderState
}

// TraderState is the session state of a Trader.
type TraderState int32

const (
	StateDisconnected TraderState = iota
	StateConnected
	StateSettlementConfirmed
)

func (s TraderState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateSettlementConfirmed:
		return "SETTLEMENT_CONFIRMED"
	default:
		return "DISCONNECTED"
	}
}

// Role selects which front address a ConnectConfig must carry.
type Role string

const (
	RoleMarketData Role = "market_data"
	RoleTrader     Role = "trader"
)

// ConnectConfig holds the gateway session settings.
type ConnectConfig struct {
	MarketFrontAddress string `mapstructure:"market_front_address"`
	TraderFrontAddress string `mapstructure:"trader_front_address"`
	BrokerID           string `mapstructure:"broker_id"`
	UserID             string `mapstructure:"user_id"`
	InvestorID         string `mapstructure:"investor_id"`
	Password           string `mapstructure:"password"`
}

// ParseConnectConfig decodes a string-keyed mapping and checks the keys the
// role needs. Numeric ids such as broker_id=9999 are accepted.
func ParseConnectConfig(m map[string]any, role Role) (ConnectConfig, error) {
	cfg, err := decodeConnectConfig(m)
	if err != nil {
		return ConnectConfig{}, err
	}
	if err := cfg.Validate(role); err != nil {
		return ConnectConfig{}, err
	}
	return cfg, nil
}

func decodeConnectConfig(m map[string]any) (ConnectConfig, error) {
	var cfg ConnectConfig
	if err := decodeWeak(m, &cfg); err != nil {
		return ConnectConfig{}, fmt.Errorf("decode connect config: %w", err)
	}
	return cfg, nil
}

// Validate checks the keys the role needs.
func (c ConnectConfig) Validate(role Role) error {
	required := []struct {
		key   string
		value string
	}{
		{"broker_id", c.BrokerID},
		{"user_id", c.UserID},
		{"investor_id", c.InvestorID},
		{"password", c.Password},
	}
	switch role {
	case RoleMarketData:
		required = append(required, struct{ key, value string }{"market_front_address", c.MarketFrontAddress})
	case RoleTrader:
		required = append(required, struct{ key, value string }{"trader_front_address", c.TraderFrontAddress})
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingConfigKey, r.key)
		}
	}
	return nil
}

// OrderRequest is one order placement sent to the Trader.
type OrderRequest struct {
	AccountID     string          `mapstructure:"account_id"`
	ClientOrderID string          `mapstructure:"client_order_id"`
	StrategyID    string          `mapstructure:"strategy_id"`
	InstrumentID  string          `mapstructure:"instrument_id"`
	Side          model.Side      `mapstructure:"side"`
	Offset        model.Offset    `mapstructure:"offset"`
	Volume        int64           `mapstructure:"volume"`
	Price         decimal.Decimal `mapstructure:"price"`
	TraceID       string          `mapstructure:"trace_id"`
}

// Validate checks the fields every adapter relies on.
func (r OrderRequest) Validate() error {
	switch {
	case r.ClientOrderID == "":
		return fmt.Errorf("%w: client_order_id is empty", ErrInvalidRequest)
	case r.InstrumentID == "":
		return fmt.Errorf("%w: instrument_id is empty", ErrInvalidRequest)
	case r.TraceID == "":
		return fmt.Errorf("%w: trace_id is empty", ErrInvalidRequest)
	case r.Volume <= 0:
		return fmt.Errorf("%w: volume %d", ErrInvalidRequest, r.Volume)
	case r.Price.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidRequest)
	case !r.Side.Valid():
		return fmt.Errorf("%w: side %s", ErrInvalidRequest, r.Side)
	case !r.Offset.Valid():
		return fmt.Errorf("%w: offset %s", ErrInvalidRequest, r.Offset)
	}
	return nil
}

// ToMap renders the request as the string-keyed mapping sent to the gateway.
func (r OrderRequest) ToMap() map[string]any {
	return map[string]any{
		"account_id":      r.AccountID,
		"client_order_id": r.ClientOrderID,
		"strategy_id":     r.StrategyID,
		"instrument_id":   r.InstrumentID,
		"side":            r.Side.String(),
		"offset":          r.Offset.String(),
		"volume":          r.Volume,
		"price":           r.Price.String(),
		"trace_id":        r.TraceID,
	}
}

// OrderRequestFromMap decodes a placement mapping.
func OrderRequestFromMap(m map[string]any) (OrderRequest, error) {
	var req OrderRequest
	if err := decodeWeak(m, &req); err != nil {
		return OrderRequest{}, fmt.Errorf("decode order request: %w", err)
	}
	return req, nil
}

// eventPayload is the wire shape of an order status callback.
type eventPayload struct {
	AccountID     string          `mapstructure:"account_id"`
	ClientOrderID string          `mapstructure:"client_order_id"`
	InstrumentID  string          `mapstructure:"instrument_id"`
	Status        string          `mapstructure:"status"`
	TotalVolume   int64           `mapstructure:"total_volume"`
	FilledVolume  int64           `mapstructure:"filled_volume"`
	AvgPrice      decimal.Decimal `mapstructure:"avg_price"`
	Reason        string          `mapstructure:"reason"`
	ExchangeTsNs  int64           `mapstructure:"exchange_ts_ns"`
	RecvTsNs      int64           `mapstructure:"recv_ts_ns"`
	EventTsNs     int64           `mapstructure:"event_ts_ns"`
	TraceID       string          `mapstructure:"trace_id"`
	Algo          *algoPayload    `mapstructure:"algo"`
}

type algoPayload struct {
	AlgoID     string `mapstructure:"algo_id"`
	SliceIndex int    `mapstructure:"slice_index"`
	SliceTotal int    `mapstructure:"slice_total"`
	Throttled  bool   `mapstructure:"throttled"`
}

// OrderEventFromMap decodes an order status callback payload.
func OrderEventFromMap(m map[string]any) (model.OrderEvent, error) {
	var p eventPayload
	if err := decodeWeak(m, &p); err != nil {
		return model.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	if p.ClientOrderID == "" {
		return model.OrderEvent{}, errors.New("decode order event: client_order_id is empty")
	}
	status, err := model.ParseOrderStatus(p.Status)
	if err != nil {
		return model.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}

	ev := model.OrderEvent{
		AccountID:     p.AccountID,
		ClientOrderID: p.ClientOrderID,
		InstrumentID:  p.InstrumentID,
		Status:        status,
		TotalVolume:   p.TotalVolume,
		FilledVolume:  p.FilledVolume,
		AvgPrice:      p.AvgPrice,
		Reason:        p.Reason,
		ExchangeTsNs:  p.ExchangeTsNs,
		RecvTsNs:      p.RecvTsNs,
		EventTsNs:     p.EventTsNs,
		TraceID:       p.TraceID,
	}
	if p.Algo != nil {
		ev.Algo = &model.AlgoMeta{
			AlgoID:     p.Algo.AlgoID,
			SliceIndex: p.Algo.SliceIndex,
			SliceTotal: p.Algo.SliceTotal,
			Throttled:  p.Algo.Throttled,
		}
	}
	return ev, nil
}

// OrderEventToMap renders an event as the callback payload mapping.
func OrderEventToMap(ev model.OrderEvent) map[string]any {
	m := map[string]any{
		"account_id":      ev.AccountID,
		"client_order_id": ev.ClientOrderID,
		"instrument_id":   ev.InstrumentID,
		"status":          ev.Status.String(),
		"total_volume":    ev.TotalVolume,
		"filled_volume":   ev.FilledVolume,
		"avg_price":       ev.AvgPrice.String(),
		"reason":          ev.Reason,
		"exchange_ts_ns":  ev.ExchangeTsNs,
		"recv_ts_ns":      ev.RecvTsNs,
		"event_ts_ns":     ev.EventTsNs,
		"trace_id":        ev.TraceID,
	}
	if ev.Algo != nil {
		m["algo"] = map[string]any{
			"algo_id":     ev.Algo.AlgoID,
			"slice_index": ev.Algo.SliceIndex,
			"slice_total": ev.Algo.SliceTotal,
			"throttled":   ev.Algo.Throttled,
		}
	}
	return m
}

func decodeWeak(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decimalHook,
			enumHook,
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	sideType    = reflect.TypeOf(model.Side(0))
	offsetType  = reflect.TypeOf(model.Offset(0))
)

// decimalHook converts wire prices (strings or JSON numbers) to decimals.
func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}

// enumHook parses upper-case wire names into Side and Offset.
func enumHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	switch to {
	case sideType:
		return model.ParseSide(s)
	case offsetType:
		return model.ParseOffset(s)
	}
	return data, nil
}
