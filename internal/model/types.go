package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market Types
// -----------------------------------------------------------------------------

// Tick is one market update for an instrument.
type Tick struct {
	InstrumentID string
	Exchange     string
	ExchangeTsNs int64 // Exchange-side timestamp
	RecvTsNs     int64 // Local receive timestamp

	LastPrice  decimal.Decimal
	LastVolume int64

	BidPrice  decimal.Decimal
	BidVolume int64
	AskPrice  decimal.Decimal
	AskVolume int64

	Volume       int64           // Cumulative volume
	Turnover     decimal.Decimal // Cumulative turnover
	OpenInterest float64
}

// Bar is a fixed-timeframe OHLCV aggregate. Bars are built outside this module.
type Bar struct {
	InstrumentID string
	Exchange     string
	Timeframe    string // e.g. "1m"
	TsNs         int64  // Bar close timestamp

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	Volume       int64
	Turnover     decimal.Decimal
	OpenInterest float64
}

// Factor names carried by a StateSnapshot, in wire order.
const (
	FactorTrend       = "trend"
	FactorVolatility  = "volatility"
	FactorLiquidity   = "liquidity"
	FactorSentiment   = "sentiment"
	FactorSeasonality = "seasonality"
	FactorPattern     = "pattern"
	FactorEventDrive  = "event_drive"
)

// FactorNames lists the seven factors in wire order.
var FactorNames = []string{
	FactorTrend,
	FactorVolatility,
	FactorLiquidity,
	FactorSentiment,
	FactorSeasonality,
	FactorPattern,
	FactorEventDrive,
}

// FactorScore is one factor assessment. Confidence is in [0,1].
type FactorScore struct {
	Score      float64
	Confidence float64
}

// StateSnapshot is a point-in-time multi-factor assessment of one instrument.
type StateSnapshot struct {
	InstrumentID string
	Trend        FactorScore
	Volatility   FactorScore
	Liquidity    FactorScore
	Sentiment    FactorScore
	Seasonality  FactorScore
	Pattern      FactorScore
	EventDrive   FactorScore
	TsNs         int64
}

// Factor returns the factor by wire name.
func (s StateSnapshot) Factor(name string) (FactorScore, bool) {
	switch name {
	case FactorTrend:
		return s.Trend, true
	case FactorVolatility:
		return s.Volatility, true
	case FactorLiquidity:
		return s.Liquidity, true
	case FactorSentiment:
		return s.Sentiment, true
	case FactorSeasonality:
		return s.Seasonality, true
	case FactorPattern:
		return s.Pattern, true
	case FactorEventDrive:
		return s.EventDrive, true
	default:
		return FactorScore{}, false
	}
}

// SetFactor assigns the factor by wire name.
func (s *StateSnapshot) SetFactor(name string, f FactorScore) bool {
	switch name {
	case FactorTrend:
		s.Trend = f
	case FactorVolatility:
		s.Volatility = f
	case FactorLiquidity:
		s.Liquidity = f
	case FactorSentiment:
		s.Sentiment = f
	case FactorSeasonality:
		s.Seasonality = f
	case FactorPattern:
		s.Pattern = f
	case FactorEventDrive:
		s.EventDrive = f
	default:
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Signal Types
// -----------------------------------------------------------------------------

// ErrInvalidIntent is returned by SignalIntent.Validate.
var ErrInvalidIntent = errors.New("invalid signal intent")

// SignalIntent is a strategy's request to trade. Never mutated after creation.
type SignalIntent struct {
	StrategyID   string
	InstrumentID string
	Side         Side
	Offset       Offset
	Volume       int64
	LimitPrice   decimal.Decimal
	TsNs         int64
	TraceID      string // Unique per intent, threaded through to OrderEvent
}

// Validate checks the fields the bridge encoding depends on.
func (i SignalIntent) Validate() error {
	switch {
	case i.InstrumentID == "":
		return fmt.Errorf("%w: instrument_id is empty", ErrInvalidIntent)
	case strings.Contains(i.InstrumentID, "|"):
		return fmt.Errorf("%w: instrument_id contains '|'", ErrInvalidIntent)
	case !i.Side.Valid():
		return fmt.Errorf("%w: side %s", ErrInvalidIntent, i.Side)
	case !i.Offset.Valid():
		return fmt.Errorf("%w: offset %s", ErrInvalidIntent, i.Offset)
	case i.Volume <= 0:
		return fmt.Errorf("%w: volume %d must be positive", ErrInvalidIntent, i.Volume)
	case i.LimitPrice.IsNegative():
		return fmt.Errorf("%w: negative limit price", ErrInvalidIntent)
	case i.TraceID == "":
		return fmt.Errorf("%w: trace_id is empty", ErrInvalidIntent)
	case strings.Contains(i.TraceID, "|"):
		return fmt.Errorf("%w: trace_id contains '|'", ErrInvalidIntent)
	}
	return nil
}

// AlgoMeta describes the slice of a sliced execution algorithm an order belongs to.
type AlgoMeta struct {
	AlgoID     string
	SliceIndex int
	SliceTotal int
	Throttled  bool
}

// OrderEvent is an order status change as seen by strategies and the bridge.
type OrderEvent struct {
	AccountID     string
	ClientOrderID string
	InstrumentID  string
	Status        OrderStatus
	TotalVolume   int64
	FilledVolume  int64
	AvgPrice      decimal.Decimal
	Reason        string

	ExchangeTsNs int64
	RecvTsNs     int64
	EventTsNs    int64

	TraceID string
	Algo    *AlgoMeta // Optional
}

// -----------------------------------------------------------------------------
// Broker-Owned Types
// -----------------------------------------------------------------------------

// Order is the broker's record of an order.
type Order struct {
	OrderID       string
	ClientOrderID string
	StrategyID    string
	AccountID     string
	Symbol        string
	Exchange      string
	Direction     Side
	Offset        Offset
	Type          OrderType
	Price         decimal.Decimal
	Quantity      int64
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	Status        OrderStatus
	Reason        string
	TraceID       string
	Commission    decimal.Decimal
	CreatedAt     time.Time // UTC
	UpdatedAt     time.Time // UTC
}

// Trade is one fill of an order. An order may produce several trades.
type Trade struct {
	TradeID    string
	OrderID    string // Back-reference, not ownership
	StrategyID string
	AccountID  string
	Symbol     string
	Exchange   string
	Direction  Side
	Offset     Offset
	Price      decimal.Decimal
	Quantity   int64
	TradeTime  time.Time // UTC
	Commission decimal.Decimal
	TraceID    string
}

// Position is the holding of one symbol for one strategy/account.
type Position struct {
	Symbol     string
	Exchange   string
	StrategyID string
	AccountID  string

	LongQty       int64
	LongAvgPrice  decimal.Decimal
	ShortQty      int64
	ShortAvgPrice decimal.Decimal

	UpdatedAt time.Time // UTC
}

// Gross returns long + short quantity. OPEN fills add to it, CLOSE fills subtract.
func (p Position) Gross() int64 {
	return p.LongQty + p.ShortQty
}

// Net returns long - short quantity.
func (p Position) Net() int64 {
	return p.LongQty - p.ShortQty
}

// Account is the trading account balance.
type Account struct {
	AccountID   string
	Balance     decimal.Decimal
	RealizedPnL decimal.Decimal
	Commission  decimal.Decimal // Cumulative
	UpdatedAt   time.Time       // UTC
}
