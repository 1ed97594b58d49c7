package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEnum is returned when a wire value does not name a known enum member.
var ErrUnknownEnum = errors.New("unknown enum value")

// Side is the trade direction of an intent or order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide parses the upper-case wire name. Lower case is accepted.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("side %q: %w", v, ErrUnknownEnum)
	}
}

// Offset distinguishes opening from closing a position.
type Offset uint8

const (
	OffsetUnknown Offset = iota
	OffsetOpen
	OffsetClose
)

func (o Offset) String() string {
	switch o {
	case OffsetOpen:
		return "OPEN"
	case OffsetClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether o is OPEN or CLOSE.
func (o Offset) Valid() bool {
	return o == OffsetOpen || o == OffsetClose
}

// ParseOffset parses the upper-case wire name.
func ParseOffset(v string) (Offset, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "OPEN":
		return OffsetOpen, nil
	case "CLOSE":
		return OffsetClose, nil
	default:
		return OffsetUnknown, fmt.Errorf("offset %q: %w", v, ErrUnknownEnum)
	}
}

// OrderType is the execution style of an order.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypeFAK
	OrderTypeFOK
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeFAK:
		return "FAK"
	case OrderTypeFOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderType parses the upper-case wire name. Empty means LIMIT.
func ParseOrderType(v string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "LIMIT":
		return OrderTypeLimit, nil
	case "MARKET":
		return OrderTypeMarket, nil
	case "FAK":
		return OrderTypeFAK, nil
	case "FOK":
		return OrderTypeFOK, nil
	default:
		return OrderTypeLimit, fmt.Errorf("order type %q: %w", v, ErrUnknownEnum)
	}
}

// OrderStatus is the lifecycle state of an order.
//
// PENDING only exists inside the broker (created, not yet accepted). The other
// members form the closed set carried by OrderEvent.
type OrderStatus uint8

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusNew
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusNew:
		return "NEW"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Rank orders statuses causally. A status may only move to an equal or higher rank;
// equal rank is allowed for repeated partial fills.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusNew:
		return 1
	case OrderStatusSubmitted:
		return 2
	case OrderStatusPartiallyFilled:
		return 3
	default:
		return 4
	}
}

// ParseOrderStatus parses an OrderEvent status. PENDING is not a valid event status.
// CANCELLED is accepted as an alias used by some gateways.
func ParseOrderStatus(v string) (OrderStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "NEW":
		return OrderStatusNew, nil
	case "SUBMITTED":
		return OrderStatusSubmitted, nil
	case "PARTIALLY_FILLED":
		return OrderStatusPartiallyFilled, nil
	case "FILLED":
		return OrderStatusFilled, nil
	case "CANCELED", "CANCELLED":
		return OrderStatusCanceled, nil
	case "REJECTED":
		return OrderStatusRejected, nil
	default:
		return OrderStatusPending, fmt.Errorf("order status %q: %w", v, ErrUnknownEnum)
	}
}
