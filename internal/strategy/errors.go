package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateStrategy = errors.New("strategy id already registered")
	ErrEmptyStrategyID   = errors.New("strategy id is empty")
	ErrMalformedBatch    = errors.New("malformed bar batch")
	ErrHandlerPanic      = errors.New("strategy handler panicked")
	ErrDuplicateTrace    = errors.New("duplicate trace id in dispatch")
	ErrUnknownStrategy   = errors.New("unknown builtin strategy")
)

// Event names used in HandlerError.
const (
	EventBar        = "on_bar"
	EventState      = "on_state"
	EventOrderEvent = "on_order_event"
)

// HandlerError is one strategy's failure during a dispatch. It never stops
// dispatch to the strategies registered after it.
type HandlerError struct {
	StrategyID string
	Event      string
	Err        error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("strategy %s %s: %v", e.StrategyID, e.Event, e.Err)
}

func (e HandlerError) Unwrap() error {
	return e.Err
}
