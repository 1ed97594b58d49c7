package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// OrderMirror publishes order events to order keys for external readers.
type OrderMirror struct {
	store   Store
	keys    Keys
	timeout time.Duration
}

// NewOrderMirror creates a mirror. timeout bounds each write; zero means the
// caller's context alone.
func NewOrderMirror(store Store, keys Keys, timeout time.Duration) *OrderMirror {
	return &OrderMirror{store: store, keys: keys, timeout: timeout}
}

// Write replaces the order key of ev with its latest state.
func (m *OrderMirror) Write(ctx context.Context, strategyID string, ev model.OrderEvent) error {
	if ev.ClientOrderID == "" {
		return fmt.Errorf("mirror order: %w", missing(recordOrder, FieldClientOrderID))
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	key := m.keys.Order(strategyID, ev.ClientOrderID)
	if err := m.store.ReplaceHash(ctx, key, EncodeOrderEvent(ev)); err != nil {
		return fmt.Errorf("mirror order %s: %w", ev.ClientOrderID, err)
	}
	return nil
}

// Read returns the mirrored event for a client order id.
func (m *OrderMirror) Read(ctx context.Context, strategyID, clientOrderID string) (model.OrderEvent, error) {
	fields, err := m.store.HGetAll(ctx, m.keys.Order(strategyID, clientOrderID))
	if err != nil {
		return model.OrderEvent{}, err
	}
	return DecodeOrderEvent(fields)
}
