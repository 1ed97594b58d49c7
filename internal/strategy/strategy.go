package strategy

import (
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// Strategy is the capability set every strategy provides.
type Strategy interface {
	ID() string
	OnBar(c *Context, bars []model.Bar) ([]model.SignalIntent, error)
	OnState(c *Context, snap model.StateSnapshot) ([]model.SignalIntent, error)
	OnOrderEvent(c *Context, ev model.OrderEvent) error
}

// Scoped is implemented by strategies that only trade some instruments.
// OnState is routed to a Scoped strategy only for instruments it lists;
// strategies without a scope receive every snapshot.
type Scoped interface {
	Instruments() []string
}

func inScope(s Strategy, instrumentID string) bool {
	scoped, ok := s.(Scoped)
	if !ok {
		return true
	}
	for _, id := range scoped.Instruments() {
		if id == instrumentID {
			return true
		}
	}
	return false
}
