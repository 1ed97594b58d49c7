package strategy

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// Context keys written by the builtin strategies.
const (
	KeyLastOrderEvent = "last_order_event"
)

// CloseEcho emits one BUY/OPEN intent per bar at the bar's close. It is the
// smoke-test strategy for the bridge loop.
type CloseEcho struct {
	id     string
	volume int64

	mu     sync.Mutex
	events []model.OrderEvent
}

// NewCloseEcho creates a CloseEcho. volume below 1 means 1.
func NewCloseEcho(id string, volume int64) *CloseEcho {
	if volume < 1 {
		volume = 1
	}
	return &CloseEcho{id: id, volume: volume}
}

func (s *CloseEcho) ID() string { return s.id }

func (s *CloseEcho) OnBar(c *Context, bars []model.Bar) ([]model.SignalIntent, error) {
	intents := make([]model.SignalIntent, 0, len(bars))
	for _, bar := range bars {
		intents = append(intents, model.SignalIntent{
			StrategyID:   s.id,
			InstrumentID: bar.InstrumentID,
			Side:         model.SideBuy,
			Offset:       model.OffsetOpen,
			Volume:       s.volume,
			LimitPrice:   bar.Close,
			TsNs:         bar.TsNs,
		})
	}
	return intents, nil
}

func (s *CloseEcho) OnState(*Context, model.StateSnapshot) ([]model.SignalIntent, error) {
	return nil, nil
}

// OnOrderEvent records the event and exposes it to later strategies of the call.
func (s *CloseEcho) OnOrderEvent(c *Context, ev model.OrderEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	c.Set(KeyLastOrderEvent, ev)
	return nil
}

// Events returns the order events seen so far.
func (s *CloseEcho) Events() []model.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OrderEvent(nil), s.events...)
}

// StateTrend trades the trend factor: a confident positive score buys, a
// confident negative score sells, both at the last seen close.
type StateTrend struct {
	id            string
	instruments   []string
	threshold     float64
	minConfidence float64
	volume        int64

	lastClose map[string]decimal.Decimal
	lastTs    map[string]int64
}

// NewStateTrend creates a StateTrend scoped to instruments.
func NewStateTrend(id string, instruments []string, threshold, minConfidence float64, volume int64) *StateTrend {
	if threshold <= 0 {
		threshold = 0.5
	}
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	if volume < 1 {
		volume = 1
	}
	return &StateTrend{
		id:            id,
		instruments:   append([]string(nil), instruments...),
		threshold:     threshold,
		minConfidence: minConfidence,
		volume:        volume,
		lastClose:     make(map[string]decimal.Decimal),
		lastTs:        make(map[string]int64),
	}
}

func (s *StateTrend) ID() string            { return s.id }
func (s *StateTrend) Instruments() []string { return s.instruments }

// OnBar only tracks prices. Dispatch calls are serialized by the runtime.
func (s *StateTrend) OnBar(c *Context, bars []model.Bar) ([]model.SignalIntent, error) {
	for _, bar := range bars {
		s.lastClose[bar.InstrumentID] = bar.Close
	}
	return nil, nil
}

func (s *StateTrend) OnState(c *Context, snap model.StateSnapshot) ([]model.SignalIntent, error) {
	price, ok := s.lastClose[snap.InstrumentID]
	if !ok {
		return nil, nil
	}
	if snap.TsNs <= s.lastTs[snap.InstrumentID] {
		return nil, nil
	}
	s.lastTs[snap.InstrumentID] = snap.TsNs

	trend := snap.Trend
	if trend.Confidence < s.minConfidence || math.Abs(trend.Score) < s.threshold {
		return nil, nil
	}
	side := model.SideBuy
	if trend.Score < 0 {
		side = model.SideSell
	}
	c.Logger().Debug("trend signal", "instrument", snap.InstrumentID, "score", trend.Score, "confidence", trend.Confidence)
	return []model.SignalIntent{{
		StrategyID:   s.id,
		InstrumentID: snap.InstrumentID,
		Side:         side,
		Offset:       model.OffsetOpen,
		Volume:       s.volume,
		LimitPrice:   price,
		TsNs:         snap.TsNs,
	}}, nil
}

func (s *StateTrend) OnOrderEvent(*Context, model.OrderEvent) error {
	return nil
}

// Build returns a builtin strategy by name. Recognised params: volume,
// threshold, min_confidence.
func Build(name, id string, instruments []string, params map[string]float64) (Strategy, error) {
	volume := int64(params["volume"])
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "close_echo", "echo":
		return NewCloseEcho(id, volume), nil
	case "state_trend", "trend":
		return NewStateTrend(id, instruments, params["threshold"], params["min_confidence"], volume), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
