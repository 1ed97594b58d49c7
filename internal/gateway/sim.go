package gateway

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// SimConfig controls the fallback simulation timing. The values bound how
// soon callbacks arrive; they are not part of any protocol.
type SimConfig struct {
	TickInterval time.Duration
	FillDelay    time.Duration
}

// DefaultSimConfig returns the timing used when nothing is configured.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		TickInterval: 200 * time.Millisecond,
		FillDelay:    50 * time.Millisecond,
	}
}

func (c SimConfig) withDefaults() SimConfig {
	def := DefaultSimConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.FillDelay <= 0 {
		c.FillDelay = def.FillDelay
	}
	return c
}

// -----------------------------------------------------------------------------
// Trader
// -----------------------------------------------------------------------------

// SimTrader is the fallback Trader. Every accepted order gets exactly one
// callback: FILLED after FillDelay, or CANCELED if cancelled first.
type SimTrader struct {
	cfg    SimConfig
	logger *slog.Logger
	now    func() time.Time

	handler handlerSlot[model.OrderEvent]

	mu      sync.Mutex
	state   TraderState
	working map[string]simOrder // Orders awaiting their fill, by client order id
	seen    map[string]struct{} // Client order ids used this session
	disp    *dispatcher[model.OrderEvent]
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type simOrder struct {
	req OrderRequest
	due time.Time
}

// NewSimTrader creates a disconnected simulated trader.
func NewSimTrader(cfg SimConfig, logger *slog.Logger) *SimTrader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimTrader{
		cfg:    cfg.withDefaults(),
		logger: logger.With("adapter", "sim_trader"),
		now:    time.Now,
	}
}

// Connect starts a simulated session. The config is not checked.
func (t *SimTrader) Connect(ctx context.Context, cfg ConnectConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateDisconnected {
		return nil
	}

	seq := newSequencer(t.logger)
	t.disp = newDispatcher(t.handler.get, seq.accept, t.logger)
	t.working = make(map[string]simOrder)
	t.seen = make(map[string]struct{})
	t.state = StateConnected

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.matchLoop(loopCtx)

	t.logger.Info("simulated trader connected")
	return nil
}

// Disconnect ends the session. Working orders are dropped without callbacks;
// callbacks already queued are still delivered before Disconnect returns.
func (t *SimTrader) Disconnect() {
	t.mu.Lock()
	if t.state == StateDisconnected {
		t.mu.Unlock()
		return
	}
	t.state = StateDisconnected
	cancel, disp := t.cancel, t.disp
	dropped := len(t.working)
	t.working = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	disp.close()
	t.logger.Info("simulated trader disconnected", "dropped_orders", dropped)
}

func (t *SimTrader) ConfirmSettlement(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateConnected:
		t.state = StateSettlementConfirmed
		return true
	case StateSettlementConfirmed:
		return true
	default:
		return false
	}
}

func (t *SimTrader) PlaceOrder(ctx context.Context, req OrderRequest) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := req.Validate(); err != nil {
		t.logger.Warn("order rejected", "client_order_id", req.ClientOrderID, "error", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateSettlementConfirmed {
		return false
	}
	if _, dup := t.seen[req.ClientOrderID]; dup {
		t.logger.Warn("duplicate client order id", "client_order_id", req.ClientOrderID)
		return false
	}
	t.seen[req.ClientOrderID] = struct{}{}
	t.working[req.ClientOrderID] = simOrder{req: req, due: t.now().Add(t.cfg.FillDelay)}
	return true
}

// CancelOrder cancels a working order. Filled, unknown or already cancelled
// orders return false.
func (t *SimTrader) CancelOrder(ctx context.Context, clientOrderID, traceID string) bool {
	if ctx.Err() != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateSettlementConfirmed {
		return false
	}
	o, ok := t.working[clientOrderID]
	if !ok {
		return false
	}
	delete(t.working, clientOrderID)

	ev := t.event(o.req, model.OrderStatusCanceled, 0)
	ev.Reason = "cancelled by request"
	if traceID != "" {
		ev.TraceID = traceID
	}
	t.disp.push(ev)
	return true
}

func (t *SimTrader) OnOrderStatus(fn OrderStatusHandler) {
	t.handler.set(fn)
}

func (t *SimTrader) State() TraderState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// matchLoop fills due orders. One goroutine per session regardless of order count.
func (t *SimTrader) matchLoop(ctx context.Context) {
	defer t.wg.Done()

	step := t.cfg.FillDelay / 4
	if step < time.Millisecond {
		step = time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fillDue()
		}
	}
}

func (t *SimTrader) fillDue() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var due []simOrder
	for id, o := range t.working {
		if !o.due.After(now) {
			due = append(due, o)
			delete(t.working, id)
		}
	}
	// Placement order within one pass
	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, o := range due {
		t.disp.push(t.event(o.req, model.OrderStatusFilled, o.req.Volume))
	}
}

func (t *SimTrader) event(req OrderRequest, status model.OrderStatus, filled int64) model.OrderEvent {
	ts := t.now().UnixNano()
	ev := model.OrderEvent{
		AccountID:     req.AccountID,
		ClientOrderID: req.ClientOrderID,
		InstrumentID:  req.InstrumentID,
		Status:        status,
		TotalVolume:   req.Volume,
		FilledVolume:  filled,
		ExchangeTsNs:  ts,
		RecvTsNs:      ts,
		EventTsNs:     ts,
		TraceID:       req.TraceID,
	}
	if filled > 0 {
		ev.AvgPrice = req.Price
	}
	return ev
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

// SimMarketData is the fallback MarketData. Subscribed instruments get a tick
// right away and then every TickInterval, following a fixed price walk.
type SimMarketData struct {
	cfg    SimConfig
	logger *slog.Logger

	handler handlerSlot[model.Tick]

	mu        sync.Mutex
	connected bool
	subs      map[string]*simSeries
	order     []string // Subscription order
	disp      *dispatcher[model.Tick]
	wake      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type simSeries struct {
	base     decimal.Decimal
	step     decimal.Decimal
	n        int64
	volume   int64
	turnover decimal.Decimal
}

// NewSimMarketData creates a disconnected simulated feed.
func NewSimMarketData(cfg SimConfig, logger *slog.Logger) *SimMarketData {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimMarketData{
		cfg:    cfg.withDefaults(),
		logger: logger.With("adapter", "sim_market_data"),
	}
}

func (m *SimMarketData) Connect(ctx context.Context, cfg ConnectConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	m.connected = true
	m.subs = make(map[string]*simSeries)
	m.order = nil
	m.wake = make(chan struct{}, 1)
	m.disp = newDispatcher[model.Tick](m.handler.get, nil, m.logger)

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.tickLoop(loopCtx)
	return nil
}

func (m *SimMarketData) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	cancel, disp := m.cancel, m.disp
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	disp.close()
}

// Subscribe adds instruments. Already subscribed ids are ignored.
func (m *SimMarketData) Subscribe(ctx context.Context, instrumentIDs []string) bool {
	if ctx.Err() != nil || len(instrumentIDs) == 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false
	}
	for _, id := range instrumentIDs {
		if id == "" {
			return false
		}
	}
	for _, id := range instrumentIDs {
		if _, ok := m.subs[id]; ok {
			continue
		}
		m.subs[id] = newSimSeries(id)
		m.order = append(m.order, id)
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *SimMarketData) OnTick(fn TickHandler) {
	m.handler.set(fn)
}

func (m *SimMarketData) tickLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.emit(true)
		case <-ticker.C:
			m.emit(false)
		}
	}
}

// emit sends one tick per instrument. With fresh set, only instruments that
// have not ticked yet are sent.
func (m *SimMarketData) emit(fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	for _, id := range m.order {
		s := m.subs[id]
		if fresh && s.n > 0 {
			continue
		}
		m.disp.push(s.next(id, now))
	}
}

func newSimSeries(instrumentID string) *simSeries {
	h := fnv.New32a()
	h.Write([]byte(instrumentID))
	sum := h.Sum32()
	return &simSeries{
		base: decimal.NewFromInt(int64(1000 + sum%9000)),
		step: decimal.NewFromInt(1),
	}
}

// walk is the repeating step pattern applied to base.
var walk = []int64{0, 1, 2, 3, 2, 1, 0, -1, -2, -3, -4, -3, -2, -1}

func (s *simSeries) next(instrumentID string, nowNs int64) model.Tick {
	price := s.base.Add(s.step.Mul(decimal.NewFromInt(walk[s.n%int64(len(walk))])))
	s.n++
	s.volume++
	s.turnover = s.turnover.Add(price)

	exchange := ""
	if i := strings.IndexByte(instrumentID, '.'); i > 0 {
		exchange = instrumentID[:i]
	}
	return model.Tick{
		InstrumentID: instrumentID,
		Exchange:     exchange,
		ExchangeTsNs: nowNs,
		RecvTsNs:     nowNs,
		LastPrice:    price,
		LastVolume:   1,
		BidPrice:     price.Sub(s.step),
		BidVolume:    10,
		AskPrice:     price.Add(s.step),
		AskVolume:    10,
		Volume:       s.volume,
		Turnover:     s.turnover,
		OpenInterest: float64(1000 + s.n),
	}
}
