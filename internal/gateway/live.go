package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

func login(ctx context.Context, conn *wsConn, cc ConnectConfig) error {
	_, err := conn.call(ctx, "login", map[string]any{
		"broker_id":   cc.BrokerID,
		"user_id":     cc.UserID,
		"investor_id": cc.InvestorID,
		"password":    cc.Password,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Trader
// -----------------------------------------------------------------------------

// LiveTrader routes orders through the gateway sidecar's trader front.
type LiveTrader struct {
	cfg    LiveConfig
	logger *slog.Logger

	handler handlerSlot[model.OrderEvent]

	mu       sync.Mutex
	state    TraderState
	session  uint64 // Incremented on every Connect
	conn     *wsConn
	disp     *dispatcher[model.OrderEvent]
	identity ConnectConfig
}

// NewLiveTrader creates a disconnected live trader.
func NewLiveTrader(cfg LiveConfig, logger *slog.Logger) *LiveTrader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveTrader{
		cfg:    cfg.withDefaults(),
		logger: logger.With("adapter", "live_trader"),
	}
}

// Connect dials the trader front and logs in. It is a no-op when a session
// is already up.
func (t *LiveTrader) Connect(ctx context.Context, cc ConnectConfig) error {
	if err := cc.Validate(RoleTrader); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateDisconnected {
		return nil
	}

	t.session++
	session := t.session
	disp := newDispatcher(t.handler.get, newSequencer(t.logger).accept, t.logger)

	onPush := func(kind string, msg gjson.Result, receivedAt time.Time) {
		if kind != pushOrderStatus {
			return
		}
		ev, err := parseOrderStatus(msg, receivedAt)
		if err != nil {
			t.logger.Warn("bad order status frame", "error", err)
			return
		}
		disp.push(ev)
	}
	onDown := func(err error) { t.connectionLost(session, err) }

	conn, err := dialWS(ctx, cc.TraderFrontAddress, t.cfg, t.logger, onPush, onDown)
	if err != nil {
		disp.close()
		return err
	}
	if err := login(ctx, conn, cc); err != nil {
		conn.close()
		disp.close()
		return err
	}

	t.conn = conn
	t.disp = disp
	t.identity = cc
	t.state = StateConnected
	t.logger.Info("trader connected", "front", cc.TraderFrontAddress, "broker_id", cc.BrokerID, "investor_id", cc.InvestorID)
	return nil
}

func (t *LiveTrader) Disconnect() {
	t.mu.Lock()
	if t.state == StateDisconnected {
		t.mu.Unlock()
		return
	}
	conn, disp := t.teardownLocked()
	t.mu.Unlock()

	conn.close()
	disp.close()
	t.logger.Info("trader disconnected")
}

func (t *LiveTrader) teardownLocked() (*wsConn, *dispatcher[model.OrderEvent]) {
	conn, disp := t.conn, t.disp
	t.conn, t.disp = nil, nil
	t.state = StateDisconnected
	t.session++
	return conn, disp
}

func (t *LiveTrader) connectionLost(session uint64, err error) {
	t.mu.Lock()
	if t.session != session || t.state == StateDisconnected {
		t.mu.Unlock()
		return
	}
	_, disp := t.teardownLocked()
	t.mu.Unlock()

	t.logger.Error("trader connection lost", "error", err)
	disp.close()
}

// ConfirmSettlement confirms the settlement statement for the session.
func (t *LiveTrader) ConfirmSettlement(ctx context.Context) bool {
	t.mu.Lock()
	switch t.state {
	case StateSettlementConfirmed:
		t.mu.Unlock()
		return true
	case StateDisconnected:
		t.mu.Unlock()
		return false
	}
	conn, session, id := t.conn, t.session, t.identity
	t.mu.Unlock()

	_, err := conn.call(ctx, "confirm_settlement", map[string]any{
		"broker_id":   id.BrokerID,
		"investor_id": id.InvestorID,
	})
	if err != nil {
		t.logger.Warn("settlement confirmation failed", "error", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != session || t.state != StateConnected {
		return t.session == session && t.state == StateSettlementConfirmed
	}
	t.state = StateSettlementConfirmed
	t.logger.Info("settlement confirmed", "investor_id", id.InvestorID)
	return true
}

// confirmedConn returns the session connection if orders are allowed.
func (t *LiveTrader) confirmedConn() *wsConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateSettlementConfirmed {
		return nil
	}
	return t.conn
}

func (t *LiveTrader) PlaceOrder(ctx context.Context, req OrderRequest) bool {
	if err := req.Validate(); err != nil {
		t.logger.Warn("order rejected", "client_order_id", req.ClientOrderID, "error", err)
		return false
	}
	conn := t.confirmedConn()
	if conn == nil {
		return false
	}
	if _, err := conn.call(ctx, "place_order", req.ToMap()); err != nil {
		t.logger.Warn("place order failed", "client_order_id", req.ClientOrderID, "trace_id", req.TraceID, "error", err)
		return false
	}
	return true
}

func (t *LiveTrader) CancelOrder(ctx context.Context, clientOrderID, traceID string) bool {
	if clientOrderID == "" {
		return false
	}
	conn := t.confirmedConn()
	if conn == nil {
		return false
	}
	_, err := conn.call(ctx, "cancel_order", map[string]any{
		"client_order_id": clientOrderID,
		"trace_id":        traceID,
	})
	if err != nil {
		t.logger.Warn("cancel order failed", "client_order_id", clientOrderID, "error", err)
		return false
	}
	return true
}

func (t *LiveTrader) OnOrderStatus(fn OrderStatusHandler) {
	t.handler.set(fn)
}

func (t *LiveTrader) State() TraderState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func parseOrderStatus(msg gjson.Result, receivedAt time.Time) (model.OrderEvent, error) {
	m, ok := msg.Value().(map[string]any)
	if !ok {
		return model.OrderEvent{}, fmt.Errorf("order status payload is %s, want object", msg.Type)
	}
	ev, err := OrderEventFromMap(m)
	if err != nil {
		return model.OrderEvent{}, err
	}
	if ev.RecvTsNs == 0 {
		ev.RecvTsNs = receivedAt.UnixNano()
	}
	return ev, nil
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

// LiveMarketData streams ticks from the gateway sidecar's market front.
type LiveMarketData struct {
	cfg    LiveConfig
	logger *slog.Logger

	handler handlerSlot[model.Tick]

	mu      sync.Mutex
	session uint64
	conn    *wsConn
	disp    *dispatcher[model.Tick]
}

// NewLiveMarketData creates a disconnected live feed.
func NewLiveMarketData(cfg LiveConfig, logger *slog.Logger) *LiveMarketData {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveMarketData{
		cfg:    cfg.withDefaults(),
		logger: logger.With("adapter", "live_market_data"),
	}
}

func (m *LiveMarketData) Connect(ctx context.Context, cc ConnectConfig) error {
	if err := cc.Validate(RoleMarketData); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return nil
	}

	m.session++
	session := m.session
	disp := newDispatcher[model.Tick](m.handler.get, nil, m.logger)

	onPush := func(kind string, msg gjson.Result, receivedAt time.Time) {
		if kind != pushTick {
			return
		}
		tick, err := parseTick(msg, receivedAt)
		if err != nil {
			m.logger.Warn("bad tick frame", "error", err)
			return
		}
		disp.push(tick)
	}
	onDown := func(err error) { m.connectionLost(session, err) }

	conn, err := dialWS(ctx, cc.MarketFrontAddress, m.cfg, m.logger, onPush, onDown)
	if err != nil {
		disp.close()
		return err
	}
	if err := login(ctx, conn, cc); err != nil {
		conn.close()
		disp.close()
		return err
	}

	m.conn = conn
	m.disp = disp
	m.logger.Info("market data connected", "front", cc.MarketFrontAddress)
	return nil
}

func (m *LiveMarketData) Disconnect() {
	m.mu.Lock()
	conn, disp := m.conn, m.disp
	m.conn, m.disp = nil, nil
	m.session++
	m.mu.Unlock()

	if conn == nil {
		return
	}
	conn.close()
	disp.close()
}

func (m *LiveMarketData) connectionLost(session uint64, err error) {
	m.mu.Lock()
	if m.session != session || m.conn == nil {
		m.mu.Unlock()
		return
	}
	disp := m.disp
	m.conn, m.disp = nil, nil
	m.session++
	m.mu.Unlock()

	m.logger.Error("market data connection lost", "error", err)
	disp.close()
}

func (m *LiveMarketData) Subscribe(ctx context.Context, instrumentIDs []string) bool {
	if len(instrumentIDs) == 0 {
		return false
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}

	if _, err := conn.call(ctx, "subscribe", map[string]any{"instrument_ids": instrumentIDs}); err != nil {
		m.logger.Warn("subscribe failed", "instruments", instrumentIDs, "error", err)
		return false
	}
	m.logger.Debug("subscribed", "instruments", instrumentIDs)
	return true
}

func (m *LiveMarketData) OnTick(fn TickHandler) {
	m.handler.set(fn)
}

func parseTick(msg gjson.Result, receivedAt time.Time) (model.Tick, error) {
	id := msg.Get("instrument_id").String()
	if id == "" {
		return model.Tick{}, fmt.Errorf("tick without instrument_id")
	}

	var firstErr error
	price := func(path string) decimal.Decimal {
		r := msg.Get(path)
		if !r.Exists() || r.String() == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(r.String())
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", path, err)
		}
		return d
	}

	tick := model.Tick{
		InstrumentID: id,
		Exchange:     msg.Get("exchange").String(),
		ExchangeTsNs: msg.Get("exchange_ts_ns").Int(),
		RecvTsNs:     receivedAt.UnixNano(),
		LastPrice:    price("last_price"),
		LastVolume:   msg.Get("last_volume").Int(),
		BidPrice:     price("bid_price"),
		BidVolume:    msg.Get("bid_volume").Int(),
		AskPrice:     price("ask_price"),
		AskVolume:    msg.Get("ask_volume").Int(),
		Volume:       msg.Get("volume").Int(),
		Turnover:     price("turnover"),
		OpenInterest: msg.Get("open_interest").Float(),
	}
	if firstErr != nil {
		return model.Tick{}, firstErr
	}
	return tick, nil
}
