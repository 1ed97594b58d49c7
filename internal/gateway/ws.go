package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// LiveConfig configures the websocket adapters.
type LiveConfig struct {
	CommandTimeout time.Duration // Wait for a command response
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration // Max silence before the connection is considered stale
}

// DefaultLiveConfig returns sensible defaults.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		CommandTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   15 * time.Second,
		PingTimeout:    45 * time.Second,
	}
}

func (c LiveConfig) withDefaults() LiveConfig {
	def := DefaultLiveConfig()
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	return c
}

// command is a request frame sent to the gateway sidecar.
type command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

// Push frame types.
const (
	pushOrderStatus = "order_status"
	pushTick        = "tick"
)

// wsConn is one websocket session to the gateway sidecar: commands are
// correlated with responses by id, everything else is handed to onPush.
type wsConn struct {
	cfg    LiveConfig
	logger *slog.Logger
	conn   *websocket.Conn

	onPush func(kind string, msg gjson.Result, receivedAt time.Time)
	onDown func(error)

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan gjson.Result
	cmdID     int64 // Atomic counter

	mu       sync.RWMutex
	lastSeen time.Time
	closed   bool
	done     chan struct{}
}

func dialWS(ctx context.Context, url string, cfg LiveConfig, logger *slog.Logger,
	onPush func(string, gjson.Result, time.Time), onDown func(error)) (*wsConn, error) {

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		onPush:   onPush,
		onDown:   onDown,
		pending:  make(map[int64]chan gjson.Result),
		lastSeen: time.Now(),
		done:     make(chan struct{}),
	}

	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	logger.Debug("gateway websocket connected", "url", url)
	return c, nil
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// call sends a command and waits for its response. An "error" response
// becomes ErrRejected carrying the gateway's message.
func (c *wsConn) call(ctx context.Context, cmd string, params any) (gjson.Result, error) {
	id := atomic.AddInt64(&c.cmdID, 1)
	respCh := make(chan gjson.Result, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return gjson.Result{}, err
	}
	if err := c.send(data); err != nil {
		return gjson.Result{}, err
	}

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	case <-c.done:
		return gjson.Result{}, ErrNotConnected
	case <-timer.C:
		return gjson.Result{}, fmt.Errorf("%s: %w", cmd, ErrTimeout)
	case resp := <-respCh:
		if resp.Get("type").String() == "error" {
			return resp, fmt.Errorf("%s: %w: %s", cmd, ErrRejected, resp.Get("msg.message").String())
		}
		return resp.Get("msg"), nil
	}
}

func (c *wsConn) send(data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close reports whether this call closed the session.
func (c *wsConn) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	c.conn.Close()
	return true
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}
		c.touch()

		if !gjson.ValidBytes(data) {
			c.logger.Warn("invalid gateway frame", "size", len(data))
			continue
		}
		frame := gjson.ParseBytes(data)

		if id := frame.Get("id"); id.Exists() {
			c.routeResponse(id.Int(), frame)
			continue
		}
		if c.onPush != nil {
			c.onPush(frame.Get("type").String(), frame.Get("msg"), receivedAt)
		}
	}
}

func (c *wsConn) routeResponse(id int64, frame gjson.Result) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- frame:
		default:
		}
		return
	}
	c.logger.Debug("response without pending command", "id", id)
}

func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			last := c.lastSeen
			c.mu.RUnlock()
			if time.Since(last) > c.cfg.PingTimeout {
				c.logger.Warn("gateway connection stale", "last_seen", last, "timeout", c.cfg.PingTimeout)
				c.fail(fmt.Errorf("no traffic for %s", c.cfg.PingTimeout))
				return
			}
		}
	}
}

// fail closes the session after an I/O error and reports it once.
func (c *wsConn) fail(err error) {
	if c.close() && c.onDown != nil {
		c.onDown(err)
	}
}
