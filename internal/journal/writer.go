package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/queue"
)

const (
	upsertOrderSQL = `
		INSERT INTO orders (order_id, client_order_id, strategy_id, account_id, symbol, exchange,
			direction, offset_flag, order_type, price, quantity, filled_qty, avg_fill_price,
			status, reason, trace_id, commission, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (order_id) DO UPDATE SET
			filled_qty = EXCLUDED.filled_qty,
			avg_fill_price = EXCLUDED.avg_fill_price,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			commission = EXCLUDED.commission,
			updated_at = EXCLUDED.updated_at
		WHERE orders.updated_at <= EXCLUDED.updated_at`

	insertTradeSQL = `
		INSERT INTO trades (trade_id, order_id, strategy_id, account_id, symbol, exchange,
			direction, offset_flag, price, quantity, commission, trace_id, trade_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`
)

// BatchSender sends a pgx batch, e.g. *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int           // Flush when this many records are pending (default: 100)
	FlushInterval time.Duration // Flush at least this often (default: 1s)
	BufferSize    int           // Initial input buffer capacity (default: 1024)
	WriteTimeout  time.Duration // Per batch (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1024,
		WriteTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Stats are cumulative writer counters.
type Stats struct {
	Orders    int64 // Order rows written
	Trades    int64 // Trade rows inserted
	Conflicts int64 // Trades already present, or stale order updates
	Flushes   int64
	Errors    int64 // Failed batches
	Dropped   int64 // Records refused after Stop
}

// record is one pending order or trade.
type record struct {
	order *model.Order
	trade *model.Trade
}

// Writer batches orders and trades into PostgreSQL.
type Writer struct {
	cfg    Config
	db     BatchSender
	logger *slog.Logger

	input *queue.Buffer[record]

	batch   []record
	batchMu sync.Mutex
	flushMu sync.Mutex // One batch in flight at a time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewWriter creates a Writer. Call Start before recording.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  queue.NewBuffer[record](cfg.BufferSize),
		batch:  make([]record, 0, cfg.BatchSize),
	}
}

// RecordOrder queues an order snapshot. It returns false after Stop.
func (w *Writer) RecordOrder(o model.Order) bool {
	return w.push(record{order: &o})
}

// RecordTrade queues a trade. It returns false after Stop.
func (w *Writer) RecordTrade(t model.Trade) bool {
	return w.push(record{trade: &t})
}

func (w *Writer) push(r record) bool {
	if w.input.Push(r) {
		return true
	}
	w.statsMu.Lock()
	w.stats.Dropped++
	w.statsMu.Unlock()
	return false
}

// Start begins consuming records and flushing batches.
func (w *Writer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop(ctx)

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop refuses new records, writes everything queued, and waits for the
// background loops or ctx, whichever comes first.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flush()
	w.logger.Info("journal writer stopped", "stats", w.Stats())
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// consumeLoop drains the input until it is closed.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	w.input.Run(context.Background(), w.handle)
}

func (w *Writer) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) handle(r record) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch.
func (w *Writer) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	orders, trades, conflicts, err := w.write(batch)

	w.statsMu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Orders += orders
		w.stats.Trades += trades
		w.stats.Conflicts += conflicts
		w.stats.Flushes++
	}
	w.statsMu.Unlock()

	if err != nil {
		w.logger.Error("journal batch failed", "error", err, "count", len(batch))
		return
	}
	w.logger.Debug("flushed journal",
		"orders", orders,
		"trades", trades,
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// write sends rows in one pgx batch, in arrival order.
func (w *Writer) write(rows []record) (orders, trades, conflicts int64, err error) {
	if w.db == nil {
		return 0, 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.order != nil {
			queueOrder(batch, *r.order)
		} else {
			queueTrade(batch, *r.trade)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, 0, 0, err
		}
		switch {
		case ct.RowsAffected() == 0:
			conflicts++
		case r.order != nil:
			orders++
		default:
			trades++
		}
	}
	return orders, trades, conflicts, nil
}

func queueOrder(b *pgx.Batch, o model.Order) {
	b.Queue(upsertOrderSQL,
		o.OrderID, o.ClientOrderID, o.StrategyID, o.AccountID, o.Symbol, o.Exchange,
		o.Direction.String(), o.Offset.String(), o.Type.String(),
		o.Price.String(), o.Quantity, o.FilledQty, o.AvgFillPrice.String(),
		o.Status.String(), o.Reason, o.TraceID, o.Commission.String(),
		o.CreatedAt, o.UpdatedAt,
	)
}

func queueTrade(b *pgx.Batch, t model.Trade) {
	b.Queue(insertTradeSQL,
		t.TradeID, t.OrderID, t.StrategyID, t.AccountID, t.Symbol, t.Exchange,
		t.Direction.String(), t.Offset.String(),
		t.Price.String(), t.Quantity, t.Commission.String(), t.TraceID,
		t.TradeTime,
	)
}
