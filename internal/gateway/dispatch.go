package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/queue"
)

const dispatchBufferSize = 1024

// terminalRetention is how long a finished order is remembered so late
// duplicates are still dropped.
const terminalRetention = 5 * time.Minute

// dispatcher delivers events to a handler from one goroutine, in push order.
// Producers never block on a slow handler; the buffer grows instead.
type dispatcher[T any] struct {
	buf     *queue.Buffer[T]
	handler func() func(T)
	filter  func(T) bool // Optional; false drops the event
	logger  *slog.Logger
	done    chan struct{}
}

func newDispatcher[T any](handler func() func(T), filter func(T) bool, logger *slog.Logger) *dispatcher[T] {
	d := &dispatcher[T]{
		buf:     queue.NewBuffer[T](dispatchBufferSize),
		handler: handler,
		filter:  filter,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher[T]) push(ev T) bool {
	return d.buf.Push(ev)
}

func (d *dispatcher[T]) run() {
	defer close(d.done)
	d.buf.Run(context.Background(), d.deliver)
}

func (d *dispatcher[T]) deliver(ev T) {
	if d.filter != nil && !d.filter(ev) {
		return
	}
	fn := d.handler()
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("gateway callback panicked", "panic", p)
		}
	}()
	fn(ev)
}

// close stops accepting events, delivers what is queued, and waits.
func (d *dispatcher[T]) close() {
	d.buf.Close()
	<-d.done
}

// sequencer enforces causal order of order events per client order id.
// Only the dispatcher goroutine calls accept. Orders that reached a terminal
// status are forgotten after the retention window.
type sequencer struct {
	logger    *slog.Logger
	last      map[string]seqEntry
	retention time.Duration
	now       func() time.Time
	lastPrune time.Time
}

type seqEntry struct {
	status model.OrderStatus
	filled int64
	doneAt time.Time // Set once status is terminal
}

func newSequencer(logger *slog.Logger) *sequencer {
	return &sequencer{
		logger:    logger,
		last:      make(map[string]seqEntry),
		retention: terminalRetention,
		now:       time.Now,
	}
}

// accept reports whether ev moves its order forward. Anything after a terminal
// status, a lower rank, or a repeat of the same state is dropped.
func (s *sequencer) accept(ev model.OrderEvent) bool {
	prev, seen := s.last[ev.ClientOrderID]
	if seen {
		switch {
		case prev.status.Terminal():
			s.drop(ev, prev, "after terminal status")
			return false
		case ev.Status.Rank() < prev.status.Rank():
			s.drop(ev, prev, "status regression")
			return false
		case ev.Status.Rank() == prev.status.Rank() && ev.FilledVolume <= prev.filled:
			s.drop(ev, prev, "duplicate")
			return false
		}
	}
	now := s.now()
	entry := seqEntry{status: ev.Status, filled: ev.FilledVolume}
	if ev.Status.Terminal() {
		entry.doneAt = now
	}
	s.last[ev.ClientOrderID] = entry
	s.prune(now)
	return true
}

// prune drops terminal entries older than the retention window. It scans at
// most once per half window.
func (s *sequencer) prune(now time.Time) {
	if now.Sub(s.lastPrune) < s.retention/2 {
		return
	}
	s.lastPrune = now
	for id, e := range s.last {
		if !e.doneAt.IsZero() && now.Sub(e.doneAt) >= s.retention {
			delete(s.last, id)
		}
	}
}

func (s *sequencer) tracked() int {
	return len(s.last)
}

func (s *sequencer) drop(ev model.OrderEvent, prev seqEntry, reason string) {
	s.logger.Debug("dropping order event",
		"client_order_id", ev.ClientOrderID,
		"status", ev.Status,
		"previous", prev.status,
		"reason", reason,
	)
}

// handlerSlot holds a callback that may be replaced while events flow.
type handlerSlot[T any] struct {
	mu sync.RWMutex
	fn func(T)
}

func (h *handlerSlot[T]) set(fn func(T)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

func (h *handlerSlot[T]) get() func(T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fn
}
