package queue

import (
	"context"
	"sync"
)

// Buffer is a thread-safe FIFO that doubles its capacity when it reaches 70% full.
// Producers never block; the consumer blocks until an item arrives or the buffer closes.
type Buffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	pushed      int64
	popped      int64
	resizeCount int
}

// Stats contains buffer statistics.
type Stats struct {
	Count       int
	Capacity    int
	Pushed      int64
	Popped      int64
	ResizeCount int
}

// NewBuffer creates a new buffer with the given initial capacity.
func NewBuffer[T any](initialCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &Buffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item. Returns false if the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.pushed++

	b.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available or the buffer is
// closed. Returns false once the buffer is closed and empty.
func (b *Buffer[T]) Pop() (T, bool) {
	return b.popUntil(nil)
}

// TryPop removes the oldest item without blocking.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// Run hands every item to handler on the calling goroutine, in push order, until
// ctx is done or the buffer is closed and drained.
func (b *Buffer[T]) Run(ctx context.Context, handler func(T)) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		item, ok := b.popUntil(ctx)
		if !ok {
			return
		}
		handler(item)
	}
}

// Drain removes up to max items (all when max <= 0) without blocking.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = b.takeLocked()
	}
	return out
}

// Close stops accepting items. Consumers still receive what was already pushed.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:       b.count,
		Capacity:    b.capacity,
		Pushed:      b.pushed,
		Popped:      b.popped,
		ResizeCount: b.resizeCount,
	}
}

func (b *Buffer[T]) popUntil(ctx context.Context) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed && (ctx == nil || ctx.Err() == nil) {
		b.cond.Wait()
	}

	if b.count == 0 || (ctx != nil && ctx.Err() != nil) {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// takeLocked pops the head item. Must be called with lock held and count > 0.
func (b *Buffer[T]) takeLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.popped++
	return item
}

// grow doubles the buffer capacity. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
