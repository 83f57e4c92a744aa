package router

import (
	"context"
	"sync"
)

// GrowableBuffer is a thread-safe FIFO that doubles its capacity when it
// reaches 70% full, up to a limit. At the limit Send blocks until a
// receiver makes room, which carries backpressure upstream.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int
	closed   bool

	// Stats
	totalReceived int64
	totalSent     int64
	resizeCount   int
	blockedSends  int64
}

// NewGrowableBuffer creates a buffer with the given initial capacity that
// holds at most limit items. A limit below the initial capacity is raised
// to it.
func NewGrowableBuffer[T any](initialCapacity, limit int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit < initialCapacity {
		limit = initialCapacity
	}
	b := &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		limit:    limit,
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Send adds an item, growing the buffer at 70% capacity. It blocks while
// the buffer holds limit items or until ctx is done. Returns false if the
// buffer is closed or ctx ended before the item was queued.
func (b *GrowableBuffer[T]) Send(ctx context.Context, item T) bool {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.limit && !b.closed {
		b.blockedSends++
	}
	for b.count >= b.limit && !b.closed && ctx.Err() == nil {
		b.notFull.Wait()
	}
	if b.closed || b.count >= b.limit {
		return false
	}

	threshold := max((b.capacity*70)/100, 1)
	if b.count+1 >= threshold && b.capacity < b.limit {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.notEmpty.Signal()
	return true
}

// Receive removes and returns the oldest item. Blocks until an item is
// available or the buffer is closed. Returns false once closed and empty.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.notEmpty.Wait()
	}

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.buf[b.head]
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++

	b.notFull.Signal()
	return item, true
}

// Close closes the buffer. After closing, Send returns false and
// receivers get the remaining items, then the closed signal.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Len returns the current number of items in the buffer.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		Limit:         b.limit,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		ResizeCount:   b.resizeCount,
		BlockedSends:  b.blockedSends,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	Limit         int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
	BlockedSends  int64 // Sends that found the buffer at its limit
}

// grow doubles the buffer capacity, capped at the limit. Must be called
// with lock held.
func (b *GrowableBuffer[T]) grow() {
	newCapacity := min(b.capacity*2, b.limit)
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			// Contiguous: [head...tail)
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
