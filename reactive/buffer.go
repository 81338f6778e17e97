package reactive

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultBufferSize is the number of elements Buffer holds when no capacity is given.
const DefaultBufferSize = 100000

// ErrOverflow matches every *OverflowError.
var ErrOverflow = errors.New("reactive: buffer overflow")

// OverflowError terminates a buffered subscription whose consumer fell more
// than Capacity elements behind its producer.
type OverflowError struct {
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("reactive: buffer overflow, consumer fell more than %d elements behind", e.Capacity)
}

// Is reports whether target is ErrOverflow.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}

// Buffer decouples the producer of pub from the downstream sink through a
// bounded queue of the given capacity. The producer never blocks: a value
// that does not fit terminates the subscription with an *OverflowError and
// cancels the producer. Queued values are discarded once the overflow is
// detected; the error reaches the consumer as soon as its current Next call
// returns.
//
// Delivery to the downstream sink starts after pub returns, on a dedicated
// goroutine.
func Buffer(pub Publisher, capacity int) Publisher {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return func(ctx context.Context, downstream Sink) {
		ctx, cancel := context.WithCancel(ctx)
		b := &buffer{
			items:    make(chan any, capacity),
			capacity: capacity,
			cancel:   cancel,
		}
		pub(ctx, b)
		go b.drain(downstream)
	}
}

type buffer struct {
	items    chan any
	capacity int
	cancel   context.CancelFunc

	err        error
	closed     bool
	overflowed atomic.Bool
	cancelled  atomic.Bool
}

// Next, Error and Complete run on the producer side only.
func (b *buffer) Next(value any) bool {
	if b.closed || b.cancelled.Load() {
		return false
	}
	select {
	case b.items <- value:
		return true
	default:
		b.err = &OverflowError{Capacity: b.capacity}
		b.overflowed.Store(true)
		b.close()
		b.cancel()
		return false
	}
}

func (b *buffer) Error(err error) {
	if b.closed {
		return
	}
	b.err = err
	b.close()
}

func (b *buffer) Complete() {
	if b.closed {
		return
	}
	b.close()
}

func (b *buffer) close() {
	b.closed = true
	close(b.items)
}

func (b *buffer) drain(downstream Sink) {
	defer b.cancel()

	for v := range b.items {
		if b.overflowed.Load() {
			break
		}
		if !downstream.Next(v) {
			b.cancelled.Store(true)
			return
		}
	}
	// items is closed here, or overflow was flagged before closing it;
	// either way err was written before the close.
	if b.overflowed.Load() {
		downstream.Error(b.err)
		return
	}
	if b.err != nil {
		downstream.Error(b.err)
		return
	}
	downstream.Complete()
}
