// Package reactive implements the push-based result channel shared by every
// statement execution: a Publisher emits values into a Sink and finishes with
// exactly one terminal signal. Operators in this package wrap publishers with
// backpressure buffering, limits, timing and error mapping.
package reactive

import (
	"context"
	"sync/atomic"
)

// Sink receives the signals of one subscription.
//
// Signals are serialized: a publisher never calls a sink concurrently. Next
// returns false when the subscriber wants no more values; the publisher must
// then stop producing and release its resources. A terminal signal (Error or
// Complete) ends the subscription.
type Sink interface {
	Next(value any) bool
	Error(err error)
	Complete()
}

// Publisher starts producing into sink when called. It may return before the
// terminal signal is delivered, in which case production continues on another
// goroutine. Cancelling ctx asks the publisher to stop early.
type Publisher func(ctx context.Context, sink Sink)

// Just emits values in order and completes.
func Just(values ...any) Publisher {
	return func(ctx context.Context, sink Sink) {
		for _, v := range values {
			if ctx.Err() != nil {
				sink.Error(ctx.Err())
				return
			}
			if !sink.Next(v) {
				return
			}
		}
		sink.Complete()
	}
}

// Empty completes without emitting.
func Empty() Publisher {
	return func(_ context.Context, sink Sink) {
		sink.Complete()
	}
}

// Fail terminates with err without emitting.
func Fail(err error) Publisher {
	return func(_ context.Context, sink Sink) {
		sink.Error(err)
	}
}

// Guard returns a sink that forwards at most one terminal signal and drops
// values arriving after it.
func Guard(sink Sink) Sink {
	if g, ok := sink.(*guard); ok {
		return g
	}
	return &guard{downstream: sink}
}

type guard struct {
	downstream Sink
	done       atomic.Bool
}

func (g *guard) Next(value any) bool {
	if g.done.Load() {
		return false
	}
	if !g.downstream.Next(value) {
		g.done.Store(true)
		return false
	}
	return true
}

func (g *guard) Error(err error) {
	if g.done.CompareAndSwap(false, true) {
		g.downstream.Error(err)
	}
}

func (g *guard) Complete() {
	if g.done.CompareAndSwap(false, true) {
		g.downstream.Complete()
	}
}

// SinkFuncs adapts plain functions to a Sink. Nil functions are ignored; a
// nil OnNext accepts every value.
type SinkFuncs struct {
	OnNext     func(value any) bool
	OnError    func(err error)
	OnComplete func()
}

// Next implements Sink.
func (f SinkFuncs) Next(value any) bool {
	if f.OnNext == nil {
		return true
	}
	return f.OnNext(value)
}

// Error implements Sink.
func (f SinkFuncs) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Complete implements Sink.
func (f SinkFuncs) Complete() {
	if f.OnComplete != nil {
		f.OnComplete()
	}
}
