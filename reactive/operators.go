package reactive

import (
	"context"
	"sync/atomic"
	"time"
)

// MapError rewrites the terminal error of pub with fn.
func MapError(pub Publisher, fn func(error) error) Publisher {
	return func(ctx context.Context, downstream Sink) {
		pub(ctx, SinkFuncs{
			OnNext:     downstream.Next,
			OnError:    func(err error) { downstream.Error(fn(err)) },
			OnComplete: downstream.Complete,
		})
	}
}

// Map rewrites every value of pub with fn. An error returned by fn
// terminates the stream in place of the producer's own terminal signal.
func Map(pub Publisher, fn func(any) (any, error)) Publisher {
	return func(ctx context.Context, downstream Sink) {
		var failed atomic.Bool
		pub(ctx, SinkFuncs{
			OnNext: func(v any) bool {
				if failed.Load() {
					return false
				}
				mapped, err := fn(v)
				if err != nil {
					failed.Store(true)
					downstream.Error(err)
					return false
				}
				return downstream.Next(mapped)
			},
			OnError: func(err error) {
				if !failed.Load() {
					downstream.Error(err)
				}
			},
			OnComplete: func() {
				if !failed.Load() {
					downstream.Complete()
				}
			},
		})
	}
}

// Take forwards at most n values of pub and then completes, cancelling the
// producer. When a value beyond the n-th arrives, onExceeded is called before
// completion. A negative n forwards everything.
func Take(pub Publisher, n int, onExceeded func()) Publisher {
	if n < 0 {
		return pub
	}
	return func(ctx context.Context, downstream Sink) {
		ctx, cancel := context.WithCancel(ctx)
		t := &take{downstream: Guard(downstream), remaining: n, onExceeded: onExceeded, cancel: cancel}
		pub(ctx, t)
	}
}

type take struct {
	downstream Sink
	remaining  int
	onExceeded func()
	cancel     context.CancelFunc
}

func (t *take) Next(value any) bool {
	if t.remaining == 0 {
		if t.onExceeded != nil {
			t.onExceeded()
		}
		t.Complete()
		return false
	}
	t.remaining--
	return t.downstream.Next(value)
}

func (t *take) Error(err error) {
	t.downstream.Error(err)
	t.cancel()
}

func (t *take) Complete() {
	t.downstream.Complete()
	t.cancel()
}

// Measure reports the time between subscription to pub and its terminal
// signal. onDone receives the elapsed time and the terminal error, nil on
// completion, before the signal is forwarded.
func Measure(pub Publisher, onDone func(elapsed time.Duration, err error)) Publisher {
	return func(ctx context.Context, downstream Sink) {
		start := time.Now()
		pub(ctx, SinkFuncs{
			OnNext: downstream.Next,
			OnError: func(err error) {
				onDone(time.Since(start), err)
				downstream.Error(err)
			},
			OnComplete: func() {
				onDone(time.Since(start), nil)
				downstream.Complete()
			},
		})
	}
}
