package dao

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/jizhuozhi/go-future"

	"github.com/gaborage/rxdao/database/statement"
	"github.com/gaborage/rxdao/reactive"
)

// errUnbound terminates subscriptions to zero-value channels.
var errUnbound = errors.New("dao: channel was not created by a DAO factory")

// Decorated is implemented by results carrying the StatementContext of the
// call that produced them.
type Decorated interface {
	Decoration() *StatementContext
}

// channel is implemented by *Flux[T] and *Mono[T]; dispatch binds the call's
// pipeline into a fresh value of the declared return type through it.
type channel interface {
	elemType() reflect.Type
	mode() statement.Mode
	bind(pub reactive.Publisher, sc *StatementContext)
}

var channelType = reflect.TypeFor[channel]()

// Observer receives the signals of one subscription, in order: any number
// of OnNext calls followed by at most one of OnError or OnComplete.
type Observer[T any] interface {
	OnNext(value T)
	OnError(err error)
	OnComplete()
}

// ObserverFuncs adapts plain functions to an Observer. Nil functions are ignored.
type ObserverFuncs[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// OnNext implements Observer.
func (o ObserverFuncs[T]) OnNext(v T) {
	if o.Next != nil {
		o.Next(v)
	}
}

// OnError implements Observer.
func (o ObserverFuncs[T]) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// OnComplete implements Observer.
func (o ObserverFuncs[T]) OnComplete() {
	if o.Complete != nil {
		o.Complete()
	}
}

// Subscription controls one running subscription.
type Subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error

	// release detaches the subscription from its parent context.
	mu      sync.Mutex
	release func() bool
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// Cancel stops delivery without notifying the observer. The statement still
// runs to the point where it observes the cancellation and its connection
// is released.
func (s *Subscription) Cancel() {
	s.finish(context.Canceled)
}

// Done is closed once the subscription terminated or was cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed: nil on completion,
// context.Canceled after Cancel.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		s.cancel()
		s.mu.Lock()
		release := s.release
		s.mu.Unlock()
		if release != nil {
			release()
		}
		close(s.done)
	})
}

type subscriptionKey struct{}

// SubscriptionID returns the id of the subscription running ctx, if any.
func SubscriptionID(ctx context.Context) string {
	id, _ := ctx.Value(subscriptionKey{}).(string)
	return id
}

func withSubscriptionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriptionKey{}, id)
}

// subscribe runs pub, converting values to T, and pushes its signals to o
// until a terminal signal, Cancel, or the end of parent. The end of parent
// reaches o as OnError with the context's error.
func subscribe[T any](parent context.Context, pub reactive.Publisher, o Observer[T]) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := newSubscription(cancel)
	ctx = withSubscriptionID(ctx, sub.id)

	sink := &observerSink[T]{observer: o, sub: sub}
	release := context.AfterFunc(parent, func() { sink.terminate(parent.Err()) })
	sub.mu.Lock()
	sub.release = release
	sub.mu.Unlock()
	if sub.finished() {
		release()
	}

	if pub == nil {
		pub = reactive.Fail(errUnbound)
	}
	pub(ctx, sink)
	return sub
}

// observerSink serializes the signals reaching an Observer.
type observerSink[T any] struct {
	mu       sync.Mutex
	observer Observer[T]
	sub      *Subscription
}

func (s *observerSink[T]) Next(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub.finished() {
		return false
	}
	value, err := cast[T](v)
	if err != nil {
		s.terminateLocked(err)
		return false
	}
	s.observer.OnNext(value)
	return true
}

func (s *observerSink[T]) Error(err error) {
	s.terminate(err)
}

func (s *observerSink[T]) Complete() {
	s.terminate(nil)
}

func (s *observerSink[T]) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateLocked(err)
}

func (s *observerSink[T]) terminateLocked(err error) {
	if s.sub.finished() {
		return
	}
	if err != nil {
		s.observer.OnError(err)
	} else {
		s.observer.OnComplete()
	}
	s.sub.finish(err)
}

// signal is one element of a pulled subscription.
type signal struct {
	value any
	err   error
	done  bool
}

// pull runs pub under a fresh subscription id and hands its signals to the
// returned sequence one at a time. The producer is cancelled when the
// consumer stops iterating.
func pull[T any](ctx context.Context, pub reactive.Publisher) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx, cancel := context.WithCancel(withSubscriptionID(ctx, uuid.NewString()))
		defer cancel()

		if pub == nil {
			pub = reactive.Fail(errUnbound)
		}
		signals := make(chan signal)
		send := func(s signal) bool {
			select {
			case signals <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		// Publishers may signal synchronously; the sends must not block this goroutine.
		go pub(ctx, reactive.SinkFuncs{
			OnNext:     func(v any) bool { return send(signal{value: v}) },
			OnError:    func(err error) { send(signal{err: err, done: true}) },
			OnComplete: func() { send(signal{done: true}) },
		})

		var zero T
		for {
			select {
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return
			case s := <-signals:
				if s.done {
					if s.err != nil {
						yield(zero, s.err)
					}
					return
				}
				value, err := cast[T](s.value)
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(value, nil) {
					return
				}
			}
		}
	}
}

func cast[T any](v any) (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	value, ok := v.(T)
	if !ok {
		return value, fmt.Errorf("dao: result value of type %T is not a %s", v, reflect.TypeFor[T]())
	}
	return value, nil
}

// Flux is the multi-value result of a DAO call. Nothing executes until it is
// subscribed; every subscription executes the statement again.
type Flux[T any] struct {
	pub reactive.Publisher
	sc  *StatementContext
}

func (Flux[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (Flux[T]) mode() statement.Mode   { return statement.Many }

func (f *Flux[T]) bind(pub reactive.Publisher, sc *StatementContext) {
	f.pub, f.sc = pub, sc
}

// Decoration returns the context of the call that produced f, or nil.
func (f Flux[T]) Decoration() *StatementContext {
	return f.sc
}

// Subscribe executes the statement and pushes its values to o.
func (f Flux[T]) Subscribe(ctx context.Context, o Observer[T]) *Subscription {
	return subscribe(ctx, f.pub, o)
}

// All executes the statement and yields its values in order. A failure is
// yielded once, with the zero value, as the last element.
func (f Flux[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return pull[T](ctx, f.pub)
}

// Collect executes the statement and returns every value.
func (f Flux[T]) Collect(ctx context.Context) ([]T, error) {
	var values []T
	for v, err := range f.All(ctx) {
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Mono is the single-value result of a DAO call. It completes with at most
// one value; a statement producing more fails with *statement.CardinalityError.
type Mono[T any] struct {
	pub reactive.Publisher
	sc  *StatementContext
}

func (Mono[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (Mono[T]) mode() statement.Mode   { return statement.One }

func (m *Mono[T]) bind(pub reactive.Publisher, sc *StatementContext) {
	m.pub, m.sc = pub, sc
}

// Decoration returns the context of the call that produced m, or nil.
func (m Mono[T]) Decoration() *StatementContext {
	return m.sc
}

// Subscribe executes the statement and pushes its value, if any, to o.
func (m Mono[T]) Subscribe(ctx context.Context, o Observer[T]) *Subscription {
	return subscribe(ctx, m.pub, o)
}

// Get executes the statement and waits for its result. The boolean reports
// whether a value was delivered.
func (m Mono[T]) Get(ctx context.Context) (T, bool, error) {
	var (
		value T
		found bool
	)
	for v, err := range pull[T](ctx, m.pub) {
		if err != nil {
			var zero T
			return zero, false, err
		}
		value, found = v, true
	}
	return value, found, nil
}

// Future executes the statement and resolves the returned future with its
// value, or with the zero value when the statement delivered none.
func (m Mono[T]) Future(ctx context.Context) *future.Future[T] {
	p := future.NewPromise[T]()
	var value T
	m.Subscribe(ctx, ObserverFuncs[T]{
		Next: func(v T) { value = v },
		Error: func(err error) {
			var zero T
			p.Set(zero, err)
		},
		Complete: func() { p.Set(value, nil) },
	})
	return p.Future()
}
